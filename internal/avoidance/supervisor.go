// Package avoidance implements the obstacle supervisor: a short,
// sequential maneuver that takes the vehicle around an object detected by
// the distance sensor and back onto its line.
package avoidance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/gridrover/internal/monitoring"
	"github.com/banshee-data/gridrover/internal/sensors"
	"github.com/banshee-data/gridrover/internal/timeutil"
)

var avoidLog = monitoring.Component("avoidance")

// ErrManeuverStalled is returned when a poll loop exhausts MaxPolls without
// the distance clearing.
var ErrManeuverStalled = errors.New("avoidance maneuver stalled")

// Vehicle is the subset of motorlink.Car the maneuver drives.
type Vehicle interface {
	Stop() error
	Drive(left, right int16) error
	RotateLeft(speed int16) error
	RotateRight(speed int16) error
	MoveCounts(left, right int32) error
	PointSensor(angle int16) error
	ClearEmergencyStop() error
}

// Cause says what started a maneuver.
type Cause int

const (
	// CauseRange is a host-side distance reading below the threshold.
	CauseRange Cause = iota
	// CausePeripheral is an obstacle reported by the motor controller,
	// which also latches its emergency stop.
	CausePeripheral
)

func (c Cause) String() string {
	if c == CausePeripheral {
		return "peripheral"
	}
	return "range"
}

// Phase is the step of the maneuver currently executing.
type Phase int

const (
	Idle Phase = iota
	Stopping
	RotatingAway
	Advancing
	RotatingBack
	Resuming
)

var phaseNames = [...]string{
	Idle:         "idle",
	Stopping:     "stopping",
	RotatingAway: "rotating_away",
	Advancing:    "advancing",
	RotatingBack: "rotating_back",
	Resuming:     "resuming",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Config holds the maneuver parameters.
type Config struct {
	StopThresholdCm   float64
	ClearanceMarginCm float64
	RotateSpeed       int16
	AdvanceSpeed      int16
	AdvanceDuration   time.Duration
	// AdvanceCounts, when non-zero, advances by encoder counts instead of
	// driving for AdvanceDuration.
	AdvanceCounts int32
	SensorForward int16
	// SensorSide points the sensor at the obstacle after rotating away.
	SensorSide   int16
	PollInterval time.Duration
	MaxPolls     int
	// FailClosed treats a sensor timeout as an obstacle.
	FailClosed bool
}

// DefaultConfig returns the stock maneuver parameters.
func DefaultConfig() Config {
	return Config{
		StopThresholdCm:   37,
		ClearanceMarginCm: 2,
		RotateSpeed:       200,
		AdvanceSpeed:      200,
		AdvanceDuration:   time.Second,
		SensorForward:     90,
		SensorSide:        180,
		PollInterval:      50 * time.Millisecond,
		MaxPolls:          200,
	}
}

// Supervisor decides when to avoid and runs the maneuver.
type Supervisor struct {
	v     Vehicle
	rf    sensors.RangeFinder
	cfg   Config
	clock timeutil.Clock

	mu      sync.Mutex
	phase   Phase
	entries int
}

// New returns a Supervisor. rf is polled during the maneuver and is
// normally the same sensor the executor reads each cycle.
func New(v Vehicle, rf sensors.RangeFinder, cfg Config, clock timeutil.Clock) *Supervisor {
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = DefaultConfig().MaxPolls
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Supervisor{v: v, rf: rf, cfg: cfg, clock: clock}
}

// Config returns the maneuver parameters.
func (s *Supervisor) Config() Config { return s.cfg }

// Triggered reports whether r calls for a maneuver.
func (s *Supervisor) Triggered(r sensors.Reading) bool {
	if !r.OK {
		return s.cfg.FailClosed
	}
	return r.Cm < s.cfg.StopThresholdCm
}

// Entries returns how many maneuvers have been started.
func (s *Supervisor) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries
}

// Phase returns the step in progress, Idle between maneuvers.
func (s *Supervisor) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Supervisor) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
	avoidLog.Tracef("phase %s", p)
}

// Avoid runs the whole maneuver. On error the vehicle has been asked to
// stop and the phase is reset to Idle.
func (s *Supervisor) Avoid(ctx context.Context, cause Cause) (err error) {
	s.mu.Lock()
	s.entries++
	n := s.entries
	s.mu.Unlock()
	avoidLog.Diagf("maneuver %d started (%s)", n, cause)

	defer func() {
		if err != nil {
			if stopErr := s.v.Stop(); stopErr != nil {
				avoidLog.Opsf("stop after failed maneuver: %v", stopErr)
			}
			avoidLog.Opsf("maneuver %d aborted in %s: %v", n, s.Phase(), err)
		} else {
			avoidLog.Diagf("maneuver %d complete", n)
		}
		s.setPhase(Idle)
	}()

	s.setPhase(Stopping)
	if err := s.v.Stop(); err != nil {
		return err
	}
	if cause == CausePeripheral {
		if err := s.v.ClearEmergencyStop(); err != nil {
			return err
		}
	}

	s.setPhase(RotatingAway)
	limit := s.cfg.StopThresholdCm + s.cfg.ClearanceMarginCm
	if err := s.rotateUntilClear(ctx, s.v.RotateRight, limit); err != nil {
		return err
	}

	s.setPhase(Advancing)
	if err := s.advance(ctx); err != nil {
		return err
	}

	s.setPhase(RotatingBack)
	if err := s.v.PointSensor(s.cfg.SensorSide); err != nil {
		return err
	}
	if err := s.rotateUntilClear(ctx, s.v.RotateLeft, s.cfg.StopThresholdCm); err != nil {
		return err
	}

	s.setPhase(Resuming)
	return s.v.PointSensor(s.cfg.SensorForward)
}

func (s *Supervisor) advance(ctx context.Context) error {
	if s.cfg.AdvanceCounts != 0 {
		return s.v.MoveCounts(s.cfg.AdvanceCounts, s.cfg.AdvanceCounts)
	}
	if err := s.v.Drive(s.cfg.AdvanceSpeed, s.cfg.AdvanceSpeed); err != nil {
		return err
	}
	if err := timeutil.SleepContext(ctx, s.clock, s.cfg.AdvanceDuration); err != nil {
		return err
	}
	return s.v.Stop()
}

// rotateUntilClear starts rotating and polls the sensor until it reads
// beyond limit, then stops.
func (s *Supervisor) rotateUntilClear(ctx context.Context, rotate func(int16) error, limit float64) error {
	if err := rotate(s.cfg.RotateSpeed); err != nil {
		return err
	}
	for i := 0; i < s.cfg.MaxPolls; i++ {
		r, err := s.rf.Distance(ctx)
		if err != nil {
			return err
		}
		avoidLog.Tracef("poll %d: %s", i, r)
		if s.clear(r, limit) {
			return s.v.Stop()
		}
		if err := timeutil.SleepContext(ctx, s.clock, s.cfg.PollInterval); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: no clearance beyond %.0fcm after %d polls", ErrManeuverStalled, limit, s.cfg.MaxPolls)
}

func (s *Supervisor) clear(r sensors.Reading, limit float64) bool {
	if !r.OK {
		return !s.cfg.FailClosed
	}
	return r.Cm > limit
}
