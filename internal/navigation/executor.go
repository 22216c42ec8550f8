// Package navigation runs a planned itinerary on the vehicle: it follows the
// line between intersections, counts intersections with a debounce, issues
// the next turn at each one and hands over to the obstacle supervisor when
// something blocks the way.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/gridrover/internal/avoidance"
	"github.com/banshee-data/gridrover/internal/monitoring"
	"github.com/banshee-data/gridrover/internal/motorlink"
	"github.com/banshee-data/gridrover/internal/pid"
	"github.com/banshee-data/gridrover/internal/planner"
	"github.com/banshee-data/gridrover/internal/sensors"
	"github.com/banshee-data/gridrover/internal/timeutil"
)

var navLog = monitoring.Component("navigation")

// DefaultDebounceFrames is how many consecutive frames without the
// intersection signal mark an intersection as passed.
const DefaultDebounceFrames = 2

// Driver is the subset of motorlink.Car the executor commands.
type Driver interface {
	Stop() error
	Drive(left, right int16) error
	ExecuteTurn(ctx context.Context, t planner.Turn) error
	ClearEmergencyStop() error
}

// Phase is the executor's position in the mission.
type Phase int

const (
	PreRolling Phase = iota + 1
	Orienting
	Tracking
	Turning
	Avoiding
	Finishing
	Done
)

var phaseNames = [...]string{
	PreRolling: "pre_rolling",
	Orienting:  "orienting",
	Tracking:   "tracking",
	Turning:    "turning",
	Avoiding:   "avoiding",
	Finishing:  "finishing",
	Done:       "done",
}

func (p Phase) String() string {
	if p < PreRolling || p > Done {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// State is a snapshot of the executor.
type State struct {
	Phase Phase `json:"phase"`
	// Index is the position in the itinerary of the turn last issued.
	Index int `json:"index"`
	// IntersectionSeen is set while an intersection is under the vehicle.
	IntersectionSeen bool `json:"intersection_seen"`
	// FramesWithout counts frames without the signal since it was seen.
	FramesWithout int `json:"frames_without"`
	Intersections int `json:"intersections"`
	Avoidances    int `json:"avoidances"`
	Cycles        int `json:"cycles"`
}

// Config holds executor tuning.
type Config struct {
	DebounceFrames int
	// ApproachDuration is how long the vehicle drives after the final
	// correction turn before stopping mid-segment.
	ApproachDuration time.Duration
}

// DefaultConfig returns the stock executor tuning.
func DefaultConfig() Config {
	return Config{
		DebounceFrames:   DefaultDebounceFrames,
		ApproachDuration: time.Second,
	}
}

// Executor is the navigation state machine. It is driven one Step per
// vision frame.
type Executor struct {
	plan       planner.Plan
	car        Driver
	vision     sensors.Vision
	rf         sensors.RangeFinder
	supervisor *avoidance.Supervisor
	pid        *pid.Controller
	clock      timeutil.Clock
	cfg        Config
	sink       EventSink

	preRollIssued bool
	lastTick      time.Time

	mu      sync.Mutex
	state   State
	offsets []float64
}

// Options carries the optional collaborators of an Executor.
type Options struct {
	// Range and Supervisor enable obstacle avoidance when both are set.
	Range      sensors.RangeFinder
	Supervisor *avoidance.Supervisor
	Gains      pid.Gains
	Config     Config
	Clock      timeutil.Clock
	Sink       EventSink
}

// NewExecutor prepares an executor for plan. Zero-valued options select the
// defaults.
func NewExecutor(plan planner.Plan, car Driver, vision sensors.Vision, opts Options) *Executor {
	if opts.Gains == (pid.Gains{}) {
		opts.Gains = pid.DefaultGains()
	}
	if opts.Config.DebounceFrames <= 0 {
		opts.Config.DebounceFrames = DefaultDebounceFrames
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	e := &Executor{
		plan:       plan,
		car:        car,
		vision:     vision,
		rf:         opts.Range,
		supervisor: opts.Supervisor,
		pid:        pid.NewController(opts.Gains),
		clock:      opts.Clock,
		cfg:        opts.Config,
		sink:       opts.Sink,
	}
	e.state.Phase = Orienting
	if plan.HasPreRoll() {
		e.state.Phase = PreRolling
	}
	return e
}

// State returns a snapshot of the executor state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Offsets returns every line offset fed to the controller so far.
func (e *Executor) Offsets() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]float64(nil), e.offsets...)
}

// Done reports whether the mission has finished.
func (e *Executor) Done() bool {
	return e.State().Phase == Done
}

func (e *Executor) update(f func(*State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f(&e.state)
}

func (e *Executor) setPhase(p Phase) {
	e.update(func(s *State) { s.Phase = p })
	e.emit(Event{Kind: EventPhase, Phase: p})
}

// Run steps the executor until the mission is done, an error occurs or ctx
// is cancelled. The vehicle is stopped on every exit path except success,
// where the final step already stopped it.
func (e *Executor) Run(ctx context.Context) error {
	for !e.Done() {
		if err := ctx.Err(); err != nil {
			e.halt()
			return err
		}
		if err := e.Step(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
	}
	return nil
}

// Step runs one control cycle. On error the vehicle has been stopped.
func (e *Executor) Step(ctx context.Context) error {
	err := e.step(ctx)
	if err != nil {
		navLog.Opsf("stopping after error in %s: %v", e.State().Phase, err)
		e.halt()
	}
	return err
}

func (e *Executor) halt() {
	if err := e.car.Stop(); err != nil {
		navLog.Opsf("stop failed: %v", err)
	}
}

func (e *Executor) step(ctx context.Context) error {
	switch e.State().Phase {
	case PreRolling:
		if !e.preRollIssued {
			e.preRollIssued = true
			return e.turn(ctx, -1, e.plan.PreRoll, PreRolling)
		}
		return e.track(ctx)
	case Orienting:
		if len(e.plan.Itinerary) == 0 {
			navLog.Opsf("empty itinerary, nothing to drive")
			return e.arrive()
		}
		return e.turn(ctx, 0, e.plan.Itinerary[0], Tracking)
	case Tracking:
		return e.track(ctx)
	case Finishing:
		return e.finish(ctx)
	case Done:
		return nil
	}
	return fmt.Errorf("cannot step in phase %s", e.State().Phase)
}

// turn issues t and moves to next. index is -1 for the pre-roll.
func (e *Executor) turn(ctx context.Context, index int, t planner.Turn, next Phase) error {
	prev := e.State().Phase
	if prev != PreRolling {
		e.setPhase(Turning)
	}
	navLog.Diagf("turn %d: %s", index, t)
	e.emit(Event{Kind: EventTurn, Index: index, Turn: t})
	if err := e.car.ExecuteTurn(ctx, t); err != nil {
		if motorlink.IsObstacle(err) {
			navLog.Opsf("turn %d (%s) refused: %v", index, t, err)
		}
		return fmt.Errorf("turn %d (%s): %w", index, t, err)
	}
	if index >= 0 {
		e.update(func(s *State) { s.Index = index })
	}
	if e.State().Phase != next {
		e.setPhase(next)
	}
	e.lastTick = e.clock.Now()
	return nil
}

// track is one line-following cycle.
func (e *Executor) track(ctx context.Context) error {
	frame, err := e.vision.Next(ctx)
	if err != nil {
		return fmt.Errorf("reading vision frame: %w", err)
	}
	e.update(func(s *State) { s.Cycles++ })

	if e.rf != nil && e.supervisor != nil {
		r, err := e.rf.Distance(ctx)
		if err != nil {
			if motorlink.IsObstacle(err) {
				return e.avoid(ctx, avoidance.CausePeripheral, err.Error())
			}
			return fmt.Errorf("reading distance: %w", err)
		}
		if e.supervisor.Triggered(r) {
			return e.avoid(ctx, avoidance.CauseRange, r.String())
		}
	}

	if e.debounce(frame.Intersection) {
		return e.passed(ctx)
	}

	now := e.clock.Now()
	var dt time.Duration
	if !e.lastTick.IsZero() {
		dt = now.Sub(e.lastTick)
	}
	e.lastTick = now

	left, right := e.pid.Update(dt, frame.Offset)
	e.mu.Lock()
	e.offsets = append(e.offsets, frame.Offset)
	e.mu.Unlock()

	err = e.car.Drive(int16(math.Round(left)), int16(math.Round(right)))
	if err != nil && motorlink.IsObstacle(err) && e.supervisor != nil {
		return e.avoid(ctx, avoidance.CausePeripheral, err.Error())
	}
	return err
}

// debounce feeds one intersection signal and reports whether an
// intersection has just been passed.
func (e *Executor) debounce(signal bool) bool {
	var passed bool
	e.update(func(s *State) {
		switch {
		case signal:
			s.IntersectionSeen = true
			s.FramesWithout = 0
		case s.IntersectionSeen:
			s.FramesWithout++
			if s.FramesWithout >= e.cfg.DebounceFrames {
				s.IntersectionSeen = false
				s.FramesWithout = 0
				s.Intersections++
				passed = true
			}
		}
	})
	navLog.Tracef("intersection=%t state=%+v", signal, e.State())
	return passed
}

// passed handles a debounced intersection.
func (e *Executor) passed(ctx context.Context) error {
	st := e.State()
	e.emit(Event{Kind: EventIntersection, Index: st.Intersections})

	if st.Phase == PreRolling {
		navLog.Diagf("reached start node")
		if err := e.car.Stop(); err != nil {
			return err
		}
		if err := e.car.ClearEmergencyStop(); err != nil {
			return err
		}
		e.setPhase(Orienting)
		return nil
	}

	index := st.Index + 1
	e.update(func(s *State) { s.Index = index })
	if index >= len(e.plan.Itinerary) {
		return e.arrive()
	}
	return e.turn(ctx, index, e.plan.Itinerary[index], Tracking)
}

// arrive stops at the last node.
func (e *Executor) arrive() error {
	if err := e.car.Stop(); err != nil {
		return err
	}
	if e.plan.HasFinal() && !e.plan.Unreachable {
		e.setPhase(Finishing)
		return nil
	}
	navLog.Opsf("mission complete")
	e.setPhase(Done)
	return nil
}

// finish executes the trailing correction onto a mid-segment end.
func (e *Executor) finish(ctx context.Context) error {
	if err := e.turn(ctx, -1, e.plan.Final, Finishing); err != nil {
		return err
	}
	if err := timeutil.SleepContext(ctx, e.clock, e.cfg.ApproachDuration); err != nil {
		return err
	}
	if err := e.car.Stop(); err != nil {
		return err
	}
	navLog.Opsf("mission complete")
	e.setPhase(Done)
	return nil
}

func (e *Executor) avoid(ctx context.Context, cause avoidance.Cause, detail string) error {
	resume := e.State().Phase
	e.setPhase(Avoiding)
	e.update(func(s *State) { s.Avoidances++ })
	e.emit(Event{Kind: EventAvoidance, Detail: fmt.Sprintf("%s: %s", cause, detail)})
	navLog.Diagf("avoiding obstacle (%s: %s)", cause, detail)

	if err := e.supervisor.Avoid(ctx, cause); err != nil {
		return fmt.Errorf("avoiding obstacle: %w", err)
	}
	e.setPhase(resume)
	e.lastTick = e.clock.Now()
	return nil
}

func (e *Executor) emit(ev Event) {
	if e.sink == nil {
		return
	}
	ev.At = e.clock.Now()
	if err := e.sink.Record(ev); err != nil && !errors.Is(err, context.Canceled) {
		navLog.Diagf("recording %s event: %v", ev.Kind, err)
	}
}
