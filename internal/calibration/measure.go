package calibration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/gridrover/internal/sensors"
	"github.com/banshee-data/gridrover/internal/timeutil"
)

// ErrNotReacquired is returned when the intersection was not seen again
// within MaxFrames.
var ErrNotReacquired = errors.New("intersection not reacquired")

// Rotator is the part of motorlink.Car used while measuring.
type Rotator interface {
	RotateRight(speed int16) error
	Stop() error
}

// MeasureOptions tunes MeasureTurn.
type MeasureOptions struct {
	Speed          int16
	DebounceFrames int
	MaxFrames      int
}

// DefaultMeasureOptions matches the navigation defaults.
func DefaultMeasureOptions() MeasureOptions {
	return MeasureOptions{Speed: 250, DebounceFrames: 2, MaxFrames: 2000}
}

// Measurement is the outcome of one timing run.
type Measurement struct {
	// QuarterTurn is the time between starting the rotation and seeing the
	// next intersection arm.
	QuarterTurn time.Duration
	Frames      int
}

// Calibration converts the quarter-turn time to a full-rotation constant.
func (m Measurement) Calibration() Calibration {
	return Calibration{TurnDuration: 4 * m.QuarterTurn}
}

// MeasureTurn rotates right from an intersection until the intersection is
// lost for DebounceFrames consecutive frames and then seen again, and
// returns the elapsed time. The vehicle is stopped on every exit path.
func MeasureTurn(ctx context.Context, car Rotator, vision sensors.Vision, clock timeutil.Clock, opts MeasureOptions) (m Measurement, err error) {
	def := DefaultMeasureOptions()
	if opts.Speed == 0 {
		opts.Speed = def.Speed
	}
	if opts.DebounceFrames <= 0 {
		opts.DebounceFrames = def.DebounceFrames
	}
	if opts.MaxFrames <= 0 {
		opts.MaxFrames = def.MaxFrames
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	if err := car.RotateRight(opts.Speed); err != nil {
		return Measurement{}, fmt.Errorf("start rotation: %w", err)
	}
	defer func() {
		if stopErr := car.Stop(); stopErr != nil && err == nil {
			err = fmt.Errorf("stop: %w", stopErr)
		}
	}()

	start := clock.Now()
	seen, lost := false, false
	without := 0
	for m.Frames < opts.MaxFrames {
		f, err := vision.Next(ctx)
		if err != nil {
			return m, err
		}
		m.Frames++
		switch {
		case f.Intersection && lost:
			m.QuarterTurn = clock.Since(start)
			calLog.Diagf("intersection reacquired after %s (%d frames)", m.QuarterTurn, m.Frames)
			return m, nil
		case f.Intersection:
			seen = true
			without = 0
		case seen:
			without++
			calLog.Tracef("frames without intersection: %d", without)
			if without >= opts.DebounceFrames {
				seen = false
				lost = true
				calLog.Diagf("intersection lost after %d frames", m.Frames)
			}
		}
	}
	return m, fmt.Errorf("%w after %d frames", ErrNotReacquired, m.Frames)
}
