package navigation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gridrover/internal/avoidance"
	"github.com/banshee-data/gridrover/internal/motorlink"
	"github.com/banshee-data/gridrover/internal/planner"
	"github.com/banshee-data/gridrover/internal/sensors"
	"github.com/banshee-data/gridrover/internal/timeutil"
)

// fakeCar records every command. It serves both as the executor's Driver
// and the supervisor's Vehicle.
type fakeCar struct {
	calls    []string
	turns    []planner.Turn
	turnErr  error
	driveErr error
}

func (f *fakeCar) Stop() error { f.calls = append(f.calls, "stop"); return nil }

func (f *fakeCar) Drive(l, r int16) error {
	f.calls = append(f.calls, fmt.Sprintf("drive %d %d", l, r))
	if err := f.driveErr; err != nil {
		f.driveErr = nil
		return err
	}
	return nil
}

func (f *fakeCar) ExecuteTurn(_ context.Context, t planner.Turn) error {
	f.calls = append(f.calls, "turn "+t.String())
	f.turns = append(f.turns, t)
	return f.turnErr
}

func (f *fakeCar) ClearEmergencyStop() error {
	f.calls = append(f.calls, "clear-estop")
	return nil
}

func (f *fakeCar) RotateLeft(s int16) error {
	f.calls = append(f.calls, fmt.Sprintf("rotate-left %d", s))
	return nil
}

func (f *fakeCar) RotateRight(s int16) error {
	f.calls = append(f.calls, fmt.Sprintf("rotate-right %d", s))
	return nil
}

func (f *fakeCar) MoveCounts(l, r int32) error {
	f.calls = append(f.calls, fmt.Sprintf("move %d %d", l, r))
	return nil
}

func (f *fakeCar) PointSensor(a int16) error {
	f.calls = append(f.calls, fmt.Sprintf("sensor %d", a))
	return nil
}

func (f *fakeCar) last() string { return f.calls[len(f.calls)-1] }

func testClock() *timeutil.MockClock {
	return timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
}

func stepN(t *testing.T, e *Executor, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, e.Step(context.Background()))
	}
}

func TestDebounce_SingleDropDoesNotAdvance(t *testing.T) {
	car := &fakeCar{}
	plan := planner.Plan{Itinerary: planner.Itinerary{planner.Straight, planner.TurnLeft}}
	vision := sensors.NewScriptedVision(sensors.IntersectionPattern(true, false, true)...)
	e := NewExecutor(plan, car, vision, Options{Clock: testClock()})

	stepN(t, e, 4)

	st := e.State()
	assert.Equal(t, Tracking, st.Phase)
	assert.Equal(t, 0, st.Index)
	assert.Equal(t, 0, st.Intersections)
	assert.True(t, st.IntersectionSeen)
	assert.Zero(t, st.FramesWithout, "a fresh signal resets the count")
	assert.Equal(t, []planner.Turn{planner.Straight}, car.turns)
}

func TestDebounce_TwoDropsAdvanceOnce(t *testing.T) {
	car := &fakeCar{}
	plan := planner.Plan{Itinerary: planner.Itinerary{planner.Straight, planner.TurnLeft, planner.Straight}}
	vision := sensors.NewScriptedVision(sensors.IntersectionPattern(true, false, false, false, false)...)
	e := NewExecutor(plan, car, vision, Options{Clock: testClock()})

	stepN(t, e, 6)

	st := e.State()
	assert.Equal(t, 1, st.Index)
	assert.Equal(t, 1, st.Intersections)
	assert.False(t, st.IntersectionSeen)
	assert.Equal(t, []planner.Turn{planner.Straight, planner.TurnLeft}, car.turns)
}

func TestDebounce_ConfigurableThreshold(t *testing.T) {
	car := &fakeCar{}
	plan := planner.Plan{Itinerary: planner.Itinerary{planner.Straight, planner.Straight}}
	vision := sensors.NewScriptedVision(sensors.IntersectionPattern(true, false, false)...)
	e := NewExecutor(plan, car, vision, Options{Clock: testClock(), Config: Config{DebounceFrames: 3}})

	stepN(t, e, 4)
	assert.Equal(t, 0, e.State().Intersections)
}

func TestTracking_AppliesControllerOutput(t *testing.T) {
	car := &fakeCar{}
	plan := planner.Plan{Itinerary: planner.Itinerary{planner.Straight}}
	vision := sensors.NewScriptedVision(sensors.Frame{Offset: 0}, sensors.Frame{Offset: 10})
	e := NewExecutor(plan, car, vision, Options{Clock: testClock()})

	stepN(t, e, 3)

	// base speed saturates the faster wheel; a line to the left slows the
	// left wheel
	assert.Equal(t, []string{"turn straight", "drive 255 255", "drive 225 255"}, car.calls)
	assert.Equal(t, []float64{0, 10}, e.Offsets())
}

func TestRun_CompletesItinerary(t *testing.T) {
	car := &fakeCar{}
	it := planner.Itinerary{planner.TurnRight, planner.Straight, planner.TurnLeft}
	var frames []sensors.Frame
	for range it {
		frames = append(frames, sensors.IntersectionPattern(false, true, false, false)...)
	}
	sink := &MemorySink{}
	e := NewExecutor(planner.Plan{Itinerary: it}, car, sensors.NewScriptedVision(frames...), Options{Clock: testClock(), Sink: sink})

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, Done, e.State().Phase)
	assert.Equal(t, []planner.Turn(it), car.turns)
	assert.Equal(t, "stop", car.last())
	assert.Equal(t, []planner.Turn(it), sink.Turns())
	assert.Len(t, sink.Events(EventIntersection), 3)
}

func TestRun_EmptyItinerary(t *testing.T) {
	car := &fakeCar{}
	e := NewExecutor(planner.Plan{}, car, sensors.NewScriptedVision(), Options{Clock: testClock()})

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, []string{"stop"}, car.calls)
	assert.True(t, e.Done())
}

func TestRun_UnreachableSkipsFinalCorrection(t *testing.T) {
	car := &fakeCar{}
	plan := planner.Plan{Unreachable: true, Final: planner.TurnRight}
	e := NewExecutor(plan, car, sensors.NewScriptedVision(), Options{Clock: testClock()})

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, []string{"stop"}, car.calls)
}

func TestRun_PreRollAndFinal(t *testing.T) {
	car := &fakeCar{}
	clock := testClock()
	plan := planner.Plan{
		PreRoll:   planner.Straight,
		Itinerary: planner.Itinerary{planner.TurnLeft},
		Final:     planner.TurnRight,
	}
	frames := sensors.IntersectionPattern(true, false, false, true, false, false)
	e := NewExecutor(plan, car, sensors.NewScriptedVision(frames...), Options{
		Clock:  clock,
		Config: Config{ApproachDuration: 500 * time.Millisecond},
	})
	assert.Equal(t, PreRolling, e.State().Phase)

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, []planner.Turn{planner.Straight, planner.TurnLeft, planner.TurnRight}, car.turns)
	assert.Equal(t, []string{
		"turn straight",
		"drive 255 255",
		"drive 255 255",
		"stop",
		"clear-estop",
		"turn left",
		"drive 255 255",
		"drive 255 255",
		"stop",
		"turn right",
		"stop",
	}, car.calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, clock.Sleeps())
}

func TestRun_FinalFromStartNode(t *testing.T) {
	car := &fakeCar{}
	plan := planner.Plan{Final: planner.TurnLeft}
	e := NewExecutor(plan, car, sensors.NewScriptedVision(), Options{Clock: testClock()})

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, []string{"stop", "turn left", "stop"}, car.calls)
}

func TestRun_TurnObstacleHaltsAndReraises(t *testing.T) {
	car := &fakeCar{turnErr: &motorlink.ObstacleError{Line: "OB"}}
	plan := planner.Plan{Itinerary: planner.Itinerary{planner.TurnRight}}
	sup := avoidance.New(car, sensors.NewScriptedRange(), avoidance.DefaultConfig(), testClock())
	e := NewExecutor(plan, car, sensors.NewScriptedVision(), Options{Clock: testClock(), Supervisor: sup})

	err := e.Run(context.Background())
	require.Error(t, err)
	var oe *motorlink.ObstacleError
	assert.True(t, errors.As(err, &oe))
	assert.Equal(t, "stop", car.last())
	assert.Zero(t, sup.Entries(), "blocked turns are not retried through the supervisor")
	assert.Equal(t, Turning, e.State().Phase)
}

func TestRun_TurnTransportErrorHalts(t *testing.T) {
	car := &fakeCar{turnErr: motorlink.ErrAckTimeout}
	plan := planner.Plan{Itinerary: planner.Itinerary{planner.Straight}}
	e := NewExecutor(plan, car, sensors.NewScriptedVision(), Options{Clock: testClock()})

	err := e.Run(context.Background())
	assert.ErrorIs(t, err, motorlink.ErrAckTimeout)
	assert.Equal(t, "stop", car.last())
}

func TestRun_VisionExhaustedStops(t *testing.T) {
	car := &fakeCar{}
	plan := planner.Plan{Itinerary: planner.Itinerary{planner.Straight}}
	e := NewExecutor(plan, car, sensors.NewScriptedVision(sensors.Frame{}), Options{Clock: testClock()})

	err := e.Run(context.Background())
	assert.ErrorIs(t, err, sensors.ErrScriptExhausted)
	assert.Equal(t, "stop", car.last())
}

func TestRun_ContextCancelled(t *testing.T) {
	car := &fakeCar{}
	plan := planner.Plan{Itinerary: planner.Itinerary{planner.Straight}}
	e := NewExecutor(plan, car, sensors.NewScriptedVision(sensors.Frame{}), Options{Clock: testClock()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, e.Run(ctx), context.Canceled)
	assert.Equal(t, []string{"stop"}, car.calls)
}

func TestRun_ObstacleScenarioEntersAvoidanceOnce(t *testing.T) {
	car := &fakeCar{}
	clock := testClock()
	rf := sensors.NewScriptedRange(50, 50, 20, 20, 40, 40)
	sup := avoidance.New(car, rf, avoidance.DefaultConfig(), clock)
	plan := planner.Plan{Itinerary: planner.Itinerary{planner.Straight}}
	frames := sensors.IntersectionPattern(false, false, false, false, true, false, false)
	sink := &MemorySink{}
	e := NewExecutor(plan, car, sensors.NewScriptedVision(frames...), Options{
		Range:      rf,
		Supervisor: sup,
		Clock:      clock,
		Sink:       sink,
	})

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, 1, sup.Entries())
	assert.Equal(t, 1, e.State().Avoidances)
	assert.Equal(t, 6, rf.Consumed())
	assert.Equal(t, Done, e.State().Phase)

	avoid := sink.Events(EventAvoidance)
	require.Len(t, avoid, 1)
	assert.Contains(t, avoid[0].Detail, "20.0cm")

	// the third cycle hands over to the supervisor, which stops first
	assert.Equal(t, []string{"turn straight", "drive 255 255", "drive 255 255", "stop", "rotate-right 200"}, car.calls[:5])
}

func TestRun_PeripheralObstacleHandedToSupervisor(t *testing.T) {
	car := &fakeCar{driveErr: &motorlink.ObstacleError{Line: "OB"}}
	clock := testClock()
	sup := avoidance.New(car, sensors.NewScriptedRange(50, 50), avoidance.DefaultConfig(), clock)
	plan := planner.Plan{Itinerary: planner.Itinerary{planner.Straight}}
	frames := sensors.IntersectionPattern(false, true, false, false)
	e := NewExecutor(plan, car, sensors.NewScriptedVision(frames...), Options{Supervisor: sup, Clock: clock})

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 1, sup.Entries())
	assert.Equal(t, []string{"turn straight", "drive 255 255", "stop", "clear-estop"}, car.calls[:4])
}

// obstacleOnRead reports a controller obstacle on its first read and
// then defers to the wrapped range finder.
type obstacleOnRead struct {
	sensors.RangeFinder
	fired bool
}

func (o *obstacleOnRead) Distance(ctx context.Context) (sensors.Reading, error) {
	if !o.fired {
		o.fired = true
		return sensors.Reading{}, &motorlink.ObstacleError{Line: "OB"}
	}
	return o.RangeFinder.Distance(ctx)
}

func TestRun_ObstacleOnDistanceReadHandedToSupervisor(t *testing.T) {
	car := &fakeCar{}
	clock := testClock()
	clear := make([]float64, 40)
	for i := range clear {
		clear[i] = 60
	}
	rf := &obstacleOnRead{RangeFinder: sensors.NewScriptedRange(clear...)}
	sup := avoidance.New(car, rf, avoidance.DefaultConfig(), clock)
	plan := planner.Plan{Itinerary: planner.Itinerary{planner.Straight}}
	frames := sensors.IntersectionPattern(false, true, false, false)
	sink := &MemorySink{}
	e := NewExecutor(plan, car, sensors.NewScriptedVision(frames...), Options{
		Range:      rf,
		Supervisor: sup,
		Clock:      clock,
		Sink:       sink,
	})

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 1, sup.Entries())
	assert.Equal(t, 1, e.State().Avoidances)
	assert.Equal(t, Done, e.State().Phase)
	assert.Equal(t, []string{"turn straight", "stop", "clear-estop"}, car.calls[:3])

	avoid := sink.Events(EventAvoidance)
	require.Len(t, avoid, 1)
	assert.Contains(t, avoid[0].Detail, "OB")
}

func TestRun_PeripheralObstacleWithoutSupervisorFails(t *testing.T) {
	car := &fakeCar{driveErr: &motorlink.ObstacleError{Line: "OB"}}
	plan := planner.Plan{Itinerary: planner.Itinerary{planner.Straight}}
	e := NewExecutor(plan, car, sensors.NewScriptedVision(sensors.Frame{}), Options{Clock: testClock()})

	err := e.Run(context.Background())
	assert.True(t, motorlink.IsObstacle(err))
	assert.Equal(t, "stop", car.last())
}

func TestRun_AvoidanceStallAborts(t *testing.T) {
	car := &fakeCar{}
	cfg := avoidance.DefaultConfig()
	cfg.MaxPolls = 2
	rf := sensors.NewScriptedRange(10, 10, 10, 10)
	sup := avoidance.New(car, rf, cfg, testClock())
	plan := planner.Plan{Itinerary: planner.Itinerary{planner.Straight}}
	e := NewExecutor(plan, car, sensors.NewScriptedVision(sensors.Frame{}), Options{Range: rf, Supervisor: sup, Clock: testClock()})

	err := e.Run(context.Background())
	assert.ErrorIs(t, err, avoidance.ErrManeuverStalled)
	assert.Equal(t, "stop", car.last())
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "pre_rolling", PreRolling.String())
	assert.Equal(t, "done", Done.String())
	assert.Equal(t, "Phase(0)", Phase(0).String())
}
