package navigation

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gridrover/internal/avoidance"
	"github.com/banshee-data/gridrover/internal/motorlink"
	"github.com/banshee-data/gridrover/internal/planner"
	"github.com/banshee-data/gridrover/internal/sensors"
	"github.com/banshee-data/gridrover/internal/testutil"
)

func goldenPlan(t *testing.T) planner.Plan {
	t.Helper()
	plan, err := planner.PlanMission(planner.MissionParams{
		GridSize: 4,
		Start:    planner.Point{Row: 0, Col: 0},
		End:      planner.Point{Row: 3, Col: 3},
		Heading:  planner.Up,
	})
	require.NoError(t, err)
	return plan
}

func newWiredSession(t *testing.T, plan planner.Plan, frames []sensors.Frame, sink EventSink) (*Session, *motorlink.ScriptedPort) {
	t.Helper()
	clock := testClock()
	port := motorlink.NewScriptedPort(clock)
	link, err := motorlink.Open(context.Background(), port, motorlink.Config{Clock: clock})
	require.NoError(t, err)
	port.ResetCommands()

	cfg := SessionConfig{
		Car:       motorlink.DefaultCarConfig(),
		Executor:  DefaultConfig(),
		Avoidance: avoidance.DefaultConfig(),
	}
	return NewSession(link, plan, sensors.NewScriptedVision(frames...), cfg, clock, sink), port
}

func TestSession_GoldenMission(t *testing.T) {
	plan := goldenPlan(t)
	require.Equal(t, planner.Itinerary{
		planner.TurnRight, planner.Straight, planner.Straight,
		planner.TurnLeft, planner.Straight, planner.Straight,
	}, plan.Itinerary)

	var frames []sensors.Frame
	for range plan.Itinerary {
		frames = append(frames, sensors.IntersectionPattern(false, true, false, false)...)
	}
	sink := &MemorySink{}
	s, port := newWiredSession(t, plan, frames, sink)

	require.NoError(t, s.Run(context.Background()))
	require.NoError(t, s.Close())

	assert.Equal(t, []planner.Turn(plan.Itinerary), sink.Turns())
	outcome := sink.Events(EventOutcome)
	require.Len(t, outcome, 1)
	assert.Equal(t, "ok", outcome[0].Detail)
	assert.Equal(t, Done, outcome[0].Phase)

	drives := port.CommandsOf(motorlink.OpDrive)
	require.NotEmpty(t, drives)
	assert.Equal(t, motorlink.MotionCommand(motorlink.OpDrive, 250, -250, 0, 0), drives[0], "first turn rotates right")
	assert.Equal(t, motorlink.MotionCommand(motorlink.OpDrive, 0, 0, 0, 0), drives[len(drives)-1])

	// one distance request per tracking cycle; the exhausted sensor reads as
	// a timeout and never triggers avoidance
	assert.Len(t, port.CommandsOf(motorlink.OpReadDistance), len(frames))
	assert.Zero(t, s.Supervisor().Entries())

	ops := port.Opcodes()
	assert.Equal(t, byte('a'), ops[len(ops)-1])
	assert.True(t, port.Closed())
}

func TestSession_TurnRefusedByController(t *testing.T) {
	plan := goldenPlan(t)
	s, port := newWiredSession(t, plan, nil, nil)
	port.Queue(motorlink.OpDrive, "OB front\r\n")

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.True(t, motorlink.IsObstacle(err))

	drives := port.CommandsOf(motorlink.OpDrive)
	assert.Equal(t, motorlink.MotionCommand(motorlink.OpDrive, 0, 0, 0, 0), drives[len(drives)-1])
	require.NoError(t, s.Close())
}

func TestSession_ObstacleOnTheWire(t *testing.T) {
	plan := planner.Plan{Itinerary: planner.Itinerary{planner.Straight}}
	frames := sensors.IntersectionPattern(false, false, false, true, false, false)
	s, port := newWiredSession(t, plan, frames, nil)
	port.SetDistances(50, 20, 20, 45, 40)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 1, s.Supervisor().Entries())
	assert.Equal(t, 1, s.Executor().State().Avoidances)
	assert.NotEmpty(t, port.CommandsOf(motorlink.OpServo), "sensor was turned to the obstacle side")
	require.NoError(t, s.Close())
}

func TestSession_AdminStatus(t *testing.T) {
	s, _ := newWiredSession(t, goldenPlan(t), nil, nil)
	mux := http.NewServeMux()
	s.AttachAdminRoutes(mux)

	rec := testutil.Get(mux, "/debug/navigation")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Itinerary []string `json:"itinerary"`
		State     struct {
			Phase string `json:"phase"`
		} `json:"state"`
		AvoidancePhase string `json:"avoidance_phase"`
	}
	testutil.DecodeJSON(t, rec, &body)
	assert.Equal(t, []string{"right", "straight", "straight", "left", "straight", "straight"}, body.Itinerary)
	assert.Equal(t, "orienting", body.State.Phase)
	assert.Equal(t, "idle", body.AvoidancePhase)
}

func TestSession_AdminOffsetChart(t *testing.T) {
	s, _ := newWiredSession(t, goldenPlan(t), nil, nil)
	mux := http.NewServeMux()
	s.AttachAdminRoutes(mux)

	rec := testutil.Get(mux, "/debug/offsets")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cycles=0", "nothing tracked before Run")
}
