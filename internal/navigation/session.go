package navigation

import (
	"context"
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/gridrover/internal/avoidance"
	"github.com/banshee-data/gridrover/internal/httputil"
	"github.com/banshee-data/gridrover/internal/motorlink"
	"github.com/banshee-data/gridrover/internal/pid"
	"github.com/banshee-data/gridrover/internal/planner"
	"github.com/banshee-data/gridrover/internal/sensors"
	"github.com/banshee-data/gridrover/internal/timeutil"
	"github.com/banshee-data/gridrover/internal/trackplot"
)

// SessionConfig gathers the tuning of every component a Session wires.
type SessionConfig struct {
	Car       motorlink.CarConfig
	Gains     pid.Gains
	Executor  Config
	Avoidance avoidance.Config
	// AvoidanceDisabled turns the obstacle supervisor off.
	AvoidanceDisabled bool
	// Range overrides the distance sensor; the car's own sensor is used
	// when nil.
	Range sensors.RangeFinder
}

// Session owns one mission: the link, the car built on it, the plan and the
// executor running it.
type Session struct {
	plan       planner.Plan
	link       *motorlink.Link
	car        *motorlink.Car
	supervisor *avoidance.Supervisor
	executor   *Executor
	sink       EventSink
	clock      timeutil.Clock
}

// NewSession wires a mission on a connected link. sink may be nil.
func NewSession(link *motorlink.Link, plan planner.Plan, vision sensors.Vision, cfg SessionConfig, clock timeutil.Clock, sink EventSink) *Session {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	car := motorlink.NewCar(link, cfg.Car, clock)

	s := &Session{plan: plan, link: link, car: car, sink: sink, clock: clock}

	opts := Options{
		Gains:  cfg.Gains,
		Config: cfg.Executor,
		Clock:  clock,
		Sink:   sink,
	}
	if !cfg.AvoidanceDisabled {
		var rf sensors.RangeFinder = car
		if cfg.Range != nil {
			rf = cfg.Range
		}
		s.supervisor = avoidance.New(car, rf, cfg.Avoidance, clock)
		opts.Range = rf
		opts.Supervisor = s.supervisor
	}
	s.executor = NewExecutor(plan, car, vision, opts)
	return s
}

// Plan returns the mission plan.
func (s *Session) Plan() planner.Plan { return s.plan }

// Car returns the vehicle.
func (s *Session) Car() *motorlink.Car { return s.car }

// Executor returns the navigation state machine.
func (s *Session) Executor() *Executor { return s.executor }

// Supervisor returns the obstacle supervisor, nil when disabled.
func (s *Session) Supervisor() *avoidance.Supervisor { return s.supervisor }

// Run drives the mission to completion and records its outcome.
func (s *Session) Run(ctx context.Context) error {
	navLog.Opsf("mission %s -> %s heading %s: %s", s.plan.Params.Start, s.plan.Params.End, s.plan.Params.Heading, s.plan.Itinerary)
	err := s.executor.Run(ctx)
	outcome := "ok"
	if err != nil {
		outcome = err.Error()
	}
	if s.sink != nil {
		if rerr := s.sink.Record(Event{Kind: EventOutcome, At: s.clock.Now(), Phase: s.executor.State().Phase, Detail: outcome}); rerr != nil {
			navLog.Diagf("recording outcome: %v", rerr)
		}
	}
	return err
}

// Close stops the vehicle and closes the link. It is safe to call after a
// failed Run.
func (s *Session) Close() error {
	if err := s.car.Stop(); err != nil {
		navLog.Opsf("stop on close: %v", err)
	}
	return s.link.Close()
}

// Status is the JSON body of the navigation debug endpoint.
type Status struct {
	Itinerary        planner.Itinerary `json:"itinerary"`
	Route            planner.Route     `json:"route"`
	State            State             `json:"state"`
	AvoidancePhase   string            `json:"avoidance_phase,omitempty"`
	AvoidanceEntries int               `json:"avoidance_entries"`
}

// Status returns a snapshot for operators.
func (s *Session) Status() Status {
	st := Status{
		Itinerary: s.plan.Itinerary,
		Route:     s.plan.Route,
		State:     s.executor.State(),
	}
	if s.supervisor != nil {
		st.AvoidancePhase = s.supervisor.Phase().String()
		st.AvoidanceEntries = s.supervisor.Entries()
	}
	return st
}

// AttachAdminRoutes attaches the navigation status endpoint and the offset
// chart to the debug mux served at /debug/.
func (s *Session) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("navigation", "mission progress", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.Status())
	})
	debug.HandleFunc("offsets", "line offset chart", trackplot.Handler("Line offsets", s.executor.Offsets))
}
