// Command gridrover plans a mission on a line grid and drives the vehicle
// along it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/gridrover/internal/calibration"
	"github.com/banshee-data/gridrover/internal/config"
	"github.com/banshee-data/gridrover/internal/missionlog"
	"github.com/banshee-data/gridrover/internal/monitoring"
	"github.com/banshee-data/gridrover/internal/motorlink"
	"github.com/banshee-data/gridrover/internal/navigation"
	"github.com/banshee-data/gridrover/internal/planner"
	"github.com/banshee-data/gridrover/internal/security"
	"github.com/banshee-data/gridrover/internal/sensors"
	"github.com/banshee-data/gridrover/internal/timeutil"
	"github.com/banshee-data/gridrover/internal/trackplot"
	"github.com/banshee-data/gridrover/internal/version"
)

var (
	portPath    = flag.String("port", "/dev/ttyACM0", "Serial port of the motor controller")
	configPath  = flag.String("config", "", "Vehicle tuning JSON file (stock values when empty)")
	missionPath = flag.String("mission", "", "YAML mission file; replaces -grid, -start, -end and -heading")
	gridSize    = flag.Int("grid", 4, "Grid size N for an N x N node grid")
	startPos    = flag.String("start", "0,0", "Start position as row,col; a .5 coordinate is mid-segment")
	endPos      = flag.String("end", "3,3", "End position as row,col")
	heading     = flag.String("heading", "up", "Initial heading: up, right, down, left or a vector like 1,0")
	calPath     = flag.String("calibration", "turn.cal", "Turn calibration file")
	visionPath  = flag.String("vision", "-", "Vision feed of \"offset intersection\" lines; - for stdin")
	dbPath      = flag.String("db", "", "Mission log sqlite database; disabled when empty")
	offsetPlot  = flag.String("offset-plot", "", "Write a plot of line offsets after the run (.png, .svg or .pdf)")
	debugListen = flag.String("debug-listen", "", "Listen address for the /debug/ server, e.g. localhost:8090")
	verbose     = flag.Bool("verbose", false, "Enable diagnostic logging")
	traceLog    = flag.Bool("trace", false, "Enable per-frame trace logging")
	dryRun      = flag.Bool("dry-run", false, "Simulate the mission against a scripted controller")
	planOnly    = flag.Bool("plan-only", false, "Print the route and itinerary, then exit")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("gridrover %s (%s, built %s, firmware %s)\n", version.Version, version.GitSHA, version.BuildTime, version.Firmware)
		return
	}

	configureLogging(os.Stderr, *verbose, *traceLog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout); err != nil {
		monitoring.Logf("gridrover: %v", err)
		stop()
		os.Exit(1)
	}
}

func configureLogging(w io.Writer, diag, trace bool) {
	writers := monitoring.LogWriters{Ops: w}
	if diag || trace {
		writers.Diag = w
	}
	if trace {
		writers.Trace = w
	}
	monitoring.SetLogWriters(writers)
}

// parsePoint accepts "row,col" with optional parentheses and spaces.
func parsePoint(s string) (planner.Point, error) {
	parts := strings.Split(strings.Trim(strings.TrimSpace(s), "()"), ",")
	if len(parts) != 2 {
		return planner.Point{}, fmt.Errorf("position %q: want row,col", s)
	}
	row, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return planner.Point{}, fmt.Errorf("position %q: row: %w", s, err)
	}
	col, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return planner.Point{}, fmt.Errorf("position %q: col: %w", s, err)
	}
	return planner.Point{Row: row, Col: col}, nil
}

// missionFromFlags returns the mission name and planner inputs.
func missionFromFlags() (string, planner.MissionParams, error) {
	if *missionPath != "" {
		m, err := config.LoadMission(*missionPath)
		if err != nil {
			return "", planner.MissionParams{}, err
		}
		return m.Name, m.Params(), nil
	}
	start, err := parsePoint(*startPos)
	if err != nil {
		return "", planner.MissionParams{}, err
	}
	end, err := parsePoint(*endPos)
	if err != nil {
		return "", planner.MissionParams{}, err
	}
	h, err := planner.ParseHeading(*heading)
	if err != nil {
		return "", planner.MissionParams{}, err
	}
	return "", planner.MissionParams{GridSize: *gridSize, Start: start, End: end, Heading: h}, nil
}

func loadVehicleConfig() (*config.VehicleConfig, error) {
	if *configPath == "" {
		return &config.VehicleConfig{}, nil
	}
	return config.LoadVehicleConfig(*configPath)
}

// dryRunFrames scripts one clean intersection pass per segment the vehicle
// has to track, with a small weave in the offsets.
func dryRunFrames(plan planner.Plan) []sensors.Frame {
	passes := len(plan.Itinerary)
	if plan.PreRoll != 0 {
		passes++
	}
	var frames []sensors.Frame
	for i := 0; i < passes; i++ {
		frames = append(frames,
			sensors.Frame{Offset: 4},
			sensors.Frame{Offset: -2, Intersection: true},
			sensors.Frame{Offset: 1},
			sensors.Frame{Offset: 0},
		)
	}
	return frames
}

func openVision(plan planner.Plan) (sensors.Vision, func() error, error) {
	noop := func() error { return nil }
	if *dryRun && *visionPath == "-" {
		return sensors.NewScriptedVision(dryRunFrames(plan)...), noop, nil
	}
	if *visionPath == "-" {
		v := sensors.NewStreamVision(os.Stdin)
		return v, v.Close, nil
	}
	f, err := os.Open(*visionPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open vision feed: %w", err)
	}
	v := sensors.NewStreamVision(f)
	return v, func() error {
		v.Close()
		return f.Close()
	}, nil
}

// connect opens the controller link. In dry-run mode the controller is the
// scripted firmware and time is simulated.
func connect(ctx context.Context, vc *config.VehicleConfig) (*motorlink.Link, timeutil.Clock, error) {
	linkCfg := vc.GetLinkConfig()
	if *dryRun {
		clock := timeutil.NewMockClock(time.Now())
		linkCfg.Clock = clock
		link, err := motorlink.Open(ctx, motorlink.NewScriptedPort(clock), linkCfg)
		return link, clock, err
	}
	port, err := motorlink.OpenSerialPort(*portPath, vc.GetPortOptions())
	if err != nil {
		return nil, nil, err
	}
	clock := timeutil.RealClock{}
	linkCfg.Clock = clock
	link, err := motorlink.Open(ctx, port, linkCfg)
	return link, clock, err
}

func run(ctx context.Context, stdout io.Writer) error {
	name, params, err := missionFromFlags()
	if err != nil {
		return err
	}
	vc, err := loadVehicleConfig()
	if err != nil {
		return err
	}
	plan, err := planner.PlanMission(params)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "route: %v\nitinerary: %s\n", plan.Route, plan.Itinerary)
	if plan.Unreachable {
		fmt.Fprintln(stdout, "destination unreachable; the vehicle will stop in place")
	}
	if *planOnly {
		return nil
	}

	cal := calibration.Load(*calPath)

	if *offsetPlot != "" {
		if err := security.ValidateWritePath(*offsetPlot); err != nil {
			return err
		}
	}

	vision, closeVision, err := openVision(plan)
	if err != nil {
		return err
	}
	defer closeVision()

	link, clock, err := connect(ctx, vc)
	if err != nil {
		return fmt.Errorf("connect to controller: %w", err)
	}

	var (
		store   *missionlog.Store
		mission *missionlog.Mission
		sink    navigation.EventSink
	)
	if *dbPath != "" {
		if err := security.ValidateWritePath(*dbPath); err != nil {
			link.Close()
			return err
		}
		store, err = missionlog.Open(*dbPath)
		if err != nil {
			link.Close()
			return err
		}
		defer store.Close()
		mission, err = store.Begin(name, plan, clock)
		if err != nil {
			link.Close()
			return err
		}
		sink = mission
	}

	session := navigation.NewSession(link, plan, vision, vc.SessionConfig(cal), clock, sink)

	if *debugListen != "" {
		shutdown, err := serveDebug(*debugListen, link, session, store)
		if err != nil {
			session.Close()
			return err
		}
		defer shutdown()
	}

	runErr := session.Run(ctx)
	if err := session.Close(); err != nil {
		monitoring.Logf("close link: %v", err)
	}

	if mission != nil {
		outcome := "ok"
		if runErr != nil {
			outcome = runErr.Error()
		}
		ex := session.Executor()
		if err := mission.Finish(outcome, ex.State(), ex.Offsets()); err != nil {
			monitoring.Logf("mission log: %v", err)
		}
		fmt.Fprintf(stdout, "mission %s recorded in %s\n", mission.ID(), store.Path())
	}

	if *offsetPlot != "" {
		title := fmt.Sprintf("%s %v to %v", plan.Itinerary, params.Start, params.End)
		if err := trackplot.Save(*offsetPlot, title, session.Executor().Offsets()); err != nil {
			monitoring.Logf("offset plot: %v", err)
		} else {
			fmt.Fprintf(stdout, "offset plot written to %s\n", *offsetPlot)
		}
	}

	if runErr != nil {
		return runErr
	}
	st := session.Executor().State()
	fmt.Fprintf(stdout, "arrived: %d intersections, %d avoidances, %d cycles\n", st.Intersections, st.Avoidances, st.Cycles)
	return nil
}

func serveDebug(addr string, link *motorlink.Link, session *navigation.Session, store *missionlog.Store) (func(), error) {
	mux := http.NewServeMux()
	link.AttachAdminRoutes(mux)
	session.AttachAdminRoutes(mux)
	if store != nil {
		if err := store.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			monitoring.Logf("debug server: %v", err)
		}
	}()
	monitoring.Logf("debug server listening on %s", addr)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("debug server shutdown: %v", err)
			server.Close()
		}
	}, nil
}
