// Command calibrate measures how long the vehicle takes to rotate in place
// and writes the result to the turn calibration file.
//
// Place the vehicle on an intersection facing along a line before running.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/gridrover/internal/calibration"
	"github.com/banshee-data/gridrover/internal/config"
	"github.com/banshee-data/gridrover/internal/monitoring"
	"github.com/banshee-data/gridrover/internal/motorlink"
	"github.com/banshee-data/gridrover/internal/security"
	"github.com/banshee-data/gridrover/internal/sensors"
	"github.com/banshee-data/gridrover/internal/timeutil"
)

var (
	portPath   = flag.String("port", "/dev/ttyACM0", "Serial port of the motor controller")
	configPath = flag.String("config", "", "Vehicle tuning JSON file (stock values when empty)")
	visionPath = flag.String("vision", "-", "Vision feed of \"offset intersection\" lines; - for stdin")
	outPath    = flag.String("out", "turn.cal", "Calibration file to write")
	maxFrames  = flag.Int("max-frames", 2000, "Give up after this many frames without reacquiring the line")
	verbose    = flag.Bool("verbose", false, "Enable diagnostic logging")
	dryRun     = flag.Bool("dry-run", false, "Measure against a scripted controller and camera")
)

// dryRunFrameInterval paces the scripted camera at 20 frames per second.
const dryRunFrameInterval = 50 * time.Millisecond

func main() {
	flag.Parse()

	writers := monitoring.LogWriters{Ops: os.Stderr}
	if *verbose {
		writers.Diag = os.Stderr
	}
	monitoring.SetLogWriters(writers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout); err != nil {
		monitoring.Logf("calibrate: %v", err)
		stop()
		os.Exit(1)
	}
}

// pacedVision sleeps one frame interval before each frame so a simulated
// clock moves with the scripted camera.
type pacedVision struct {
	sensors.Vision
	clock    timeutil.Clock
	interval time.Duration
}

func (v pacedVision) Next(ctx context.Context) (sensors.Frame, error) {
	if err := timeutil.SleepContext(ctx, v.clock, v.interval); err != nil {
		return sensors.Frame{}, err
	}
	return v.Vision.Next(ctx)
}

// dryRunFrames leaves the start intersection after two frames and meets the
// next arm after a quarter turn of 700ms.
func dryRunFrames() []sensors.Frame {
	frames := []sensors.Frame{{Intersection: true}, {Intersection: true}}
	for i := 0; i < 11; i++ {
		frames = append(frames, sensors.Frame{})
	}
	return append(frames, sensors.Frame{Intersection: true})
}

func run(ctx context.Context, stdout io.Writer) error {
	if err := security.ValidateWritePath(*outPath); err != nil {
		return err
	}

	vc := &config.VehicleConfig{}
	if *configPath != "" {
		var err error
		if vc, err = config.LoadVehicleConfig(*configPath); err != nil {
			return err
		}
	}

	var (
		port   motorlink.SerialPorter
		clock  timeutil.Clock
		vision sensors.Vision
	)
	linkCfg := vc.GetLinkConfig()
	if *dryRun {
		mock := timeutil.NewMockClock(time.Now())
		port, clock = motorlink.NewScriptedPort(mock), mock
		vision = pacedVision{Vision: sensors.NewScriptedVision(dryRunFrames()...), clock: mock, interval: dryRunFrameInterval}
	} else {
		p, err := motorlink.OpenSerialPort(*portPath, vc.GetPortOptions())
		if err != nil {
			return err
		}
		port, clock = p, timeutil.RealClock{}
		in := io.Reader(os.Stdin)
		if *visionPath != "-" {
			f, err := os.Open(*visionPath)
			if err != nil {
				p.Close()
				return fmt.Errorf("open vision feed: %w", err)
			}
			defer f.Close()
			in = f
		}
		stream := sensors.NewStreamVision(in)
		defer stream.Close()
		vision = stream
	}
	linkCfg.Clock = clock

	link, err := motorlink.Open(ctx, port, linkCfg)
	if err != nil {
		return fmt.Errorf("connect to controller: %w", err)
	}
	defer link.Close()

	carCfg := vc.GetCarConfig(calibration.Default())
	car := motorlink.NewCar(link, carCfg, clock)

	opts := calibration.DefaultMeasureOptions()
	opts.Speed = carCfg.TurnSpeed
	opts.DebounceFrames = vc.GetExecutorConfig().DebounceFrames
	opts.MaxFrames = *maxFrames

	m, err := calibration.MeasureTurn(ctx, car, vision, clock, opts)
	if err != nil {
		return fmt.Errorf("measure turn: %w", err)
	}
	cal := m.Calibration()
	if err := calibration.Save(*outPath, cal); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "quarter turn %s over %d frames; full rotation %s written to %s\n",
		m.QuarterTurn, m.Frames, cal.TurnDuration, *outPath)
	return nil
}
