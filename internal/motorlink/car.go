package motorlink

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/gridrover/internal/planner"
	"github.com/banshee-data/gridrover/internal/sensors"
	"github.com/banshee-data/gridrover/internal/timeutil"
)

// Defaults for CarConfig.
const (
	DefaultStraightSpeed = 250
	DefaultTurnSpeed     = 250
	DefaultTurnDuration  = 2800 * time.Millisecond
	DefaultSensorForward = 90
	DefaultSensorLeft    = 180
	DefaultSensorRight   = 0
	DefaultSensorSettle  = 300 * time.Millisecond
)

// CarConfig holds the motion parameters of the vehicle.
type CarConfig struct {
	StraightSpeed int16
	TurnSpeed     int16
	// TurnDuration is the calibrated time for one full rotation in place.
	TurnDuration time.Duration
	// Servo angles for the distance sensor.
	SensorForward int16
	SensorLeft    int16
	SensorRight   int16
	SensorSettle  time.Duration
	// SideClearanceCm enables a clearance check toward the turn side before
	// left and right turns. Zero disables it.
	SideClearanceCm float64
}

// DefaultCarConfig returns the stock motion parameters.
func DefaultCarConfig() CarConfig {
	return CarConfig{
		StraightSpeed: DefaultStraightSpeed,
		TurnSpeed:     DefaultTurnSpeed,
		TurnDuration:  DefaultTurnDuration,
		SensorForward: DefaultSensorForward,
		SensorLeft:    DefaultSensorLeft,
		SensorRight:   DefaultSensorRight,
		SensorSettle:  DefaultSensorSettle,
	}
}

// Car exposes motion primitives on top of a Link.
type Car struct {
	link  *Link
	cfg   CarConfig
	clock timeutil.Clock
}

// NewCar wraps a connected link.
func NewCar(link *Link, cfg CarConfig, clock timeutil.Clock) *Car {
	if cfg.TurnDuration <= 0 {
		cfg.TurnDuration = DefaultTurnDuration
	}
	if cfg.StraightSpeed == 0 {
		cfg.StraightSpeed = DefaultStraightSpeed
	}
	if cfg.TurnSpeed == 0 {
		cfg.TurnSpeed = DefaultTurnSpeed
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Car{link: link, cfg: cfg, clock: clock}
}

// Link returns the underlying link.
func (c *Car) Link() *Link { return c.link }

// Config returns the motion parameters.
func (c *Car) Config() CarConfig { return c.cfg }

// SetTurnDuration replaces the calibrated full-rotation time.
func (c *Car) SetTurnDuration(d time.Duration) {
	if d > 0 {
		c.cfg.TurnDuration = d
	}
}

// Stop halts both wheels.
func (c *Car) Stop() error {
	return c.link.SendMotion(OpDrive, 0, 0, 0, 0)
}

// Drive sets the wheel speeds.
func (c *Car) Drive(left, right int16) error {
	return c.link.SendMotion(OpDrive, left, right, 0, 0)
}

// DriveStaged sets the wheel speeds, ramping over ramp firmware steps.
func (c *Car) DriveStaged(left, right, ramp int16) error {
	return c.link.SendMotion(OpDriveStaged, left, right, ramp, 0)
}

// Reverse drives straight backwards.
func (c *Car) Reverse(speed int16) error {
	return c.Drive(-speed, -speed)
}

// RotateLeft spins in place counter-clockwise.
func (c *Car) RotateLeft(speed int16) error {
	return c.Drive(-speed, speed)
}

// RotateRight spins in place clockwise.
func (c *Car) RotateRight(speed int16) error {
	return c.Drive(speed, -speed)
}

// ResetEncoders zeroes both wheel encoders.
func (c *Car) ResetEncoders() error {
	return c.link.SendMotion(OpResetEncoders, 0, 0, 0, 0)
}

// Encoders returns the left and right encoder counts.
func (c *Car) Encoders() (left, right int32, err error) {
	v, err := c.link.QueryLong(OpReadEncoders)
	return v[0], v[1], err
}

// WheelSpeeds returns the measured left and right wheel speeds.
func (c *Car) WheelSpeeds() (left, right int16, err error) {
	v, err := c.link.QueryShort(OpReadSpeeds)
	return v[0], v[1], err
}

// Status is the firmware status register block.
type Status struct {
	Timer  int16
	Timer2 int16
	IR     int16
}

// Status reads the firmware timers and IR sensor.
func (c *Car) Status() (Status, error) {
	v, err := c.link.QueryShort(OpReadStatus)
	return Status{Timer: v[0], Timer2: v[1], IR: v[2]}, err
}

// MoveCounts drives each wheel by the given number of encoder counts.
func (c *Car) MoveCounts(left, right int32) error {
	return c.link.SendLong(OpMoveCounts, left, right)
}

// PointSensor turns the distance-sensor servo to angle degrees.
func (c *Car) PointSensor(angle int16) error {
	return c.link.SendMotion(OpServo, angle, 0, 0, 0)
}

// Distance asks the controller for one ultrasonic reading. A zero or
// negative value is the firmware's timeout marker.
func (c *Car) Distance(ctx context.Context) (sensors.Reading, error) {
	if err := ctx.Err(); err != nil {
		return sensors.Reading{}, err
	}
	text, err := c.link.QueryLine(OpReadDistance)
	if err != nil {
		return sensors.Reading{}, err
	}
	cm, perr := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if perr != nil {
		linkLog.Diagf("unparsable distance reply %q", text)
		return sensors.Timeout, nil
	}
	if cm <= 0 {
		return sensors.Timeout, nil
	}
	return sensors.Distance(cm), nil
}

// SetEmergencyStop latches the firmware's emergency stop.
func (c *Car) SetEmergencyStop() error {
	return c.link.SendRaw(OpEmergencyStop, []byte("1"))
}

// ClearEmergencyStop releases the firmware's emergency stop.
func (c *Car) ClearEmergencyStop() error {
	return c.link.SendRaw(OpEmergencyStop, []byte("0"))
}

// TurnTime returns how long to rotate in place for t.
func (c *Car) TurnTime(t planner.Turn) time.Duration {
	deg := t.Degrees()
	if deg < 0 {
		deg = -deg
	}
	return time.Duration(float64(c.cfg.TurnDuration) * float64(deg) / 360)
}

// ExecuteTurn performs one itinerary entry at an intersection and leaves
// the car driving forward.
func (c *Car) ExecuteTurn(ctx context.Context, t planner.Turn) error {
	speed := c.cfg.StraightSpeed
	switch t {
	case planner.Straight:
	case planner.TurnLeft, planner.TurnRight:
		if c.cfg.SideClearanceCm > 0 {
			if err := c.checkSide(ctx, t); err != nil {
				return err
			}
		}
		if err := c.rotate(ctx, t); err != nil {
			return err
		}
	case planner.Flip:
		if err := c.rotate(ctx, t); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %d", planner.ErrInvalidTurn, int(t))
	}
	linkLog.Diagf("executed %s", t)
	return c.Drive(speed, speed)
}

func (c *Car) rotate(ctx context.Context, t planner.Turn) error {
	var err error
	if t == planner.TurnLeft {
		err = c.RotateLeft(c.cfg.TurnSpeed)
	} else {
		err = c.RotateRight(c.cfg.TurnSpeed)
	}
	if err != nil {
		return err
	}
	return timeutil.SleepContext(ctx, c.clock, c.TurnTime(t))
}

// checkSide points the sensor toward the side being turned to and refuses
// the turn when something is closer than SideClearanceCm.
func (c *Car) checkSide(ctx context.Context, t planner.Turn) error {
	angle := c.cfg.SensorRight
	if t == planner.TurnLeft {
		angle = c.cfg.SensorLeft
	}
	if err := c.PointSensor(angle); err != nil {
		return err
	}
	if err := timeutil.SleepContext(ctx, c.clock, c.cfg.SensorSettle); err != nil {
		return err
	}
	r, err := c.Distance(ctx)
	if err != nil {
		return err
	}
	if err := c.PointSensor(c.cfg.SensorForward); err != nil {
		return err
	}
	if r.OK && r.Cm < c.cfg.SideClearanceCm {
		if err := c.Stop(); err != nil {
			return err
		}
		return &ObstacleError{Line: fmt.Sprintf("%s side blocked at %s", t, r)}
	}
	return nil
}
