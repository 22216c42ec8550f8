// Package pid implements the line-centering controller that turns the
// measured lateral offset of the line into differential wheel speeds.
package pid

import (
	"math"
	"time"

	"github.com/banshee-data/gridrover/internal/monitoring"
)

var logger = monitoring.Component("pid")

// Motor speed limits accepted by the motor controller.
const (
	MinSpeed = 0
	MaxSpeed = 255
)

// Gains configure a Controller.
type Gains struct {
	Kp        float64 `json:"kp"`
	Ki        float64 `json:"ki"`
	Kd        float64 `json:"kd"`
	BaseSpeed float64 `json:"base_speed"`
	Setpoint  float64 `json:"setpoint"`
}

// DefaultGains returns the gains used on the vehicle.
func DefaultGains() Gains {
	return Gains{Kp: 3, Ki: 0.4, Kd: 1.2, BaseSpeed: 255, Setpoint: 0}
}

// Controller is a PID loop over the lateral offset. Its state persists for
// the whole mission and is only cleared by Reset.
//
// The integral term accumulates without any windup clamp. Only the output
// speeds are clamped.
type Controller struct {
	gains Gains

	integral      float64
	previousError float64
	output        float64
}

// NewController returns a Controller with zeroed state.
func NewController(g Gains) *Controller {
	return &Controller{gains: g}
}

// Gains returns the controller configuration.
func (c *Controller) Gains() Gains { return c.gains }

// Update advances the loop by dt with the measured offset and returns the
// left and right wheel speeds, each clamped to [MinSpeed, MaxSpeed].
//
// A positive offset means the line is left of the vehicle centre. It gives
// a negative output, which slows the left wheel and speeds up the right so
// the vehicle yaws left toward the line.
//
// A NaN or infinite offset leaves the state untouched and repeats the
// speeds of the previous output.
func (c *Controller) Update(dt time.Duration, offset float64) (left, right float64) {
	if math.IsNaN(offset) || math.IsInf(offset, 0) {
		logger.Diagf("ignoring non-finite offset %v", offset)
		return c.speeds()
	}
	seconds := dt.Seconds()
	err := c.gains.Setpoint - offset

	p := c.gains.Kp * err

	c.integral += err * seconds
	i := c.gains.Ki * c.integral

	var derivative float64
	if seconds > 0 {
		derivative = (err - c.previousError) / seconds
	}
	d := c.gains.Kd * derivative

	c.previousError = err
	c.output = p + i + d

	left, right = c.speeds()
	logger.Tracef("dt=%v offset=%.2f p=%.2f i=%.2f d=%.2f left=%.0f right=%.0f", dt, offset, p, i, d, left, right)
	return left, right
}

// Output returns the unclamped controller output of the last Update.
func (c *Controller) Output() float64 { return c.output }

// Integral returns the accumulated error integral.
func (c *Controller) Integral() float64 { return c.integral }

// Reset clears the accumulated state.
func (c *Controller) Reset() {
	c.integral = 0
	c.previousError = 0
	c.output = 0
}

func (c *Controller) speeds() (left, right float64) {
	return clamp(c.gains.BaseSpeed+c.output, MinSpeed, MaxSpeed),
		clamp(c.gains.BaseSpeed-c.output, MinSpeed, MaxSpeed)
}

// clamp maps NaN to lo.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
