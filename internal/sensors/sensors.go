// Package sensors describes what the vehicle core consumes from its
// external collaborators: the vision pipeline and the distance sensor.
package sensors

import (
	"context"
	"fmt"
)

// Frame is the observable output of the vision pipeline for one video frame.
type Frame struct {
	// Offset is the lateral position of the line, positive when the line is
	// left of the vehicle centre.
	Offset float64
	// Intersection is the raw, undebounced "intersection visible" signal.
	Intersection bool
}

// Vision delivers one Frame per control cycle. Next blocks until the next
// frame is available.
type Vision interface {
	Next(ctx context.Context) (Frame, error)
}

// Reading is one ultrasonic distance measurement. OK is false when the
// sensor timed out.
type Reading struct {
	Cm float64
	OK bool
}

// Distance returns a valid reading of cm centimetres.
func Distance(cm float64) Reading { return Reading{Cm: cm, OK: true} }

// Timeout is the reading reported when the sensor did not answer.
var Timeout = Reading{}

func (r Reading) String() string {
	if !r.OK {
		return "timeout"
	}
	return fmt.Sprintf("%.1fcm", r.Cm)
}

// RangeFinder reports the distance to the nearest object ahead of the
// distance sensor.
type RangeFinder interface {
	Distance(ctx context.Context) (Reading, error)
}
