package sensors

import (
	"context"
	"errors"
	"sync"
)

// ErrScriptExhausted is returned by ScriptedVision once every frame has been
// delivered.
var ErrScriptExhausted = errors.New("scripted input exhausted")

// ScriptedVision replays a fixed sequence of frames. It is used by tests and
// by the dry-run mode of the command-line tools.
type ScriptedVision struct {
	mu     sync.Mutex
	frames []Frame
	next   int
}

// NewScriptedVision returns a Vision that yields frames in order.
func NewScriptedVision(frames ...Frame) *ScriptedVision {
	return &ScriptedVision{frames: frames}
}

// IntersectionPattern builds frames with a zero offset from a pattern of
// intersection signals.
func IntersectionPattern(signals ...bool) []Frame {
	frames := make([]Frame, len(signals))
	for i, s := range signals {
		frames[i] = Frame{Intersection: s}
	}
	return frames
}

// Next returns the next scripted frame.
func (v *ScriptedVision) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.next >= len(v.frames) {
		return Frame{}, ErrScriptExhausted
	}
	f := v.frames[v.next]
	v.next++
	return f, nil
}

// Remaining returns the number of frames not yet delivered.
func (v *ScriptedVision) Remaining() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.frames) - v.next
}

// ScriptedRange replays a fixed sequence of readings and then reports
// Timeout forever.
type ScriptedRange struct {
	mu       sync.Mutex
	readings []Reading
	next     int
}

// NewScriptedRange returns a RangeFinder yielding the given distances in cm.
func NewScriptedRange(cm ...float64) *ScriptedRange {
	readings := make([]Reading, len(cm))
	for i, d := range cm {
		readings[i] = Distance(d)
	}
	return &ScriptedRange{readings: readings}
}

// Distance returns the next scripted reading.
func (r *ScriptedRange) Distance(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= len(r.readings) {
		return Timeout, nil
	}
	reading := r.readings[r.next]
	r.next++
	return reading, nil
}

// Consumed returns how many readings have been delivered.
func (r *ScriptedRange) Consumed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}
