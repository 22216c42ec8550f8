package sensors

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
)

// ErrVisionClosed is returned by Next once the feed has been closed.
var ErrVisionClosed = errors.New("vision feed closed")

// StreamVision reads frames from a line-oriented feed, typically a pipe from
// the vision process. Each line is "<offset> <intersection>", separated by
// whitespace or a comma, where intersection is 0/1 or true/false. Blank lines
// and lines starting with '#' are ignored.
//
// Lines are read on a background goroutine so Next can honour ctx while the
// producer is slow. The goroutine exits at end of input, on a bad line, or
// at the next line after Close.
type StreamVision struct {
	frames chan Frame
	done   chan struct{}
	once   sync.Once
	err    error // set before frames is closed
}

// NewStreamVision starts reading r.
func NewStreamVision(r io.Reader) *StreamVision {
	v := &StreamVision{frames: make(chan Frame), done: make(chan struct{})}
	go v.read(r)
	return v
}

func (v *StreamVision) read(r io.Reader) {
	defer close(v.frames)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		f, err := ParseFrame(text)
		if err != nil {
			v.err = fmt.Errorf("vision line %d: %w", line, err)
			return
		}
		select {
		case <-v.done:
			v.err = ErrVisionClosed
			return
		default:
		}
		select {
		case v.frames <- f:
		case <-v.done:
			v.err = ErrVisionClosed
			return
		}
	}
	if err := sc.Err(); err != nil {
		v.err = err
		return
	}
	v.err = io.EOF
}

// Next returns the next frame, or the read error once the feed ends. A
// cancelled ctx closes the feed.
func (v *StreamVision) Next(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		v.Close()
		return Frame{}, ctx.Err()
	case f, ok := <-v.frames:
		if !ok {
			return Frame{}, v.err
		}
		return f, nil
	}
}

// Close stops delivering frames. It does not close the underlying reader.
func (v *StreamVision) Close() error {
	v.once.Do(func() { close(v.done) })
	return nil
}

// ParseFrame parses one feed line. The offset must be finite.
func ParseFrame(s string) (Frame, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	if len(fields) != 2 {
		return Frame{}, fmt.Errorf("want \"<offset> <intersection>\", got %q", s)
	}
	offset, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Frame{}, fmt.Errorf("offset: %w", err)
	}
	if math.IsNaN(offset) || math.IsInf(offset, 0) {
		return Frame{}, fmt.Errorf("offset %q is not finite", fields[0])
	}
	seen, err := strconv.ParseBool(fields[1])
	if err != nil {
		return Frame{}, fmt.Errorf("intersection: %w", err)
	}
	return Frame{Offset: offset, Intersection: seen}, nil
}
