package motorlink

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrWriteFailed is returned when the port accepted fewer bytes than
	// the frame holds.
	ErrWriteFailed = errors.New("failed to write to serial port")
	// ErrAckTimeout is returned when no acknowledgment line arrives within
	// the ack timeout.
	ErrAckTimeout = errors.New("timed out waiting for acknowledgment")
	// ErrReadTimeout is returned when a binary reply is not complete within
	// the ack timeout.
	ErrReadTimeout = errors.New("timed out reading reply")
	// ErrHandshake is returned when the controller does not answer the
	// connect command with OK.
	ErrHandshake = errors.New("handshake failed")
	// ErrClosed is returned for any operation on a closed link.
	ErrClosed = errors.New("link closed")
)

// obstacleMarker starts the acknowledgment line the firmware sends when its
// own sensor has detected an obstacle.
const obstacleMarker = "OB"

// AckKind classifies an acknowledgment line.
type AckKind int

const (
	AckOK AckKind = iota
	AckObstacle
	AckTimeout
)

func (k AckKind) String() string {
	switch k {
	case AckOK:
		return "ok"
	case AckObstacle:
		return "obstacle"
	case AckTimeout:
		return "timeout"
	}
	return fmt.Sprintf("AckKind(%d)", int(k))
}

// AckResult is the outcome of waiting for one acknowledgment.
type AckResult struct {
	Kind AckKind
	// Text is the trimmed acknowledgment line, empty on timeout.
	Text string
}

// Ok reports whether the command was acknowledged normally.
func (a AckResult) Ok() bool { return a.Kind == AckOK }

// Err converts the result into the error a caller should propagate.
func (a AckResult) Err() error {
	switch a.Kind {
	case AckObstacle:
		return &ObstacleError{Line: a.Text}
	case AckTimeout:
		return ErrAckTimeout
	}
	return nil
}

// classifyAck maps one non-blank line onto an AckResult.
func classifyAck(line string) AckResult {
	text := strings.TrimSpace(line)
	if strings.HasPrefix(text, obstacleMarker) {
		return AckResult{Kind: AckObstacle, Text: text}
	}
	return AckResult{Kind: AckOK, Text: text}
}

// ObstacleError reports that the firmware refused or interrupted a motion
// because it detected an obstacle.
type ObstacleError struct {
	// Line is the raw acknowledgment, or a description when the obstacle
	// was detected on the host side.
	Line string
}

func (e *ObstacleError) Error() string {
	return fmt.Sprintf("obstacle detected: %s", e.Line)
}

// IsObstacle reports whether err is, or wraps, an *ObstacleError.
func IsObstacle(err error) bool {
	var oe *ObstacleError
	return errors.As(err, &oe)
}
