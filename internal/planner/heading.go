package planner

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidHeading   = errors.New("invalid heading")
	ErrInvalidDirection = errors.New("direction is not a unit grid vector")
	ErrInvalidTurn      = errors.New("invalid turn")
)

// Direction is the absolute grid displacement of one route segment.
type Direction struct {
	DRow int `json:"drow" yaml:"drow"`
	DCol int `json:"dcol" yaml:"dcol"`
}

func (d Direction) String() string {
	return fmt.Sprintf("(%d,%d)", d.DRow, d.DCol)
}

// Heading is the vehicle's facing in grid-absolute terms. "Up" points
// towards increasing rows. The values are ordered clockwise.
type Heading int

const (
	Up Heading = iota + 1
	Right
	Down
	Left
)

var headingVectors = [...]Direction{
	Up:    {DRow: 1},
	Right: {DCol: 1},
	Down:  {DRow: -1},
	Left:  {DCol: -1},
}

var headingNames = [...]string{
	Up:    "up",
	Right: "right",
	Down:  "down",
	Left:  "left",
}

// Valid reports whether h is one of the four canonical headings.
func (h Heading) Valid() bool { return h >= Up && h <= Left }

func (h Heading) String() string {
	if !h.Valid() {
		return fmt.Sprintf("Heading(%d)", int(h))
	}
	return headingNames[h]
}

// Vector returns the unit displacement of one segment travelled facing h.
func (h Heading) Vector() Direction {
	if !h.Valid() {
		return Direction{}
	}
	return headingVectors[h]
}

// ParseHeading accepts a heading name ("up", "right", "down", "left") or a
// vector literal such as "1,0" or "(0,-1)".
func ParseHeading(s string) (Heading, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for h := Up; h <= Left; h++ {
		if s == headingNames[h] {
			return h, nil
		}
	}
	var d Direction
	trimmed := strings.Trim(s, "() ")
	if _, err := fmt.Sscanf(strings.ReplaceAll(trimmed, " ", ""), "%d,%d", &d.DRow, &d.DCol); err == nil {
		return HeadingOf(d)
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidHeading, s)
}

// MarshalText encodes the heading by name.
func (h Heading) MarshalText() ([]byte, error) {
	if !h.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHeading, int(h))
	}
	return []byte(h.String()), nil
}

// UnmarshalText decodes a heading name or vector literal.
func (h *Heading) UnmarshalText(b []byte) error {
	parsed, err := ParseHeading(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// HeadingOf returns the heading travelling along d.
func HeadingOf(d Direction) (Heading, error) {
	for h := Up; h <= Left; h++ {
		if headingVectors[h] == d {
			return h, nil
		}
	}
	return 0, fmt.Errorf("%w: %v", ErrInvalidDirection, d)
}

// Turn is the relative action that takes the vehicle from its current
// heading onto the next segment.
type Turn int

const (
	Straight Turn = iota + 1
	TurnLeft
	TurnRight
	Flip
)

var turnNames = [...]string{
	Straight:  "straight",
	TurnLeft:  "left",
	TurnRight: "right",
	Flip:      "do_a_flip",
}

// Valid reports whether t is one of the four relative turns.
func (t Turn) Valid() bool { return t >= Straight && t <= Flip }

func (t Turn) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Turn(%d)", int(t))
	}
	return turnNames[t]
}

// MarshalText encodes the turn by name.
func (t Turn) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTurn, int(t))
	}
	return []byte(t.String()), nil
}

// ParseTurn decodes a turn name.
func ParseTurn(s string) (Turn, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t := Straight; t <= Flip; t++ {
		if s == turnNames[t] {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTurn, s)
}

// Degrees returns the in-place rotation the turn needs. Left is negative.
func (t Turn) Degrees() int {
	switch t {
	case TurnLeft:
		return -90
	case TurnRight:
		return 90
	case Flip:
		return 180
	}
	return 0
}

// transitions[current][next] is the turn from heading current onto a
// segment travelled with heading next.
var transitions = [...][5]Turn{
	Up:    {Up: Straight, Right: TurnRight, Down: Flip, Left: TurnLeft},
	Right: {Up: TurnLeft, Right: Straight, Down: TurnRight, Left: Flip},
	Down:  {Up: Flip, Right: TurnLeft, Down: Straight, Left: TurnRight},
	Left:  {Up: TurnRight, Right: Flip, Down: TurnLeft, Left: Straight},
}

// TurnBetween looks up the turn from current onto next. Both headings must
// be valid.
func TurnBetween(current, next Heading) (Turn, error) {
	if !current.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidHeading, int(current))
	}
	if !next.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidHeading, int(next))
	}
	return transitions[current][next], nil
}

// Apply returns the heading after executing t from h.
func (h Heading) Apply(t Turn) Heading {
	if !h.Valid() {
		return h
	}
	switch t {
	case TurnRight:
		return h%4 + 1
	case TurnLeft:
		return (h+2)%4 + 1
	case Flip:
		return (h+1)%4 + 1
	}
	return h
}
