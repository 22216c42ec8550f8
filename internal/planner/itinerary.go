package planner

import (
	"fmt"
	"strings"
)

// Itinerary is the ordered list of turns for one mission, one per segment.
type Itinerary []Turn

func (it Itinerary) String() string {
	names := make([]string, len(it))
	for i, t := range it {
		names[i] = t.String()
	}
	return "[" + strings.Join(names, ", ") + "]"
}

// RelativeTurns walks dirs starting from initial and returns the turn needed
// before each segment. After each segment the current heading becomes the
// segment's direction.
func RelativeTurns(dirs []Direction, initial Heading) (Itinerary, error) {
	if !initial.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHeading, int(initial))
	}
	current := initial
	it := make(Itinerary, 0, len(dirs))
	for i, d := range dirs {
		next, err := HeadingOf(d)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		turn, err := TurnBetween(current, next)
		if err != nil {
			return nil, err
		}
		it = append(it, turn)
		current = next
	}
	return it, nil
}

// FinalHeading returns the heading after travelling dirs from initial. It
// returns initial for an empty slice.
func FinalHeading(dirs []Direction, initial Heading) (Heading, error) {
	if len(dirs) == 0 {
		return initial, nil
	}
	return HeadingOf(dirs[len(dirs)-1])
}
