package planner

import (
	"errors"
	"fmt"
	"math"
)

// ErrOffSegment is returned when a fractional mission endpoint does not lie
// on a grid segment the vehicle can follow.
var ErrOffSegment = errors.New("position is not on a grid segment")

// fractionalTolerance is how far from a node a coordinate may be before the
// position counts as mid-segment.
const fractionalTolerance = 0.1

// Point is a possibly fractional grid position.
type Point struct {
	Row float64 `json:"row" yaml:"row"`
	Col float64 `json:"col" yaml:"col"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%g,%g)", p.Row, p.Col)
}

// Segment names a blocked line between two adjacent cells.
type Segment struct {
	A Cell `json:"a" yaml:"a"`
	B Cell `json:"b" yaml:"b"`
}

// MissionParams are the operator inputs consumed once at planning time.
type MissionParams struct {
	GridSize int       `json:"grid_size" yaml:"grid_size"`
	Start    Point     `json:"start" yaml:"start"`
	End      Point     `json:"end" yaml:"end"`
	Heading  Heading   `json:"heading" yaml:"heading"`
	Blocked  []Segment `json:"blocked,omitempty" yaml:"blocked,omitempty"`
}

// Plan is the result of planning a mission.
type Plan struct {
	Params    MissionParams
	Start     Cell
	End       Cell
	Route     Route
	Itinerary Itinerary

	// PreRoll is the synthetic turn taking the vehicle from a mid-segment
	// start to the first node. Zero when the vehicle starts on a node.
	PreRoll Turn
	// Final is the synthetic turn taking the vehicle from the last node
	// onto a mid-segment end. Zero when the mission ends on a node.
	Final Turn

	// Unreachable is set when no route joins Start and End.
	Unreachable bool
}

// HasPreRoll reports whether the mission starts mid-segment.
func (p Plan) HasPreRoll() bool { return p.PreRoll.Valid() }

// HasFinal reports whether the mission ends mid-segment.
func (p Plan) HasFinal() bool { return p.Final.Valid() }

// PlanMission validates the operator inputs and computes the route and
// itinerary. Configuration problems are returned as errors before anything
// moves; an empty route is not an error.
func PlanMission(p MissionParams) (Plan, error) {
	if p.GridSize < 1 {
		return Plan{}, fmt.Errorf("%w: got %d", ErrInvalidGridSize, p.GridSize)
	}
	if !p.Heading.Valid() {
		return Plan{}, fmt.Errorf("%w: %d", ErrInvalidHeading, int(p.Heading))
	}
	if !inside(p.Start, p.GridSize) {
		return Plan{}, fmt.Errorf("start %v: %w (grid %d×%d)", p.Start, ErrOutOfBounds, p.GridSize, p.GridSize)
	}
	if !inside(p.End, p.GridSize) {
		return Plan{}, fmt.Errorf("end %v: %w (grid %d×%d)", p.End, ErrOutOfBounds, p.GridSize, p.GridSize)
	}

	start, preRoll, err := startNode(p.Start, p.Heading)
	if err != nil {
		return Plan{}, err
	}
	end, finalDir, err := endNode(p.End)
	if err != nil {
		return Plan{}, err
	}

	g, err := BuildGraph(p.GridSize)
	if err != nil {
		return Plan{}, err
	}
	for _, s := range p.Blocked {
		if err := g.RemoveEdge(s.A, s.B); err != nil {
			return Plan{}, fmt.Errorf("blocked segment: %w", err)
		}
	}

	plan := Plan{Params: p, Start: start, End: end}
	plan.Route = ShortestRoute(g, start, end)
	if start != end && len(plan.Route) == 0 {
		plan.Unreachable = true
		return plan, nil
	}

	dirs := AbsoluteDirections(plan.Route)
	if preRoll {
		dirs = append([]Direction{p.Heading.Vector()}, dirs...)
	}
	if finalDir != nil {
		dirs = append(dirs, *finalDir)
	}

	turns, err := RelativeTurns(dirs, p.Heading)
	if err != nil {
		return Plan{}, err
	}
	if preRoll {
		plan.PreRoll, turns = turns[0], turns[1:]
	}
	if finalDir != nil {
		last := len(turns) - 1
		plan.Final, turns = turns[last], turns[:last]
	}
	plan.Itinerary = turns
	return plan, nil
}

func inside(pt Point, n int) bool {
	max := float64(n - 1)
	return pt.Row >= 0 && pt.Row <= max && pt.Col >= 0 && pt.Col <= max
}

func fractional(v float64) bool {
	return v-math.Floor(v) > fractionalTolerance
}

// startNode returns the first node the vehicle reaches. A mid-segment start
// must face along its segment; the vehicle then rolls forward to the next
// node in its heading.
func startNode(pt Point, h Heading) (Cell, bool, error) {
	fr, fc := fractional(pt.Row), fractional(pt.Col)
	cell := Cell{Row: int(math.Floor(pt.Row)), Col: int(math.Floor(pt.Col))}
	switch {
	case fr && fc:
		return Cell{}, false, fmt.Errorf("start %v: %w", pt, ErrOffSegment)
	case !fr && !fc:
		return cell, false, nil
	}

	v := h.Vector()
	if (fr && v.DRow == 0) || (fc && v.DCol == 0) {
		return Cell{}, false, fmt.Errorf("start %v facing %v: %w", pt, h, ErrOffSegment)
	}
	if fr {
		cell.Row = nextAlong(pt.Row, v.DRow)
	} else {
		cell.Col = nextAlong(pt.Col, v.DCol)
	}
	return cell, true, nil
}

func nextAlong(v float64, step int) int {
	if step > 0 {
		return int(math.Ceil(v))
	}
	return int(math.Floor(v))
}

// endNode returns the last node of the route and, for a mid-segment end,
// the synthetic direction from that node onto the end segment.
func endNode(pt Point) (Cell, *Direction, error) {
	fr, fc := fractional(pt.Row), fractional(pt.Col)
	cell := Cell{Row: int(math.Floor(pt.Row)), Col: int(math.Floor(pt.Col))}
	switch {
	case fr && fc:
		return Cell{}, nil, fmt.Errorf("end %v: %w", pt, ErrOffSegment)
	case fr:
		return cell, &Direction{DRow: 1}, nil
	case fc:
		return cell, &Direction{DCol: 1}, nil
	}
	return cell, nil, nil
}
