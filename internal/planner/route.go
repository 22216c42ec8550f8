package planner

// Route is an ordered sequence of adjacent cells from start to end.
type Route []Cell

// Edges returns the number of segments in the route.
func (r Route) Edges() int {
	if len(r) == 0 {
		return 0
	}
	return len(r) - 1
}

// ShortestRoute runs a breadth-first search from start and returns the first
// route found to end. A cell's parent is the cell that discovered it first,
// and neighbours are expanded in Neighbors order, so the result is
// deterministic.
//
// The route is empty when start equals end, when either cell lies outside
// the grid, or when end is unreachable. None of these is an error.
func ShortestRoute(g *Graph, start, end Cell) Route {
	if g == nil || !g.Contains(start) || !g.Contains(end) || start == end {
		return nil
	}

	parent := map[Cell]Cell{}
	visited := map[Cell]bool{start: true}
	queue := []Cell{start}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == end {
			return backtrack(parent, start, end)
		}
		for _, next := range g.Neighbors(cur) {
			if visited[next] {
				continue
			}
			visited[next] = true
			parent[next] = cur
			queue = append(queue, next)
		}
	}
	return nil
}

func backtrack(parent map[Cell]Cell, start, end Cell) Route {
	route := Route{end}
	for cur := end; cur != start; {
		cur = parent[cur]
		route = append(route, cur)
	}
	for i, j := 0, len(route)-1; i < j; i, j = i+1, j-1 {
		route[i], route[j] = route[j], route[i]
	}
	return route
}

// AbsoluteDirections returns the displacement of every route segment.
func AbsoluteDirections(route Route) []Direction {
	if len(route) < 2 {
		return nil
	}
	dirs := make([]Direction, 0, len(route)-1)
	for i := 1; i < len(route); i++ {
		dirs = append(dirs, Direction{
			DRow: route[i].Row - route[i-1].Row,
			DCol: route[i].Col - route[i-1].Col,
		})
	}
	return dirs
}
