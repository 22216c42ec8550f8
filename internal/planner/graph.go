// Package planner turns a grid mission into a turn itinerary.
//
// The line network is an N×N grid of intersections. A route is planned with
// breadth-first search over the grid adjacency matrix and then translated
// from absolute grid displacements into the relative turns the vehicle has
// to execute at each intersection.
package planner

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrInvalidGridSize = errors.New("grid size must be at least 1")
	ErrOutOfBounds     = errors.New("cell outside the grid")
	ErrNotAdjacent     = errors.New("cells are not adjacent")
)

// Cell identifies an intersection of the grid.
type Cell struct {
	Row int `json:"row" yaml:"row"`
	Col int `json:"col" yaml:"col"`
}

func (c Cell) String() string {
	return fmt.Sprintf("(%d,%d)", c.Row, c.Col)
}

// Graph is the undirected adjacency structure of an N×N grid. Entry (i, j)
// of the matrix is 1 when linear indices i and j are joined by a segment.
type Graph struct {
	n   int
	adj *mat.Dense
}

// BuildGraph connects every cell to its right and bottom neighbour when they
// are in bounds. The matrix is symmetric, so left and top links follow.
func BuildGraph(n int) (*Graph, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidGridSize, n)
	}
	g := &Graph{n: n, adj: mat.NewDense(n*n, n*n, nil)}
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			cur := g.index(Cell{r, c})
			if c+1 < n {
				right := g.index(Cell{r, c + 1})
				g.adj.Set(cur, right, 1)
				g.adj.Set(right, cur, 1)
			}
			if r+1 < n {
				bottom := g.index(Cell{r + 1, c})
				g.adj.Set(cur, bottom, 1)
				g.adj.Set(bottom, cur, 1)
			}
		}
	}
	return g, nil
}

// Size returns N.
func (g *Graph) Size() int { return g.n }

// Contains reports whether c lies inside the grid.
func (g *Graph) Contains(c Cell) bool {
	return c.Row >= 0 && c.Row < g.n && c.Col >= 0 && c.Col < g.n
}

func (g *Graph) index(c Cell) int { return c.Row*g.n + c.Col }

func (g *Graph) cell(i int) Cell { return Cell{Row: i / g.n, Col: i % g.n} }

// Adjacent reports whether a segment joins a and b.
func (g *Graph) Adjacent(a, b Cell) bool {
	if !g.Contains(a) || !g.Contains(b) {
		return false
	}
	return g.adj.At(g.index(a), g.index(b)) != 0
}

// RemoveEdge deletes the segment between a and b, modelling a blocked line.
func (g *Graph) RemoveEdge(a, b Cell) error {
	if !g.Contains(a) || !g.Contains(b) {
		return fmt.Errorf("%w: %v-%v", ErrOutOfBounds, a, b)
	}
	if !g.Adjacent(a, b) {
		return fmt.Errorf("%w: %v-%v", ErrNotAdjacent, a, b)
	}
	i, j := g.index(a), g.index(b)
	g.adj.Set(i, j, 0)
	g.adj.Set(j, i, 0)
	return nil
}

// Neighbors returns the cells joined to c in increasing linear index order
// (row-major). Route tie-breaking depends on this order.
func (g *Graph) Neighbors(c Cell) []Cell {
	if !g.Contains(c) {
		return nil
	}
	var out []Cell
	for j, v := range g.adj.RawRowView(g.index(c)) {
		if v != 0 {
			out = append(out, g.cell(j))
		}
	}
	return out
}
