package state

import "sort"

// PointGraph is the static forward adjacency of trackside points in one
// region: point -> direction -> destination point. It is never mutated
// after construction and is safe for concurrent use.
type PointGraph struct {
	forward  map[int]map[uint32]int
	upstream map[int][]int
}

// NewPointGraph builds a graph from its forward adjacency. The input map is
// copied.
func NewPointGraph(structure map[int]map[uint32]int) *PointGraph {
	g := &PointGraph{
		forward:  make(map[int]map[uint32]int, len(structure)),
		upstream: make(map[int][]int),
	}
	seen := make(map[[2]int]bool)
	for from, dirs := range structure {
		out := make(map[uint32]int, len(dirs))
		for dir, to := range dirs {
			out[dir] = to
			if !seen[[2]int{from, to}] {
				seen[[2]int{from, to}] = true
				g.upstream[to] = append(g.upstream[to], from)
			}
		}
		g.forward[from] = out
	}
	// Upstream lists are sorted so predecessor matching is deterministic.
	for _, from := range g.upstream {
		sort.Ints(from)
	}
	return g
}

// Destination returns the point reached by leaving point in direction.
func (g *PointGraph) Destination(point int, direction uint32) (int, bool) {
	if g == nil {
		return 0, false
	}
	to, ok := g.forward[point][direction]
	return to, ok
}

// Upstream returns the points that feed into point, in ascending order.
// The returned slice must not be modified.
func (g *PointGraph) Upstream(point int) []int {
	if g == nil {
		return nil
	}
	return g.upstream[point]
}

// Adjacent returns the destination of every direction leaving point, in
// ascending order.
func (g *PointGraph) Adjacent(point int) []int {
	if g == nil {
		return nil
	}
	dirs := g.forward[point]
	out := make([]int, 0, len(dirs))
	for _, to := range dirs {
		out = append(out, to)
	}
	sort.Ints(out)
	return out
}

// Len returns the number of points with outgoing edges.
func (g *PointGraph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.forward)
}
