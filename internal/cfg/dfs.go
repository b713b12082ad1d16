package cfg

import "slices"

// Preorder walks the graph depth-first from roots, visiting successors in
// recorded order. keep filters the vertices entered; nil keeps everything.
func Preorder(g *Graph, roots []VertexID, keep func(VertexID) bool) []VertexID {
	visited := make([]bool, g.Len())
	out := make([]VertexID, 0, g.Len())
	stack := make([]VertexID, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, roots[i])
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if g.Vertex(id) == nil || visited[id] || (keep != nil && !keep(id)) {
			continue
		}
		visited[id] = true
		out = append(out, id)
		succ := g.Successors(id)
		for i := len(succ) - 1; i >= 0; i-- {
			if !visited[succ[i]] {
				stack = append(stack, succ[i])
			}
		}
	}
	return out
}

// Edge is a directed edge.
type Edge struct {
	From, To VertexID
}

// BackEdges classifies the edges inside set that close a cycle in a DFS
// from roots. Edges leaving set are ignored.
func BackEdges(g *Graph, roots []VertexID, set map[VertexID]bool) []Edge {
	const (
		white = iota
		grey
		black
	)
	color := make([]uint8, g.Len())
	var back []Edge

	type frame struct {
		id   VertexID
		next int
	}
	for _, root := range roots {
		if !set[root] || color[root] != white {
			continue
		}
		color[root] = grey
		stack := []frame{{id: root}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			succ := g.Successors(top.id)
			if top.next >= len(succ) {
				color[top.id] = black
				stack = stack[:len(stack)-1]
				continue
			}
			to := succ[top.next]
			top.next++
			if !set[to] {
				continue
			}
			switch color[to] {
			case grey:
				back = append(back, Edge{From: top.id, To: to})
			case white:
				color[to] = grey
				stack = append(stack, frame{id: to})
			}
		}
	}
	slices.SortFunc(back, func(a, b Edge) int {
		if a.From != b.From {
			return int(a.From - b.From)
		}
		return int(a.To - b.To)
	})
	return back
}
