package cfg

import "slices"

// Topo is a topological order of a block set with back edges removed.
type Topo struct {
	Order     []VertexID
	BackEdges []Edge
}

// TopoNoBackEdges orders set so every block follows its forward
// predecessors: back edges found by a DFS from roots are dropped, then Kahn's
// algorithm runs with ties broken by vertex id. Blocks the DFS never reaches
// are still ordered; any cycle among them is broken at the smallest id.
func TopoNoBackEdges(g *Graph, roots []VertexID, set []VertexID) *Topo {
	in := make(map[VertexID]bool, len(set))
	for _, id := range set {
		in[id] = true
	}
	back := BackEdges(g, roots, in)
	isBack := make(map[Edge]bool, len(back))
	for _, e := range back {
		isBack[e] = true
	}

	indeg := make(map[VertexID]int, len(set))
	for _, id := range set {
		indeg[id] += 0
		for _, to := range g.Successors(id) {
			if in[to] && !isBack[Edge{From: id, To: to}] {
				indeg[to]++
			}
		}
	}

	topo := &Topo{Order: make([]VertexID, 0, len(set)), BackEdges: back}
	done := make(map[VertexID]bool, len(set))
	ready := make([]VertexID, 0, len(set))
	for _, id := range set {
		if indeg[id] == 0 {
			ready = append(ready, id)
		}
	}
	for len(topo.Order) < len(in) {
		if len(ready) == 0 {
			// leftover cycle outside the DFS: release its smallest member
			lowest := NoVertex
			for _, id := range set {
				if !done[id] && (lowest == NoVertex || id < lowest) {
					lowest = id
				}
			}
			ready = append(ready, lowest)
		}
		slices.Sort(ready)
		id := ready[0]
		ready = ready[1:]
		if done[id] {
			continue
		}
		done[id] = true
		topo.Order = append(topo.Order, id)
		for _, to := range g.Successors(id) {
			if !in[to] || done[to] || isBack[Edge{From: id, To: to}] {
				continue
			}
			indeg[to]--
			if indeg[to] == 0 {
				ready = append(ready, to)
			}
		}
	}
	return topo
}
