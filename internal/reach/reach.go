// Package reach drops blocks that no compiled method entry can reach.
package reach

import (
	"fmt"

	"cilgpu/internal/cfg"
	"cilgpu/internal/trace"
)

// Result splits a change set. Both halves keep the input order.
type Result struct {
	Reachable   []cfg.VertexID
	Unreachable []cfg.VertexID
}

// Filter walks the whole graph from every fully instantiated entry, staying
// on fully instantiated blocks, and partitions changeSet accordingly.
func Filter(g *cfg.Graph, changeSet []cfg.VertexID, tracer trace.Tracer, parent uint64) Result {
	span := trace.Begin(tracer, trace.ScopePass, "reach", parent)
	defer span.End("")

	seen := make(map[cfg.VertexID]bool, g.Len())
	for _, id := range cfg.Preorder(g, g.Entries(), g.IsFullyInstantiated) {
		seen[id] = true
	}

	var res Result
	for _, id := range changeSet {
		if seen[id] {
			res.Reachable = append(res.Reachable, id)
		} else {
			res.Unreachable = append(res.Unreachable, id)
		}
	}
	span.WithExtra("reachable", fmt.Sprint(len(res.Reachable))).
		WithExtra("unreachable", fmt.Sprint(len(res.Unreachable)))
	return res
}
