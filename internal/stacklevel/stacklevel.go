// Package stacklevel computes the operand stack depth at the entry and exit
// of every block. Depths count the this/argument/local slots, which sit at
// the bottom of the stack.
package stacklevel

import (
	"fmt"
	"slices"

	"cilgpu/internal/cfg"
	"cilgpu/internal/trace"
)

// Result describes one run.
type Result struct {
	Rounds int
	// Inconsistent lists blocks whose predecessors disagreed on the level;
	// the maximum was used.
	Inconsistent []cfg.VertexID
}

// Floor is the depth of the this/argument/local slots of v.
func Floor(v *cfg.Vertex) int {
	n := v.NumArgs + v.NumLocals
	if v.HasThis {
		n++
	}
	return n
}

// Compute assigns StackLevelIn and StackLevelOut to every block of blocks.
// blocks must be reachable and fully instantiated.
func Compute(g *cfg.Graph, blocks []cfg.VertexID, tracer trace.Tracer, parent uint64) (Result, error) {
	span := trace.Begin(tracer, trace.ScopePass, "stacklevel", parent)
	defer span.End("")

	inSet := make(map[cfg.VertexID]bool, len(blocks))
	for _, id := range blocks {
		inSet[id] = true
	}
	var roots []cfg.VertexID
	for _, id := range blocks {
		if g.Vertex(id).IsEntry() {
			roots = append(roots, id)
		}
	}
	order := cfg.Preorder(g, roots, func(id cfg.VertexID) bool { return inSet[id] })
	if len(order) < len(inSet) {
		placed := make(map[cfg.VertexID]bool, len(order))
		for _, id := range order {
			placed[id] = true
		}
		var rest []cfg.VertexID
		for id := range inSet {
			if !placed[id] {
				rest = append(rest, id)
			}
		}
		slices.Sort(rest)
		order = append(order, rest...)
	}

	work := make(map[cfg.VertexID]bool, len(blocks))
	for _, id := range blocks {
		work[id] = true
	}
	visits := make(map[cfg.VertexID]int, len(blocks))
	inconsistent := make(map[cfg.VertexID]bool)
	var res Result

	for len(work) > 0 {
		res.Rounds++
		progress := false
		for _, id := range order {
			if !work[id] {
				continue
			}
			v := g.Vertex(id)
			in, ok := levelIn(g, v, inconsistent)
			if !ok {
				continue
			}
			delete(work, id)
			progress = true
			visits[id]++
			if visits[id] > len(blocks)+1 {
				return res, &StackConsistencyError{Kind: ErrDiverges, Block: id, Got: in}
			}

			out, err := walk(v, in)
			if err != nil {
				return res, err
			}
			v.StackLevelIn = &in
			v.StackLevelOut = &out
			trace.Point(tracer, trace.ScopeBlock, "block:"+id.String(), fmt.Sprintf("in=%d out=%d", in, out), span.ID())

			if v.IsReturn() {
				want := Floor(v)
				if v.HasReturnValue {
					want++
				}
				if out != want {
					return res, &StackConsistencyError{Kind: ErrReturnLevel, Block: id, Got: out, Want: want}
				}
				continue
			}
			for _, s := range g.Successors(id) {
				sv := g.Vertex(s)
				if !inSet[s] || sv.Method != v.Method {
					continue
				}
				if sv.IsEntry() {
					// a loop back to the entry must arrive with an empty stack
					if want := Floor(sv); out != want {
						return res, &StackConsistencyError{Kind: ErrEntryLevel, Block: id, Got: out, Want: want}
					}
					continue
				}
				if sv.StackLevelIn == nil || *sv.StackLevelIn < out {
					work[s] = true
				}
			}
		}
		if !progress {
			var left []cfg.VertexID
			for id := range work {
				left = append(left, id)
			}
			slices.Sort(left)
			return res, &StackConsistencyError{Kind: ErrNoProgress, Block: left[0], Got: len(left)}
		}
	}

	for id := range inconsistent {
		res.Inconsistent = append(res.Inconsistent, id)
	}
	slices.Sort(res.Inconsistent)
	for _, id := range res.Inconsistent {
		trace.Point(tracer, trace.ScopeBlock, "block:"+id.String(), "predecessors disagree on stack level", span.ID())
	}
	span.WithExtra("rounds", fmt.Sprint(res.Rounds))
	return res, nil
}

// levelIn derives the entry depth of v. Non-entry blocks take the maximum out
// level of their computed same-method predecessors; ok is false while none
// is computed.
func levelIn(g *cfg.Graph, v *cfg.Vertex, inconsistent map[cfg.VertexID]bool) (int, bool) {
	if v.IsEntry() {
		return Floor(v), true
	}
	level, have := 0, false
	for _, p := range g.Predecessors(v.ID) {
		pv := g.Vertex(p)
		if pv.Method != v.Method || pv.StackLevelOut == nil {
			continue
		}
		out := *pv.StackLevelOut
		switch {
		case !have:
			level, have = out, true
		case out != level:
			inconsistent[v.ID] = true
			level = max(level, out)
		}
	}
	return level, have
}

func walk(v *cfg.Vertex, in int) (int, error) {
	floor := Floor(v)
	level := in
	for _, inst := range v.Instructions {
		pop, push := inst.StackDelta()
		level -= pop
		if level < floor {
			return 0, &StackConsistencyError{Kind: ErrUnderflow, Block: v.ID, Inst: inst.String(), Got: level, Want: floor}
		}
		level += push
	}
	return level, nil
}
