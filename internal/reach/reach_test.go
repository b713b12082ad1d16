package reach

import (
	"slices"
	"testing"

	"cilgpu/internal/cfg"
	"cilgpu/internal/cil"
	"cilgpu/internal/trace"
)

func TestFilterSplitsChangeSet(t *testing.T) {
	g := cfg.NewGraph()
	m := &cil.Method{Name: "m", DeclaringType: cil.NewClass("K", "Kernel")}
	cs := g.StartChangeSet()
	for range 4 {
		g.AddVertex(m, []cil.Inst{{Op: cil.OpRet}}).Entry = 0
	}
	g.AddEdge(0, 1)
	// bb2 has no predecessor; bb3 is only reachable from bb2
	g.AddEdge(2, 3)
	ids := g.PopChangeSet(cs)

	res := Filter(g, ids, trace.Nop, 0)
	if !slices.Equal(res.Reachable, []cfg.VertexID{0, 1}) {
		t.Fatalf("reachable: got=%v", res.Reachable)
	}
	if !slices.Equal(res.Unreachable, []cfg.VertexID{2, 3}) {
		t.Fatalf("unreachable: got=%v", res.Unreachable)
	}
}

func TestFilterSkipsGenericBlocks(t *testing.T) {
	g := cfg.NewGraph()
	def := cil.NewClass("Gpu", "ArrayView")
	tp := def.AddGenericParam("T")
	m := &cil.Method{Name: "get", DeclaringType: def, HasThis: true}
	orig := g.AddVertex(m, nil)
	orig.Entry = orig.ID
	clone := g.AddClone(orig.ID, cil.Binding{Param: tp, Concrete: cil.Int32})
	clone.Entry = clone.ID

	res := Filter(g, []cfg.VertexID{orig.ID, clone.ID}, nil, 0)
	if !slices.Equal(res.Reachable, []cfg.VertexID{clone.ID}) {
		t.Fatalf("reachable: got=%v", res.Reachable)
	}
}
