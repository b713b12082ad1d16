package cfg

import (
	"bytes"
	"slices"
	"strings"
	"testing"

	"cilgpu/internal/cil"
)

func method(name string) *cil.Method {
	return &cil.Method{Name: name, DeclaringType: cil.NewClass("T", "C")}
}

// diamond builds 0→1, 0→2, 1→3, 2→3 of a single method.
func diamond(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph()
	m := method("diamond")
	for range 4 {
		v := g.AddVertex(m, []cil.Inst{{Op: cil.OpNop}})
		v.Entry = 0
	}
	g.AddEdge(0, 1)
	g.AddEdge(0, 2)
	g.AddEdge(1, 3)
	g.AddEdge(2, 3)
	return g
}

func TestChangeSets(t *testing.T) {
	g := NewGraph()
	m := method("m")
	outer := g.StartChangeSet()
	g.AddVertex(m, nil)
	inner := g.StartChangeSet()
	if inner == outer {
		t.Fatal("change set ids must be distinct")
	}
	g.AddVertex(m, nil)
	g.AddVertex(m, nil)
	if got := g.PopChangeSet(inner); !slices.Equal(got, []VertexID{1, 2}) {
		t.Fatalf("inner: got=%v", got)
	}
	if got := g.PopChangeSet(outer); !slices.Equal(got, []VertexID{0, 1, 2}) {
		t.Fatalf("outer: got=%v", got)
	}
	if got := g.PopChangeSet(outer); got != nil {
		t.Fatalf("popping twice: got=%v want=nil", got)
	}
	if got := g.PopChangeSet(99); got != nil {
		t.Fatalf("unknown id: got=%v want=nil", got)
	}
}

func TestAddEdgeDedupAndOrder(t *testing.T) {
	g := diamond(t)
	g.AddEdge(0, 1)
	if got := g.Successors(0); !slices.Equal(got, []VertexID{1, 2}) {
		t.Fatalf("succ: got=%v", got)
	}
	if got := g.Predecessors(3); !slices.Equal(got, []VertexID{1, 2}) {
		t.Fatalf("pred: got=%v", got)
	}
}

func TestAddCloneTracksInstantiation(t *testing.T) {
	g := NewGraph()
	def := cil.NewClass("Gpu", "ArrayView")
	tp := def.AddGenericParam("T")
	orig := g.AddVertex(method("m"), []cil.Inst{{Op: cil.OpRet}})
	orig.Entry = orig.ID

	a := g.AddClone(orig.ID, cil.Binding{Param: tp, Concrete: cil.Int32})
	b := g.AddClone(a.ID, cil.Binding{Param: cil.NewClass("X", "Y").AddGenericParam("U"), Concrete: cil.Int64})

	if g.IsFullyInstantiated(orig.ID) || g.IsFullyInstantiated(a.ID) || !g.IsFullyInstantiated(b.ID) {
		t.Fatal("only the chain leaf is fully instantiated")
	}
	if b.Original != orig.ID || b.Previous != a.ID {
		t.Fatalf("links: original=%s previous=%s", b.Original, b.Previous)
	}
	if len(b.OpsFromOriginal) != 2 || len(a.OpsFromOriginal) != 1 {
		t.Fatalf("ops: a=%s b=%s", a.OpsFromOriginal, b.OpsFromOriginal)
	}
	if !b.IsReturn() || b.IsEntry() {
		t.Fatal("clone shares instructions but not entry")
	}
	if got := g.Entries(); len(got) != 0 {
		t.Fatalf("entries: got=%v want none (original has clones)", got)
	}
}

func TestPreorder(t *testing.T) {
	g := diamond(t)
	if got := Preorder(g, []VertexID{0}, nil); !slices.Equal(got, []VertexID{0, 1, 3, 2}) {
		t.Fatalf("preorder: got=%v", got)
	}
	skip2 := func(id VertexID) bool { return id != 2 }
	if got := Preorder(g, []VertexID{0}, skip2); !slices.Equal(got, []VertexID{0, 1, 3}) {
		t.Fatalf("filtered preorder: got=%v", got)
	}
}

func TestTopoNoBackEdges(t *testing.T) {
	g := NewGraph()
	m := method("loop")
	for range 4 {
		g.AddVertex(m, nil).Entry = 0
	}
	// 0 → 1 → 2 → 1 (loop), 2 → 3
	g.AddEdge(0, 1)
	g.AddEdge(1, 2)
	g.AddEdge(2, 1)
	g.AddEdge(2, 3)

	topo := TopoNoBackEdges(g, []VertexID{0}, []VertexID{3, 2, 1, 0})
	if !slices.Equal(topo.Order, []VertexID{0, 1, 2, 3}) {
		t.Fatalf("order: got=%v", topo.Order)
	}
	if len(topo.BackEdges) != 1 || topo.BackEdges[0] != (Edge{From: 2, To: 1}) {
		t.Fatalf("back edges: got=%v", topo.BackEdges)
	}
}

func TestTopoTiesBrokenByID(t *testing.T) {
	g := diamond(t)
	topo := TopoNoBackEdges(g, []VertexID{0}, []VertexID{0, 2, 1, 3})
	if !slices.Equal(topo.Order, []VertexID{0, 1, 2, 3}) {
		t.Fatalf("order: got=%v", topo.Order)
	}
}

func TestDump(t *testing.T) {
	g := diamond(t)
	var buf bytes.Buffer
	if err := g.Dump(&buf, true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "bb0 [diamond] entry=bb0 -> bb1, bb2") {
		t.Fatalf("dump:\n%s", buf.String())
	}
}
