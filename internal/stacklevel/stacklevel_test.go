package stacklevel

import (
	"errors"
	"testing"

	"cilgpu/internal/cfg"
	"cilgpu/internal/cil"
	"cilgpu/internal/testkit"
)

type builder struct {
	g *cfg.Graph
	m *cil.Method
}

// newBuilder models static int F(int a) with one local.
func newBuilder() *builder {
	return &builder{
		g: cfg.NewGraph(),
		m: &cil.Method{
			Name:          "F",
			DeclaringType: cil.NewClass("K", "Kernel"),
			Params:        []cil.Param{{Name: "a", Type: cil.Int32}},
			ReturnType:    cil.Int32,
			Locals:        []*cil.Type{cil.Int32},
		},
	}
}

func (b *builder) block(insts ...cil.Inst) cfg.VertexID {
	v := b.g.AddVertex(b.m, insts)
	v.Entry = 0
	v.NumArgs = 1
	v.NumLocals = 1
	v.HasReturnValue = true
	return v.ID
}

func (b *builder) ids() []cfg.VertexID {
	out := make([]cfg.VertexID, b.g.Len())
	for i := range out {
		out[i] = cfg.VertexID(i)
	}
	return out
}

func op(o cil.Op) cil.Inst { return cil.Inst{Op: o} }

func TestDiamondLevels(t *testing.T) {
	b := newBuilder()
	// if (a != 0) x = 1 else x = 2; return x
	b.block(cil.Inst{Op: cil.OpLdarg, Int: 0}, op(cil.OpBrtrue))
	b.block(cil.Inst{Op: cil.OpLdcI4, Int: 1}, op(cil.OpBr))
	b.block(cil.Inst{Op: cil.OpLdcI4, Int: 2}, op(cil.OpBr))
	b.block(op(cil.OpRet))
	b.g.AddEdge(0, 2)
	b.g.AddEdge(0, 1)
	b.g.AddEdge(1, 3)
	b.g.AddEdge(2, 3)

	res, err := Compute(b.g, b.ids(), nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Inconsistent) != 0 {
		t.Fatalf("inconsistent: %v", res.Inconsistent)
	}
	want := [][2]int{{2, 2}, {2, 3}, {2, 3}, {3, 3}}
	for i, w := range want {
		v := b.g.Vertex(cfg.VertexID(i))
		if *v.StackLevelIn != w[0] || *v.StackLevelOut != w[1] {
			t.Fatalf("bb%d: got=(%d,%d) want=(%d,%d)", i, *v.StackLevelIn, *v.StackLevelOut, w[0], w[1])
		}
	}
	if err := testkit.CheckStackLevels(b.g, b.ids()); err != nil {
		t.Fatal(err)
	}
}

func TestLoopConverges(t *testing.T) {
	b := newBuilder()
	// bb0: ldc 0; stloc 0 → bb1: ldloc 0; ldarg 0; blt bb1 | bb2; bb2: ldloc 0; ret
	b.block(cil.Inst{Op: cil.OpLdcI4}, cil.Inst{Op: cil.OpStloc, Int: 0})
	b.block(cil.Inst{Op: cil.OpLdloc}, cil.Inst{Op: cil.OpLdarg}, op(cil.OpBlt))
	b.block(cil.Inst{Op: cil.OpLdloc}, op(cil.OpRet))
	b.g.AddEdge(0, 1)
	b.g.AddEdge(1, 1)
	b.g.AddEdge(1, 2)

	if _, err := Compute(b.g, b.ids(), nil, 0); err != nil {
		t.Fatal(err)
	}
	if err := testkit.CheckStackLevels(b.g, b.ids()); err != nil {
		t.Fatal(err)
	}
}

func TestUnderflowIsFatal(t *testing.T) {
	b := newBuilder()
	b.block(op(cil.OpPop), op(cil.OpRet))
	_, err := Compute(b.g, b.ids(), nil, 0)
	var serr *StackConsistencyError
	if !errors.As(err, &serr) || serr.Kind != ErrUnderflow {
		t.Fatalf("expected underflow, got %v", err)
	}
	if serr.Want != 2 {
		t.Fatalf("floor: got=%d want=2", serr.Want)
	}
}

func TestReturnLevelMismatch(t *testing.T) {
	b := newBuilder()
	b.block(op(cil.OpRet))
	_, err := Compute(b.g, b.ids(), nil, 0)
	var serr *StackConsistencyError
	if !errors.As(err, &serr) || serr.Kind != ErrReturnLevel || serr.Got != 2 || serr.Want != 3 {
		t.Fatalf("expected return level error, got %v", err)
	}
}

func TestOrphanBlockReportsNoProgress(t *testing.T) {
	b := newBuilder()
	b.block(cil.Inst{Op: cil.OpLdcI4}, op(cil.OpRet))
	b.block(cil.Inst{Op: cil.OpLdcI4}, op(cil.OpRet))
	_, err := Compute(b.g, b.ids(), nil, 0)
	var serr *StackConsistencyError
	if !errors.As(err, &serr) || serr.Kind != ErrNoProgress || serr.Block != 1 {
		t.Fatalf("expected no-progress on bb1, got %v", err)
	}
}

func TestDisagreeingPredecessorsAreRecorded(t *testing.T) {
	b := newBuilder()
	b.block(cil.Inst{Op: cil.OpLdarg}, op(cil.OpBrtrue))
	b.block(cil.Inst{Op: cil.OpLdcI4}, op(cil.OpBr))
	b.block(cil.Inst{Op: cil.OpLdcI4}, cil.Inst{Op: cil.OpLdcI4}, op(cil.OpBr))
	b.block(op(cil.OpPop))
	b.g.AddEdge(0, 1)
	b.g.AddEdge(0, 2)
	b.g.AddEdge(1, 3)
	b.g.AddEdge(2, 3)

	res, err := Compute(b.g, b.ids(), nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Inconsistent) != 1 || res.Inconsistent[0] != 3 {
		t.Fatalf("inconsistent: got=%v want=[bb3]", res.Inconsistent)
	}
	if in := *b.g.Vertex(3).StackLevelIn; in != 4 {
		t.Fatalf("merge level: got=%d want=4 (maximum)", in)
	}
	if res.Rounds < 2 {
		t.Fatalf("rounds: got=%d, the merge must be revisited", res.Rounds)
	}
}

func TestLoopToEntryNeedsEmptyStack(t *testing.T) {
	b := newBuilder()
	b.block(cil.Inst{Op: cil.OpLdarg, Int: 0}, cil.Inst{Op: cil.OpLdarg, Int: 0}, op(cil.OpBrtrue))
	b.block(op(cil.OpRet))
	b.g.AddEdge(0, 0)
	b.g.AddEdge(0, 1)

	_, err := Compute(b.g, b.ids(), nil, 0)
	var se *StackConsistencyError
	if !errors.As(err, &se) || se.Kind != ErrEntryLevel {
		t.Fatalf("got=%v want entry level error", err)
	}
	if se.Got != 3 || se.Want != 2 {
		t.Fatalf("got=(%d,%d) want=(3,2)", se.Got, se.Want)
	}
}

func TestLoopToEntryAtFloor(t *testing.T) {
	b := newBuilder()
	b.block(cil.Inst{Op: cil.OpLdarg, Int: 0}, op(cil.OpBrtrue))
	b.block(cil.Inst{Op: cil.OpLdloc, Int: 0}, op(cil.OpRet))
	b.g.AddEdge(0, 0)
	b.g.AddEdge(0, 1)

	if _, err := Compute(b.g, b.ids(), nil, 0); err != nil {
		t.Fatal(err)
	}
	if err := testkit.CheckStackLevels(b.g, b.ids()); err != nil {
		t.Fatal(err)
	}
}
