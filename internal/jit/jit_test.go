package jit

import (
	"bytes"
	"errors"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"

	"cilgpu/internal/cfg"
	"cilgpu/internal/cil"
	"cilgpu/internal/testkit"
	"cilgpu/internal/trace"
)

type program struct {
	ctx    *Context
	view   *cil.Type
	get    *cil.Method
	kernel *cil.Method
	blocks []cfg.VertexID
}

// newProgram reads two methods:
//
//	T ArrayView<T>.Get(int i) { return this.data[i]; }
//	static int Kernel(ArrayView<int> v) { return v.Get(0) + v.Get(1); }
func newProgram(t *testing.T, opts Options) *program {
	t.Helper()
	view := cil.NewClass("Gpu", "ArrayView")
	tp := view.AddGenericParam("T")
	view.Fields = []cil.Field{
		{Name: "data", Type: cil.NewArray(tp)},
		{Name: "len", Type: cil.Int32},
	}
	get := &cil.Method{
		Name:          "Get",
		DeclaringType: view,
		HasThis:       true,
		Params:        []cil.Param{{Name: "i", Type: cil.Int32}},
		ReturnType:    tp,
	}
	on := cil.NewInstance(view, cil.Int32)
	kernel := &cil.Method{
		Name:          "Kernel",
		DeclaringType: cil.NewClass("Gpu", "Program"),
		Params:        []cil.Param{{Name: "v", Type: on}},
		ReturnType:    cil.Int32,
	}

	g := cfg.NewGraph()
	cs := g.StartChangeSet()
	gv := g.AddVertex(get, []cil.Inst{
		{Op: cil.OpLdarg, Int: 0}, {Op: cil.OpLdfld, Field: "data"},
		{Op: cil.OpLdarg, Int: 1}, {Op: cil.OpLdelem}, {Op: cil.OpRet},
	})
	gv.Entry = gv.ID
	kv := g.AddVertex(kernel, []cil.Inst{
		{Op: cil.OpLdarg, Int: 0}, {Op: cil.OpLdcI4, Int: 0}, {Op: cil.OpCall, Method: get, On: on},
		{Op: cil.OpLdarg, Int: 0}, {Op: cil.OpLdcI4, Int: 1}, {Op: cil.OpCall, Method: get, On: on},
		{Op: cil.OpAdd}, {Op: cil.OpRet},
	})
	kv.Entry = kv.ID
	return &program{
		ctx:    NewContext(g, opts),
		view:   view,
		get:    get,
		kernel: kernel,
		blocks: g.PopChangeSet(cs),
	}
}

func (p *program) concrete() []cil.ConcreteType {
	return []cil.ConcreteType{{Type: cil.NewInstance(p.view, cil.Int32), Source: "ArrayView[int32]"}}
}

func calls(fn *ir.Func) []*ir.InstCall {
	var out []*ir.InstCall
	for _, b := range fn.Blocks {
		for _, inst := range b.Insts {
			if c, ok := inst.(*ir.InstCall); ok {
				out = append(out, c)
			}
		}
	}
	return out
}

func TestGenericArrayFieldLowersToConcreteElement(t *testing.T) {
	p := newProgram(t, Options{})
	fn, err := NewConverter(p.ctx, 0).Run(p.blocks, p.concrete(), p.kernel)
	if err != nil {
		t.Fatal(err)
	}
	if fn == nil || len(fn.Blocks) != 1 {
		t.Fatalf("kernel: got=%v", fn)
	}

	name := cil.NewInstance(p.view, cil.Int32).FullName()
	got, ok := p.ctx.Types.Global(name)
	if !ok {
		t.Fatalf("%s not committed", name)
	}
	st := got.(*types.PointerType).ElemType.(*types.StructType)
	arr := st.Fields[0].(*types.PointerType).ElemType.(*types.StructType)
	if want := types.NewPointer(types.I32); !arr.Fields[0].Equal(want) {
		t.Fatalf("data element: got=%s want=%s", arr.Fields[0], want)
	}
	for _, e := range p.ctx.Names.Entries() {
		if strings.Contains(e.Source, "T[]") || strings.HasSuffix(e.Source, "<T>") {
			t.Fatalf("generic placeholder materialised: %s", e.Source)
		}
	}
}

func TestSameInstantiationCompiledOnce(t *testing.T) {
	p := newProgram(t, Options{})
	c := NewConverter(p.ctx, 0)
	fn, err := c.Run(p.blocks, p.concrete(), p.kernel)
	if err != nil {
		t.Fatal(err)
	}
	if got := p.ctx.Mono.Clones(); got != 1 {
		t.Fatalf("clones: got=%d want=1", got)
	}
	cs := calls(fn)
	if len(cs) != 2 || cs[0].Callee != cs[1].Callee {
		t.Fatalf("both calls must target one specialisation: %d calls", len(cs))
	}
	if err := testkit.CheckNoDuplicateSpecializations(p.ctx.Graph); err != nil {
		t.Fatal(err)
	}
	funcs := len(p.ctx.Module.Funcs)

	// A second run over the same blocks and types reuses everything.
	again, err := c.Run(p.blocks, p.concrete(), p.kernel)
	if err != nil {
		t.Fatal(err)
	}
	if again != fn {
		t.Fatal("second run returned a different kernel function")
	}
	if got := p.ctx.Mono.Clones(); got != 1 {
		t.Fatalf("clones after rerun: got=%d want=1", got)
	}
	if got := len(p.ctx.Module.Funcs); got != funcs {
		t.Fatalf("funcs after rerun: got=%d want=%d", got, funcs)
	}
}

func TestCompileSkipsGenericOriginal(t *testing.T) {
	p := newProgram(t, Options{})
	c := NewConverter(p.ctx, 0)
	blocks, err := c.InstantiateGenerics(p.blocks, p.concrete())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.CompileToLLVM(blocks); err != nil {
		t.Fatal(err)
	}
	orig := p.ctx.Graph.Vertex(p.blocks[0])
	if orig.AlreadyCompiled || orig.Block != nil {
		t.Fatal("generic original was compiled")
	}
	for _, id := range blocks[len(p.blocks):] {
		if !p.ctx.Graph.Vertex(id).AlreadyCompiled {
			t.Fatalf("%s not compiled", id)
		}
	}
	if c.EntryBlock(blocks[1]) == nil {
		t.Fatal("kernel entry not found")
	}
	if _, ok := c.Function(blocks[1]); !ok {
		t.Fatal("kernel function not recorded")
	}
}

func TestUnboundKernelReportsNoKernel(t *testing.T) {
	p := newProgram(t, Options{})
	_, err := NewConverter(p.ctx, 0).Run(p.blocks[:1], nil, p.get)
	if !errors.Is(err, ErrNoKernel) {
		t.Fatalf("got=%v want ErrNoKernel", err)
	}
}

func TestDumpFlags(t *testing.T) {
	var out bytes.Buffer
	p := newProgram(t, Options{Flags: trace.FlagModule | trace.FlagNameTable, Out: &out})
	if _, err := NewConverter(p.ctx, 0).Run(p.blocks, p.concrete(), p.kernel); err != nil {
		t.Fatal(err)
	}
	text := out.String()
	for _, want := range []string{"nvptx64-nvidia-cuda", "define i32 @nn_", "Gpu.Program::Kernel"} {
		if !strings.Contains(text, want) {
			t.Fatalf("dump misses %q", want)
		}
	}
}

func TestBuiltinsDeclared(t *testing.T) {
	ctx := NewContext(cfg.NewGraph(), Options{})
	names := BuiltinNames()
	if len(names) != 12 {
		t.Fatalf("builtins: got=%d want=12", len(names))
	}
	fn, ok := ctx.Builtin("llvm.nvvm.read.ptx.sreg.ctaid.y")
	if !ok || !fn.Sig.RetType.Equal(types.I32) || len(fn.Params) != 0 {
		t.Fatalf("ctaid.y: got=%v", fn)
	}
	if len(ctx.Module.Funcs) != 12 {
		t.Fatalf("module funcs: got=%d want=12", len(ctx.Module.Funcs))
	}
}

type inner struct {
	Data []int32
}

type closure struct {
	N    int32
	View *inner
	Any  any
	Self *closure
}

func TestReflectDiscoverer(t *testing.T) {
	k := &closure{N: 3, View: &inner{Data: []int32{1, 2}}}
	k.Self = k
	k.Any = k.View

	got := ReflectDiscoverer{}.Discover(k)
	want := []reflect.Type{reflect.TypeOf(k), reflect.TypeOf(k.View), reflect.TypeOf(k.View.Data)}
	if !slices.Equal(got, want) {
		t.Fatalf("got=%v want=%v", got, want)
	}

	// A list of kernels is walked, not recorded.
	got = ReflectDiscoverer{}.Discover([]any{k, &inner{}})
	if len(got) != 3 || got[0] != reflect.TypeOf(k) {
		t.Fatalf("multicast: got=%v", got)
	}
}

func TestConcreteTypesThroughRegistry(t *testing.T) {
	view := cil.NewClass("Gpu", "ArrayView")
	view.AddGenericParam("T")
	closureT := cil.NewClass("Gpu", "Closure")

	b := NewRegistryBridge()
	b.Register(reflect.TypeOf(closure{}), closureT)
	b.Register(reflect.TypeOf(inner{}), cil.NewInstance(view, cil.Int32))

	k := &closure{View: &inner{Data: []int32{1}}}
	got, err := ConcreteTypes(k, ReflectDiscoverer{}, b)
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, len(got))
	for i, c := range got {
		names[i] = c.Type.FullName()
	}
	want := []string{"Gpu.Closure", "Gpu.ArrayView`1<System.Int32>", "System.Int32[]"}
	if !slices.Equal(names, want) {
		t.Fatalf("got=%v want=%v", names, want)
	}
	if got[1].DefinitionName() != "Gpu.ArrayView`1" {
		t.Fatalf("definition: got=%s", got[1].DefinitionName())
	}
}

func TestConcreteTypesMismatch(t *testing.T) {
	b := NewRegistryBridge()
	b.Register(reflect.TypeOf(closure{}), cil.NewClass("Gpu", "Closure"))
	_, err := ConcreteTypes(&closure{View: &inner{}}, ReflectDiscoverer{}, b)
	var nm *NameResolutionMismatch
	if !errors.As(err, &nm) {
		t.Fatalf("got=%v want NameResolutionMismatch", err)
	}
	if len(nm.Missing) != 1 || nm.Missing[0] != "*jit.inner" {
		t.Fatalf("missing: got=%v", nm.Missing)
	}
}
