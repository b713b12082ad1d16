package progfile

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"cilgpu/internal/cfg"
	"cilgpu/internal/cil"
)

func loadSum(t *testing.T) *Program {
	t.Helper()
	f, err := Load(filepath.Join("testdata", "sum.cil.toml"))
	if err != nil {
		t.Fatal(err)
	}
	p, err := Build(f, nil)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestBuildSum(t *testing.T) {
	p := loadSum(t)
	if p.Name != "sum" {
		t.Fatalf("got name=%q want=sum", p.Name)
	}
	if got := p.Kernel.FullName(); got != "System.Int32 Gpu.Program::Kernel(Gpu.ArrayView`1<System.Int32>)" {
		t.Fatalf("got kernel=%s", got)
	}
	if len(p.Concrete) != 1 || p.Concrete[0].Type.FullName() != "Gpu.ArrayView`1<System.Int32>" {
		t.Fatalf("got concrete=%v", p.Concrete)
	}
	if p.Concrete[0].Source != "Gpu.ArrayView<int>" {
		t.Fatalf("got source=%q", p.Concrete[0].Source)
	}
	if len(p.Blocks) != 4 {
		t.Fatalf("got %d blocks want=4", len(p.Blocks))
	}

	get := p.Methods["Gpu.ArrayView::Get"]
	if get == nil || !get.HasThis || get.ReturnType.Kind != cil.KindGenericParam {
		t.Fatalf("got Get=%v", get)
	}
	if x := p.Methods["Gpu.ThreadIdx::get_X"]; x.Intrinsic != "llvm.nvvm.read.ptx.sreg.tid.x" {
		t.Fatalf("got intrinsic=%q", x.Intrinsic)
	}
}

func TestBuildBlocksAndEdges(t *testing.T) {
	p := loadSum(t)
	g := p.Graph
	var kernel []*cfg.Vertex
	for _, id := range p.Blocks {
		if v := g.Vertex(id); v.Method == p.Kernel {
			kernel = append(kernel, v)
		}
	}
	if len(kernel) != 3 {
		t.Fatalf("got %d kernel blocks want=3", len(kernel))
	}
	entry := kernel[0]
	if !entry.IsEntry() || entry.Label != "entry" {
		t.Fatalf("got entry=%v label=%q", entry.IsEntry(), entry.Label)
	}
	for _, v := range kernel[1:] {
		if v.Entry != entry.ID {
			t.Fatalf("%s: got entry=%s want=%s", v.ID, v.Entry, entry.ID)
		}
	}
	want := []cfg.VertexID{kernel[2].ID, kernel[1].ID}
	if got := g.Successors(entry.ID); !slices.Equal(got, want) {
		t.Fatalf("got succ=%v want=%v", got, want)
	}

	call := kernel[1].Instructions[2]
	if call.Op != cil.OpCall || call.Method != p.Methods["Gpu.ArrayView::Get"] {
		t.Fatalf("got call=%v", call)
	}
	if call.On == nil || call.On.FullName() != "Gpu.ArrayView`1<System.Int32>" {
		t.Fatalf("got on=%v", call.On)
	}
	if last, _ := entry.Last(); last.Op != cil.OpBgt {
		t.Fatalf("got last=%v want=bgt", last)
	}
}

func TestParseType(t *testing.T) {
	view := cil.NewClass("Gpu", "ArrayView")
	tp := view.AddGenericParam("T")
	pair := cil.NewStruct("Gpu", "Pair")
	pair.AddGenericParam("A")
	pair.AddGenericParam("B")
	sc := &scope{
		types:  map[string]*cil.Type{"Gpu.ArrayView": view, "Gpu.Pair": pair},
		params: []*cil.Type{tp},
	}
	cases := []struct {
		expr, want string
	}{
		{"int", "System.Int32"},
		{"System.Double", "System.Double"},
		{"T[]", "T[]"},
		{"float[][]", "System.Single[][]"},
		{"Gpu.ArrayView<T>", "Gpu.ArrayView`1<T>"},
		{"Gpu.ArrayView`1<long>", "Gpu.ArrayView`1<System.Int64>"},
		{"Gpu.Pair<int, Gpu.ArrayView<byte>>[]", "Gpu.Pair`2<System.Int32,Gpu.ArrayView`1<System.Byte>>[]"},
	}
	for _, c := range cases {
		got, err := sc.ParseType(c.expr)
		if err != nil {
			t.Fatalf("%s: %v", c.expr, err)
		}
		if got.FullName() != c.want {
			t.Fatalf("%s: got=%s want=%s", c.expr, got.FullName(), c.want)
		}
	}

	bad := []string{"", "Nope", "Gpu.ArrayView", "Gpu.ArrayView<int,int>", "int<int>", "int[", "Gpu.Pair`3<int,int>", "int x"}
	for _, expr := range bad {
		if _, err := sc.ParseType(expr); err == nil {
			t.Fatalf("%q: expected error", expr)
		}
	}
}

const minimal = `
[program]
kernel = "K::Main"

[[types]]
name = "K"

[[methods]]
type = "K"
name = "Main"
params = ["int"]
returns = "int"

  [[methods.blocks]]
  code = [%s]
`

func buildBody(t *testing.T, code string) error {
	t.Helper()
	f, err := Parse("mem.cil.toml", strings.Replace(minimal, "%s", code, 1))
	if err != nil {
		return err
	}
	_, err = Build(f, nil)
	return err
}

func TestInstructionOperands(t *testing.T) {
	f, err := Parse("mem.cil.toml", strings.Replace(minimal, "%s", `"ldarg 0", "ldc.i4 0x10", "add", "ldc.r8 2.5", "conv.i4", "add", "ret"`, 1))
	if err != nil {
		t.Fatal(err)
	}
	if f.Program.Name != "mem" {
		t.Fatalf("got default name=%q want=mem", f.Program.Name)
	}
	p, err := Build(f, nil)
	if err != nil {
		t.Fatal(err)
	}
	insts := p.Graph.Vertex(p.Blocks[0]).Instructions
	if insts[1].Int != 16 {
		t.Fatalf("got ldc.i4=%d want=16", insts[1].Int)
	}
	if insts[3].Float != 2.5 {
		t.Fatalf("got ldc.r8=%g want=2.5", insts[3].Float)
	}
	if p.Kernel.Params[0].Name != "p0" {
		t.Fatalf("got param=%q want=p0", p.Kernel.Params[0].Name)
	}
}

func TestInstructionErrors(t *testing.T) {
	cases := []struct{ in, want string }{
		{`"frob"`, "unknown opcode"},
		{`"ldc.i4 4294967296"`, "ldc.i4"},
		{`"ldarg 1"`, "method has 1 slots"},
		{`"ldloc 0"`, "method has 0 slots"},
		{`"ldarg"`, "needs an operand"},
		{`"add 1"`, "takes no operand"},
		{`"call K::Missing"`, "unknown method"},
		{`"ldc.r4 abc"`, "ldc.r4"},
		{`"call K::Main on int"`, "not an instance"},
	}
	for _, c := range cases {
		err := buildBody(t, c.in)
		if err == nil || !strings.Contains(err.Error(), c.want) {
			t.Fatalf("%s: got err=%v want containing %q", c.in, err, c.want)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := []struct{ in, want string }{
		{"[[types]]\nname = \"K\"\n", "missing [program] section"},
		{"[program]\nname = \"x\"\n", "missing [program].kernel"},
		{"[program]\nkernel = \"K::M\"\nbogus = 1\n", "unknown keys: program.bogus"},
		{"[program]\nkernel = \"K::M\"\n[[types]]\nkind = \"class\"\n", "missing name"},
		{"[program]\nkernel = \"K::M\"\n[[types]]\nname = \"K\"\nkind = \"enum\"\n", "unknown kind"},
		{"[program\n", "failed to parse TOML"},
	}
	for _, c := range cases {
		_, err := Parse("x.toml", c.in)
		if err == nil || !strings.Contains(err.Error(), c.want) {
			t.Fatalf("%q: got err=%v want containing %q", c.in, err, c.want)
		}
	}
}

func TestBuildErrors(t *testing.T) {
	cases := []struct{ in, want string }{
		{"[program]\nkernel = \"K::M\"\n[[types]]\nname = \"K\"\n", "kernel \"K::M\" is not declared"},
		{"[program]\nkernel = \"K::M\"\n[[methods]]\ntype = \"K\"\nname = \"M\"\n", "unknown type K"},
		{"[program]\nkernel = \"K::M\"\nconcrete = [\"G<T>\"]\n[[types]]\nname = \"G\"\ngeneric = [\"T\"]\n[[types]]\nname = \"K\"\n[[methods]]\ntype = \"K\"\nname = \"M\"\n", "unknown type \"T\""},
		{"[program]\nkernel = \"K::M\"\n[[types]]\nname = \"K\"\n[[types]]\nname = \"K\"\n", "declared twice"},
		{"[program]\nkernel = \"K::M\"\n[[types]]\nname = \"K\"\n[[methods]]\ntype = \"K\"\nname = \"M\"\n[[methods.blocks]]\ncode = [\"ret\"]\nnext = [3]\n", "out of range"},
	}
	for _, c := range cases {
		f, err := Parse("x.toml", c.in)
		if err != nil {
			t.Fatalf("%q: parse: %v", c.in, err)
		}
		_, err = Build(f, nil)
		if err == nil || !strings.Contains(err.Error(), c.want) {
			t.Fatalf("%q: got err=%v want containing %q", c.in, err, c.want)
		}
	}
}

func TestFindWalksUp(t *testing.T) {
	root := t.TempDir()
	deep := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(deep, 0o755); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(root, "a", "k.cil.toml")
	if err := os.WriteFile(want, []byte("[program]\nkernel = \"K::M\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, ok, err := Find(deep)
	if err != nil || !ok || got != want {
		t.Fatalf("got=%q ok=%v err=%v want=%q", got, ok, err, want)
	}
}
