package device

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
)

func kernelModule() (*ir.Module, *ir.Func) {
	m := ir.NewModule()
	f := m.NewFunc("nn_0", types.Void, ir.NewParam("", types.NewPointer(types.I32)))
	b := f.NewBlock("bb0")
	b.NewStore(constant.NewInt(types.I32, 7), f.Params[0])
	b.NewRet(nil)
	return m, f
}

type fakeCompiler struct {
	calls int
	err   error
}

func (c *fakeCompiler) Compile(_ context.Context, llvmIR string) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return "//\n.version 3.2\n.target sm_35\n", nil
}

func TestSerializeAddsTargetAndAnnotation(t *testing.T) {
	m, f := kernelModule()
	text, err := Serialize(m, f, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`target triple = "nvptx64-nvidia-cuda"`,
		`target datalayout = "e-p:64:64:64`,
		"!nvvm.annotations = !{!0}",
		`!0 = !{void (i32*)* @nn_0, !"kernel", i32 1}`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in:\n%s", want, text)
		}
	}
}

func TestSerializeErrors(t *testing.T) {
	m, f := kernelModule()
	var de *Error
	if _, err := Serialize(m, nil, ""); !errors.As(err, &de) || de.Stage != StageSerialize {
		t.Fatalf("nil kernel: got=%v", err)
	}
	if _, err := Serialize(m, f, "mips-unknown-none"); !errors.As(err, &de) || de.Stage != StageSerialize {
		t.Fatalf("unknown triple: got=%v", err)
	}
}

func TestPatchVersion(t *testing.T) {
	got := PatchVersion("//\n.version 3.2\n.target sm_35 // 3.2\n")
	want := "//\n.version 5.0\n.target sm_35 // 3.2\n"
	if got != want {
		t.Fatalf("got=%q want=%q", got, want)
	}
	if got := PatchVersion(".version 6.0\n"); got != ".version 6.0\n" {
		t.Fatalf("newer header changed: %q", got)
	}
}

func TestCacheRoundTrip(t *testing.T) {
	c, err := OpenCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	key := KeyOf("define void @k() { ret void }", "sm_50")
	var e Entry
	if found, err := c.Get(key, &e); err != nil || found {
		t.Fatalf("empty cache: found=%v err=%v", found, err)
	}
	if err := c.Put(key, &Entry{Kernel: "k", PTX: ".version 5.0"}); err != nil {
		t.Fatal(err)
	}
	found, err := c.Get(key, &e)
	if err != nil || !found {
		t.Fatalf("after put: found=%v err=%v", found, err)
	}
	if e.PTX != ".version 5.0" || e.Schema != cacheSchemaVersion || e.Created == 0 {
		t.Fatalf("entry: got=%+v", e)
	}
	if KeyOf("x", "sm_50") == KeyOf("x", "sm_60") {
		t.Fatal("cpu not part of the key")
	}
	if err := c.DropAll(); err != nil {
		t.Fatal(err)
	}
	if found, _ := c.Get(key, &e); found {
		t.Fatal("entry survived DropAll")
	}
}

func TestBridgeCachesCompiledPTX(t *testing.T) {
	cache, err := OpenCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	comp := &fakeCompiler{}
	loader := &NopLoader{}
	b := NewBridge(Options{Compiler: comp, Loader: loader, Cache: cache})

	m, f := kernelModule()
	art, err := b.Build(context.Background(), m, f, 0)
	if err != nil {
		t.Fatal(err)
	}
	if art.Cached || !strings.Contains(art.PTX, ".version 5.0") {
		t.Fatalf("first build: cached=%v ptx=%q", art.Cached, art.PTX)
	}
	again, err := b.Build(context.Background(), m, f, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Cached || comp.calls != 1 {
		t.Fatalf("second build: cached=%v compiles=%d", again.Cached, comp.calls)
	}
	loads := loader.Loads()
	if len(loads) != 2 || loads[1].Name() != "nn_0" || again.Function.Name() != "nn_0" {
		t.Fatalf("loads: got=%+v", loads)
	}
}

func TestBridgeWrapsCompilerFailure(t *testing.T) {
	b := NewBridge(Options{Compiler: &fakeCompiler{err: errors.New("ptxas exploded")}})
	m, f := kernelModule()
	_, err := b.Build(context.Background(), m, f, 0)
	var de *Error
	if !errors.As(err, &de) || de.Stage != StageCompile {
		t.Fatalf("got=%v want compile-stage error", err)
	}
	if !strings.Contains(err.Error(), "ptxas exploded") {
		t.Fatalf("cause lost: %v", err)
	}
}

func TestLLCCompilerMissingBinary(t *testing.T) {
	_, err := LLCCompiler{Path: "/nonexistent/llc"}.Compile(context.Background(), "")
	var de *Error
	if !errors.As(err, &de) || de.Stage != StageCompile {
		t.Fatalf("got=%v want compile-stage error", err)
	}
}
