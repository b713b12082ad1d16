package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"cilgpu/internal/cil"
	"cilgpu/internal/device"
	"cilgpu/internal/jit"
	"cilgpu/internal/progfile"
)

const sumPath = "testdata/sum.cil.toml"

type fakeCompiler struct {
	calls atomic.Int32
}

func (c *fakeCompiler) Compile(_ context.Context, llvmIR string) (string, error) {
	c.calls.Add(1)
	if !strings.Contains(llvmIR, "!nvvm.annotations") {
		return "", errors.New("missing kernel annotation")
	}
	return ".version 3.2\n.target sm_35\n", nil
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) trail(file string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.File == file {
			out = append(out, string(ev.Stage)+":"+string(ev.Status))
		}
	}
	return out
}

func TestBuildLLVMOnly(t *testing.T) {
	rec := &recorder{}
	dir := t.TempDir()
	res, err := Build(context.Background(), &Request{
		Path:     sumPath,
		OutDir:   dir,
		EmitLLVM: true,
		LLVMOnly: true,
		Progress: rec,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Name != "sum" || !strings.HasPrefix(res.Kernel, "nn_") {
		t.Fatalf("got name=%q kernel=%q", res.Name, res.Kernel)
	}
	for _, want := range []string{
		"nvptx64-nvidia-cuda",
		"@llvm.nvvm.read.ptx.sreg.tid.x",
		"!nvvm.annotations",
		"@" + res.Kernel,
	} {
		if !strings.Contains(res.IR, want) {
			t.Fatalf("IR misses %q:\n%s", want, res.IR)
		}
	}
	data, err := os.ReadFile(filepath.Join(dir, "sum.ll"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != res.IR || res.LLPath != filepath.Join(dir, "sum.ll") {
		t.Fatalf("got ll path=%q matching=%v", res.LLPath, string(data) == res.IR)
	}
	if res.PTX != "" {
		t.Fatalf("LLVMOnly produced PTX %q", res.PTX)
	}
	if got := len(res.Timer.Report().Phases); got != 3 {
		t.Fatalf("got phases=%d want=3", got)
	}

	want := []string{"load:working", "instantiate:working", "compile:working", "compile:done"}
	if got := rec.trail(sumPath); strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("got events=%v want=%v", got, want)
	}
}

func TestBuildWithDevice(t *testing.T) {
	comp := &fakeCompiler{}
	loader := &device.NopLoader{}
	dir := t.TempDir()
	res, err := Build(context.Background(), &Request{
		Path:    sumPath,
		OutDir:  dir,
		EmitPTX: true,
		Device:  device.Options{Compiler: comp, Loader: loader},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.PTX, ".version 5.0") {
		t.Fatalf("got ptx=%q", res.PTX)
	}
	if comp.calls.Load() != 1 {
		t.Fatalf("got compiles=%d want=1", comp.calls.Load())
	}
	loads := loader.Loads()
	if len(loads) != 1 || loads[0].Entry != res.Kernel {
		t.Fatalf("got loads=%v want entry %s", loads, res.Kernel)
	}
	if _, err := os.Stat(filepath.Join(dir, "sum.ptx")); err != nil {
		t.Fatal(err)
	}
	if res.LLPath != "" {
		t.Fatalf("got ll path=%q without EmitLLVM", res.LLPath)
	}
	if got := len(res.Timer.Report().Phases); got != 4 {
		t.Fatalf("got phases=%d want=4", got)
	}
}

func TestBuildCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &recorder{}
	_, err := Build(ctx, &Request{Path: sumPath, LLVMOnly: true, Progress: rec})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got err=%v want context.Canceled", err)
	}
	if got := rec.trail(sumPath); len(got) != 1 || got[0] != "load:error" {
		t.Fatalf("got events=%v", got)
	}
}

func TestBuildReportsLoadErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.cil.toml")
	if err := os.WriteFile(path, []byte("[program]\nkernel = \"K::M\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	_, err := Build(context.Background(), &Request{Path: path, LLVMOnly: true, Progress: rec})
	if err == nil || !strings.Contains(err.Error(), `kernel "K::M" is not declared`) {
		t.Fatalf("got err=%v", err)
	}
	got := rec.trail(path)
	if len(got) != 2 || got[1] != "load:error" {
		t.Fatalf("got events=%v", got)
	}
}

func TestBuildRejectsUnknownTriple(t *testing.T) {
	_, err := Build(context.Background(), &Request{
		Path:     sumPath,
		LLVMOnly: true,
		Device:   device.Options{Triple: "sparc-sun-solaris"},
	})
	if err == nil || !strings.Contains(err.Error(), "sparc-sun-solaris") {
		t.Fatalf("got err=%v", err)
	}
}

func TestBuildAll(t *testing.T) {
	rec := &recorder{}
	comp := &fakeCompiler{}
	mk := func(out string) *Request {
		return &Request{
			Path:     sumPath,
			OutDir:   out,
			EmitLLVM: true,
			Device:   device.Options{Compiler: comp},
			Progress: rec,
		}
	}
	reqs := []*Request{mk(t.TempDir()), mk(t.TempDir()), mk(t.TempDir())}
	results, err := BuildAll(context.Background(), reqs, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("got results=%d want=3", len(results))
	}
	for i, res := range results {
		if res.Name != "sum" || res.IR == "" || res.PTX == "" {
			t.Fatalf("result %d: name=%q ir=%d ptx=%d", i, res.Name, len(res.IR), len(res.PTX))
		}
		if res.Kernel != results[0].Kernel {
			t.Fatalf("result %d: got kernel=%s want=%s", i, res.Kernel, results[0].Kernel)
		}
	}
	if comp.calls.Load() != 3 {
		t.Fatalf("got compiles=%d want=3", comp.calls.Load())
	}
	queued := 0
	for _, s := range rec.trail(sumPath) {
		if s == "load:queued" {
			queued++
		}
	}
	if queued != 3 {
		t.Fatalf("got queued=%d want=3", queued)
	}
}

func TestBuildAllReturnsFirstError(t *testing.T) {
	reqs := []*Request{
		{Path: sumPath, LLVMOnly: true},
		{Path: filepath.Join(t.TempDir(), "missing.cil.toml"), LLVMOnly: true},
	}
	results, err := BuildAll(context.Background(), reqs, 1)
	if err == nil || !strings.Contains(err.Error(), "missing.cil.toml") {
		t.Fatalf("got err=%v", err)
	}
	if results[0].Name != "sum" {
		t.Fatalf("got first result=%+v", results[0])
	}
}

type intView struct {
	Data []int32
	Len  int32
}

// openSum writes the sum program without its concrete list.
func openSum(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(sumPath)
	if err != nil {
		t.Fatal(err)
	}
	text := strings.Replace(string(data), "concrete = [\"Gpu.ArrayView<int>\"]\n", "", 1)
	path := filepath.Join(t.TempDir(), "open.cil.toml")
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func registerView(p *progfile.Program, b *jit.RegistryBridge) error {
	view, ok := p.Types["Gpu.ArrayView"]
	if !ok {
		return errors.New("no Gpu.ArrayView")
	}
	b.Register(reflect.TypeOf(intView{}), cil.NewInstance(view, cil.Int32))
	return nil
}

func TestBuildTakesConcreteTypesFromKernelValue(t *testing.T) {
	res, err := Build(context.Background(), &Request{
		Path:     openSum(t),
		LLVMOnly: true,
		Kernel: &KernelValue{
			Value:    &intView{Data: []int32{1, 2}, Len: 2},
			Register: registerView,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.IR, "@"+res.Kernel) {
		t.Fatalf("IR misses kernel %s", res.Kernel)
	}
	if got := res.Timer.Report().Phases[1].Note; !strings.HasPrefix(got, "4 -> ") || got == "4 -> 4 blocks" {
		t.Fatalf("instantiate note: got=%q want new blocks", got)
	}
}

func TestBuildReportsUnmappedKernelTypes(t *testing.T) {
	type stray struct{ X float32 }
	rec := &recorder{}
	path := openSum(t)
	_, err := Build(context.Background(), &Request{
		Path:     path,
		LLVMOnly: true,
		Progress: rec,
		Kernel:   &KernelValue{Value: &stray{}, Register: registerView},
	})
	var nm *jit.NameResolutionMismatch
	if !errors.As(err, &nm) || len(nm.Missing) != 1 {
		t.Fatalf("got=%v want NameResolutionMismatch", err)
	}
	got := rec.trail(path)
	if len(got) == 0 || got[len(got)-1] != "instantiate:error" {
		t.Fatalf("got events=%v", got)
	}
}
