// Package pipeline runs program descriptions through the JIT and the device
// bridge, reporting progress per file.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"time"

	"github.com/llir/llvm/ir"
	"golang.org/x/sync/errgroup"

	"cilgpu/internal/cil"
	"cilgpu/internal/device"
	"cilgpu/internal/jit"
	"cilgpu/internal/layout"
	"cilgpu/internal/observ"
	"cilgpu/internal/progfile"
	"cilgpu/internal/trace"
)

// Request configures the build of one program description.
type Request struct {
	Path   string
	OutDir string // defaults to the working directory

	EmitLLVM bool // write <name>.ll
	EmitPTX  bool // write <name>.ptx
	// LLVMOnly stops after IR emission; no device compiler is needed.
	LLVMOnly bool

	Device device.Options
	// Kernel, when set, adds the concrete types found in a live kernel value
	// to those the program lists.
	Kernel *KernelValue

	Tracer   trace.Tracer
	Flags    trace.Flags
	Out      io.Writer // flag-gated dumps
	Progress ProgressSink
}

// KernelValue is a Go value whose runtime types pick the specialisations to
// build. Register maps Go types onto the loaded program's types.
type KernelValue struct {
	Value    any
	Discover jit.TypeDiscoverer // defaults to jit.ReflectDiscoverer
	Register func(p *progfile.Program, b *jit.RegistryBridge) error
}

func (k *KernelValue) concrete(p *progfile.Program) ([]cil.ConcreteType, error) {
	b := jit.NewRegistryBridge()
	if k.Register != nil {
		if err := k.Register(p, b); err != nil {
			return nil, err
		}
	}
	d := k.Discover
	if d == nil {
		d = jit.ReflectDiscoverer{}
	}
	return jit.ConcreteTypes(k.Value, d, b)
}

// Result captures build artefacts and phase timings.
type Result struct {
	Path    string
	Name    string
	Kernel  string
	IR      string
	PTX     string
	Cached  bool
	LLPath  string
	PTXPath string
	Timer   *observ.Timer
}

// Build compiles the program at req.Path.
func Build(ctx context.Context, req *Request) (Result, error) {
	result := Result{Timer: observ.NewTimer()}
	if ctx == nil {
		ctx = context.Background()
	}
	if req == nil {
		return result, fmt.Errorf("missing build request")
	}
	if req.Path == "" {
		return result, fmt.Errorf("missing program path")
	}
	result.Path = req.Path
	tracer := req.Tracer
	if tracer == nil {
		tracer = trace.FromContext(ctx)
	}
	out := req.Out
	if out == nil {
		out = io.Discard
	}
	file := req.Path
	span := trace.Begin(tracer, trace.ScopeDriver, "build", trace.CurrentSpan(ctx))
	defer span.End(file)

	// stage runs fn as one timed stage with progress events around it.
	stage := func(st Stage, fn func() (string, error)) error {
		if err := ctx.Err(); err != nil {
			emitStage(req.Progress, file, st, StatusError, err, 0)
			return err
		}
		emitStage(req.Progress, file, st, StatusWorking, nil, 0)
		start := time.Now()
		idx := result.Timer.Begin(string(st))
		note, err := fn()
		result.Timer.End(idx, note)
		if err != nil {
			emitStage(req.Progress, file, st, StatusError, err, time.Since(start))
			return err
		}
		return nil
	}

	var prog *progfile.Program
	err := stage(StageLoad, func() (string, error) {
		f, err := progfile.Load(req.Path)
		if err != nil {
			return "", err
		}
		prog, err = progfile.Build(f, nil)
		if err != nil {
			return "", fmt.Errorf("%s: %w", req.Path, err)
		}
		return fmt.Sprintf("%d blocks", len(prog.Blocks)), nil
	})
	if err != nil {
		return result, err
	}
	result.Name = prog.Name

	target := layout.NVPTX64()
	if req.Device.Triple != "" {
		t, ok := layout.TargetByTriple(req.Device.Triple)
		if !ok {
			err := fmt.Errorf("unsupported target triple %q", req.Device.Triple)
			emitStage(req.Progress, file, StageCompile, StatusError, err, 0)
			return result, err
		}
		target = t
	}
	jctx := jit.NewContext(prog.Graph, jit.Options{Target: target, Tracer: tracer, Flags: req.Flags, Out: out})
	conv := jit.NewConverter(jctx, span.ID())

	blocks := prog.Blocks
	err = stage(StageInstantiate, func() (string, error) {
		concrete := prog.Concrete
		if req.Kernel != nil {
			found, err := req.Kernel.concrete(prog)
			if err != nil {
				return "", fmt.Errorf("kernel value: %w", err)
			}
			concrete = append(slices.Clone(concrete), found...)
		}
		expanded, err := conv.InstantiateGenerics(blocks, concrete)
		if err != nil {
			return "", fmt.Errorf("instantiate: %w", err)
		}
		note := fmt.Sprintf("%d -> %d blocks", len(blocks), len(expanded))
		blocks = expanded
		return note, nil
	})
	if err != nil {
		return result, err
	}

	var kernel *ir.Func
	err = stage(StageCompile, func() (string, error) {
		if err := conv.CompileToLLVM(blocks); err != nil {
			return "", fmt.Errorf("compile: %w", err)
		}
		fn, _, err := conv.Kernel(prog.Kernel)
		if err != nil {
			return "", err
		}
		kernel = fn
		result.Kernel = fn.Name()
		text, err := device.Serialize(jctx.Module, fn, target.Triple)
		if err != nil {
			return "", err
		}
		result.IR = text
		return result.Kernel, nil
	})
	if err != nil {
		return result, err
	}

	outDir := req.OutDir
	if outDir == "" {
		outDir = "."
	}
	if req.EmitLLVM {
		path, err := writeOutput(outDir, prog.Name+".ll", result.IR)
		if err != nil {
			emitStage(req.Progress, file, StageCompile, StatusError, err, 0)
			return result, err
		}
		result.LLPath = path
	}

	if !req.LLVMOnly {
		err = stage(StageCodegen, func() (string, error) {
			opts := req.Device
			opts.Triple = target.Triple
			if opts.Tracer == nil {
				opts.Tracer = tracer
			}
			opts.Flags |= req.Flags
			if opts.Out == nil {
				opts.Out = out
			}
			art, err := device.NewBridge(opts).Build(ctx, jctx.Module, kernel, span.ID())
			if err != nil {
				return "", err
			}
			result.PTX, result.Cached = art.PTX, art.Cached
			if art.Cached {
				return "cached", nil
			}
			return "", nil
		})
		if err != nil {
			return result, err
		}
		if req.EmitPTX {
			path, err := writeOutput(outDir, prog.Name+".ptx", result.PTX)
			if err != nil {
				emitStage(req.Progress, file, StageCodegen, StatusError, err, 0)
				return result, err
			}
			result.PTXPath = path
		}
	}

	last := StageCompile
	if !req.LLVMOnly {
		last = StageCodegen
	}
	emitStage(req.Progress, file, last, StatusDone, nil, durationOf(result.Timer))
	return result, nil
}

func durationOf(t *observ.Timer) time.Duration {
	return time.Duration(t.Report().TotalMS * float64(time.Millisecond))
}

func writeOutput(dir, name, text string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		return "", fmt.Errorf("failed to write %q: %w", path, err)
	}
	return path, nil
}

// BuildAll builds every request with at most jobs in flight. Each build owns
// its own JIT context. Results keep the order of reqs; the first error is
// returned and cancels builds that have not started a stage yet.
func BuildAll(ctx context.Context, reqs []*Request, jobs int) ([]Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	files := make([]string, 0, len(reqs))
	for _, r := range reqs {
		if r != nil {
			files = append(files, r.Path)
		}
	}
	if len(reqs) > 0 && reqs[0] != nil {
		emitQueued(reqs[0].Progress, files)
	}

	results := make([]Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, min(jobs, len(reqs))))
	for i, req := range reqs {
		g.Go(func() error {
			res, err := Build(gctx, req)
			results[i] = res
			return err
		})
	}
	err := g.Wait()
	return results, err
}
