package device

import (
	"context"
	"fmt"
	"io"

	"github.com/llir/llvm/ir"

	"cilgpu/internal/trace"
)

// Options configure a Bridge.
type Options struct {
	Triple   string // defaults to nvptx64-nvidia-cuda
	CPU      string
	Compiler Compiler
	Loader   Loader
	Cache    *Cache // optional
	Tracer   trace.Tracer
	Flags    trace.Flags
	Out      io.Writer // receives the PTX dump under FlagPTX
}

// Artifact is the result of one device build.
type Artifact struct {
	IR       string
	PTX      string
	Kernel   string
	Function Function
	Cached   bool
}

// Bridge serializes, compiles and loads kernels.
type Bridge struct {
	opts Options
}

// NewBridge creates a bridge. A nil Compiler selects LLCCompiler and a nil
// Loader a NopLoader.
func NewBridge(opts Options) *Bridge {
	if opts.Triple == "" {
		opts.Triple = "nvptx64-nvidia-cuda"
	}
	if opts.Compiler == nil {
		opts.Compiler = LLCCompiler{CPU: opts.CPU}
	}
	if opts.Loader == nil {
		opts.Loader = &NopLoader{}
	}
	if opts.Tracer == nil {
		opts.Tracer = trace.Nop
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Bridge{opts: opts}
}

// Build turns m into a loaded kernel entry.
func (b *Bridge) Build(ctx context.Context, m *ir.Module, kernel *ir.Func, parent uint64) (*Artifact, error) {
	span := trace.Begin(b.opts.Tracer, trace.ScopePass, "device", parent)
	defer span.End("")

	text, err := Serialize(m, kernel, b.opts.Triple)
	if err != nil {
		return nil, err
	}
	art := &Artifact{IR: text, Kernel: kernel.Name()}

	key := KeyOf(text, b.opts.CPU)
	var hit Entry
	found, err := b.opts.Cache.Get(key, &hit)
	if err != nil {
		return nil, &Error{Stage: StageCache, Err: err}
	}
	if found {
		art.PTX, art.Cached = hit.PTX, true
		trace.Point(b.opts.Tracer, trace.ScopePass, "device:cache", "hit "+key.String()[:12], span.ID())
	} else {
		ptx, err := b.opts.Compiler.Compile(ctx, text)
		if err != nil {
			return nil, wrap(StageCompile, err)
		}
		art.PTX = PatchVersion(ptx)
		err = b.opts.Cache.Put(key, &Entry{Triple: b.opts.Triple, CPU: b.opts.CPU, Kernel: art.Kernel, PTX: art.PTX})
		if err != nil {
			return nil, &Error{Stage: StageCache, Err: err}
		}
	}
	if b.opts.Flags.Has(trace.FlagPTX) {
		fmt.Fprintln(b.opts.Out, art.PTX)
	}

	fn, err := b.opts.Loader.Load(art.PTX, art.Kernel)
	if err != nil {
		return nil, wrap(StageLoad, err)
	}
	art.Function = fn
	return art, nil
}

func wrap(stage Stage, err error) error {
	if _, ok := err.(*Error); ok {
		return err
	}
	return &Error{Stage: stage, Err: err}
}
