// Package jit drives one compilation session: generic instantiation,
// reachability, stack levels, and IR emission into a shared LLVM module.
package jit

import (
	"io"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"

	"cilgpu/internal/cfg"
	"cilgpu/internal/irtype"
	"cilgpu/internal/layout"
	"cilgpu/internal/mono"
	"cilgpu/internal/symname"
	"cilgpu/internal/trace"
)

// Options configure a Context.
type Options struct {
	Target layout.Target
	Tracer trace.Tracer
	Flags  trace.Flags
	Out    io.Writer // destination of flag-gated dumps
}

// Context is the state that outlives a single compile: type and name caches,
// the IR module, builtins, and the graph with its specialisation engine.
// A Context is single-threaded.
type Context struct {
	Graph  *cfg.Graph
	Module *ir.Module
	Types  *irtype.Cache
	Names  *symname.Table
	Layout *layout.LayoutEngine
	Mono   *mono.Engine
	Target layout.Target

	tracer trace.Tracer
	flags  trace.Flags
	out    io.Writer

	builtins map[string]*ir.Func
	// funcs maps a fully instantiated entry block to its function
	funcs map[cfg.VertexID]*ir.Func
}

// NewContext creates a session context over g.
func NewContext(g *cfg.Graph, opts Options) *Context {
	if opts.Tracer == nil {
		opts.Tracer = trace.Nop
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Target.Triple == "" {
		opts.Target = layout.NVPTX64()
	}
	m := ir.NewModule()
	m.TargetTriple = opts.Target.Triple
	m.DataLayout = opts.Target.DataLayout
	c := &Context{
		Graph:    g,
		Module:   m,
		Types:    irtype.NewCache(),
		Names:    symname.New(),
		Layout:   layout.New(opts.Target),
		Mono:     mono.New(g, opts.Tracer),
		Target:   opts.Target,
		tracer:   opts.Tracer,
		flags:    opts.Flags,
		out:      opts.Out,
		builtins: make(map[string]*ir.Func),
		funcs:    make(map[cfg.VertexID]*ir.Func),
	}
	for _, name := range BuiltinNames() {
		c.builtins[name] = m.NewFunc(name, types.I32)
	}
	return c
}

// BuiltinNames lists the NVVM special-register readers declared in every
// module, e.g. llvm.nvvm.read.ptx.sreg.tid.x.
func BuiltinNames() []string {
	var out []string
	for _, reg := range []string{"tid", "ctaid", "ntid", "nctaid"} {
		for _, dim := range []string{"x", "y", "z"} {
			out = append(out, "llvm.nvvm.read.ptx.sreg."+reg+"."+dim)
		}
	}
	return out
}

// Builtin returns the declaration of a special-register reader.
func (c *Context) Builtin(name string) (*ir.Func, bool) {
	f, ok := c.builtins[name]
	return f, ok
}

// Tracer returns the session tracer.
func (c *Context) Tracer() trace.Tracer { return c.tracer }
