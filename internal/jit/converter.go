package jit

import (
	"errors"
	"fmt"
	"slices"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"

	"cilgpu/internal/cfg"
	"cilgpu/internal/cil"
	"cilgpu/internal/emit"
	"cilgpu/internal/irtype"
	"cilgpu/internal/mono"
	"cilgpu/internal/reach"
	"cilgpu/internal/stacklevel"
	"cilgpu/internal/trace"
)

// Converter runs the compile passes against a Context.
type Converter struct {
	ctx    *Context
	parent uint64
}

// NewConverter creates a converter. Passes are traced under parent.
func NewConverter(ctx *Context, parent uint64) *Converter {
	return &Converter{ctx: ctx, parent: parent}
}

// Context returns the session context.
func (c *Converter) Context() *Context { return c.ctx }

// InstantiateGenerics specialises changeSet for concrete and returns the
// expanded change set.
func (c *Converter) InstantiateGenerics(changeSet []cfg.VertexID, concrete []cil.ConcreteType) ([]cfg.VertexID, error) {
	c.ctx.Mono.SetSpan(c.parent)
	out, err := c.ctx.Mono.InstantiateGenerics(changeSet, concrete)
	if err != nil {
		return nil, fmt.Errorf("instantiate: %w", err)
	}
	return out, nil
}

// CompileToLLVM emits every reachable, fully instantiated block of blocks
// that was not compiled by an earlier call.
func (c *Converter) CompileToLLVM(blocks []cfg.VertexID) error {
	g := c.ctx.Graph
	span := trace.Begin(c.ctx.tracer, trace.ScopeDriver, "compile", c.parent)
	defer span.End("")

	var todo []cfg.VertexID
	for _, id := range blocks {
		v := g.Vertex(id)
		if v == nil {
			return fmt.Errorf("compile: unknown block %s", id)
		}
		if !v.AlreadyCompiled && g.IsFullyInstantiated(id) {
			todo = append(todo, id)
		}
	}
	span.WithExtra("blocks", fmt.Sprint(len(todo)))
	if len(todo) == 0 {
		return nil
	}

	SetFacts(g, todo)
	res := reach.Filter(g, todo, c.ctx.tracer, span.ID())
	live := res.Reachable
	if len(live) == 0 {
		return nil
	}

	lw := irtype.NewLowerer(c.ctx.Types, c.ctx.Module, c.ctx.Names, c.ctx.Layout, c.ctx.tracer)
	lw.SetSpan(span.ID())
	if err := c.declare(lw, live); err != nil {
		return err
	}
	if _, err := stacklevel.Compute(g, live, c.ctx.tracer, span.ID()); err != nil {
		return fmt.Errorf("stack levels: %w", err)
	}
	em := emit.New(g, lw, c, emit.Options{
		Flags:  c.ctx.flags,
		Out:    c.ctx.out,
		Tracer: c.ctx.tracer,
		Parent: span.ID(),
	})
	if err := em.Run(live); err != nil {
		return fmt.Errorf("emit: %w", err)
	}
	lw.Commit()
	for _, id := range live {
		g.Vertex(id).AlreadyCompiled = true
	}

	if c.ctx.flags.Has(trace.FlagNameTable) {
		if err := c.ctx.Names.Dump(c.ctx.out); err != nil {
			return err
		}
	}
	if c.ctx.flags.Has(trace.FlagModule) {
		fmt.Fprintln(c.ctx.out, c.ctx.Module.String())
	}
	return nil
}

// SetFacts copies the signature facts of each block's method onto the block.
func SetFacts(g *cfg.Graph, ids []cfg.VertexID) {
	for _, id := range ids {
		setFacts(g.Vertex(id))
	}
}

func setFacts(v *cfg.Vertex) {
	m := v.Method
	v.HasThis = m.HasThis
	v.HasReturnValue = m.HasReturnValue()
	v.NumArgs = m.NumArgs()
	v.NumLocals = m.NumLocals()
}

// declare creates one function per entry and one IR block per block. Entry
// blocks come first so they lead their functions.
func (c *Converter) declare(lw *irtype.Lowerer, live []cfg.VertexID) error {
	g := c.ctx.Graph
	ordered := slices.Clone(live)
	slices.SortStableFunc(ordered, func(a, b cfg.VertexID) int {
		ea, eb := g.Vertex(a).IsEntry(), g.Vertex(b).IsEntry()
		switch {
		case ea == eb:
			return 0
		case ea:
			return -1
		default:
			return 1
		}
	})
	for _, id := range ordered {
		v := g.Vertex(id)
		if v.IsEntry() {
			fn, err := c.function(lw, v)
			if err != nil {
				return err
			}
			c.ctx.funcs[id] = fn
		}
		fn, ok := c.ctx.funcs[v.Entry]
		if !ok {
			return fmt.Errorf("compile: %s has no compiled entry %s", id, v.Entry)
		}
		v.Func = fn
		v.Block = fn.NewBlock(v.Name())
	}
	return nil
}

func (c *Converter) function(lw *irtype.Lowerer, v *cfg.Vertex) (*ir.Func, error) {
	m := v.Method
	ops := v.OpsFromOriginal
	ret := types.Type(types.Void)
	if m.HasReturnValue() {
		t, err := lw.ToTypeRef(closeType(m.ReturnType, m, ops), ops)
		if err != nil {
			return nil, fmt.Errorf("compile %s: return type: %w", m.Name, err)
		}
		ret = t
	}
	n := m.NumArgs()
	if m.HasThis {
		n++
	}
	params := make([]*ir.Param, 0, n)
	for i := range n {
		at, _ := m.ArgType(i)
		t, err := lw.ToTypeRef(closeType(at, m, ops), ops)
		if err != nil {
			return nil, fmt.Errorf("compile %s: argument %d: %w", m.Name, i, err)
		}
		params = append(params, ir.NewParam("", t))
	}
	return c.ctx.Module.NewFunc(c.ctx.Names.Legalize(FunctionName(v)), ret, params...), nil
}

// FunctionName is the unlegalised name of the function compiled for entry
// block v: the method's full name plus its bindings, if any.
func FunctionName(v *cfg.Vertex) string {
	name := v.Method.FullName()
	if len(v.OpsFromOriginal) > 0 {
		name += v.OpsFromOriginal.String()
	}
	return name
}

// Callee resolves the function a call in caller targets.
func (c *Converter) Callee(caller *cfg.Vertex, inst cil.Inst) (*ir.Func, cil.Bindings, error) {
	m := inst.Method
	if m.Intrinsic != "" {
		fn, ok := c.ctx.Builtin(m.Intrinsic)
		if !ok {
			return nil, nil, fmt.Errorf("unknown builtin %q", m.Intrinsic)
		}
		return fn, nil, nil
	}
	ops := mono.CallBindings(caller.OpsFromOriginal, inst.On)
	entry, ok := c.ctx.Mono.ResolveEntry(m, ops)
	if !ok {
		return nil, nil, fmt.Errorf("no specialisation of %s for %s", m.FullName(), ops)
	}
	fn, ok := c.ctx.funcs[entry]
	if !ok {
		return nil, nil, fmt.Errorf("%s (%s) is not compiled", m.FullName(), entry)
	}
	return fn, c.ctx.Graph.Vertex(entry).OpsFromOriginal, nil
}

// EntryBlock returns the entry block with id, or nil when id is not an
// entry.
func (c *Converter) EntryBlock(id cfg.VertexID) *cfg.Vertex {
	v := c.ctx.Graph.Vertex(id)
	if v == nil || !v.IsEntry() {
		return nil
	}
	return v
}

// Function returns the compiled function of an entry block.
func (c *Converter) Function(entry cfg.VertexID) (*ir.Func, bool) {
	fn, ok := c.ctx.funcs[entry]
	return fn, ok
}

// ErrNoKernel reports a kernel method without a compiled entry.
var ErrNoKernel = errors.New("kernel has no compiled entry")

// Kernel finds the compiled entry of method m. Among several
// specialisations the lowest block id wins.
func (c *Converter) Kernel(m *cil.Method) (*ir.Func, cfg.VertexID, error) {
	for _, id := range c.ctx.Graph.Entries() {
		if c.ctx.Graph.Vertex(id).Method != m {
			continue
		}
		if fn, ok := c.ctx.funcs[id]; ok {
			return fn, id, nil
		}
	}
	return nil, cfg.NoVertex, fmt.Errorf("%s: %w", m.FullName(), ErrNoKernel)
}

func closeType(t *cil.Type, m *cil.Method, ops cil.Bindings) *cil.Type {
	return cil.Substitute(cil.FromGenericParameter(t, m.DeclaringType), ops)
}
