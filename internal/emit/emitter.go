// Package emit lowers stack-levelled blocks to LLVM IR. Each block carries a
// symbolic machine state in and out; merge points get phi placeholders that
// are completed once every block has been emitted.
package emit

import (
	"fmt"
	"io"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"cilgpu/internal/cfg"
	"cilgpu/internal/cil"
	"cilgpu/internal/trace"
)

// TypeLowerer maps bytecode types to IR types.
type TypeLowerer interface {
	ToTypeRef(t *cil.Type, b cil.Bindings) (types.Type, error)
	FieldIndex(owner *cil.Type, field string) (int, bool)
}

// Resolver finds the function a call instruction targets, together with the
// bindings in effect inside the callee.
type Resolver interface {
	Callee(caller *cfg.Vertex, inst cil.Inst) (*ir.Func, cil.Bindings, error)
}

// Options control tracing.
type Options struct {
	Flags  trace.Flags
	Out    io.Writer // destination of flag-gated dumps
	Tracer trace.Tracer
	Parent uint64
}

// Emitter lowers one session's blocks into their IR functions. Every block
// must already have Func and Block assigned and stack levels computed.
type Emitter struct {
	g     *cfg.Graph
	types TypeLowerer
	calls Resolver
	opts  Options

	span    uint64
	inSet   map[cfg.VertexID]bool
	visited map[cfg.VertexID]bool
	pre     map[cfg.VertexID]*preheader
}

// preheader is the block synthesised in front of an entry block that is
// also a branch target, since IR functions cannot branch to their first block.
type preheader struct {
	block *ir.Block
	state *State
}

// New creates an emitter over g.
func New(g *cfg.Graph, tl TypeLowerer, calls Resolver, opts Options) *Emitter {
	if opts.Tracer == nil {
		opts.Tracer = trace.Nop
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Emitter{g: g, types: tl, calls: calls, opts: opts}
}

// Run emits blocks in topological order and then completes the phi nodes.
func (e *Emitter) Run(blocks []cfg.VertexID) error {
	span := trace.Begin(e.opts.Tracer, trace.ScopePass, "emit", e.opts.Parent)
	defer span.End("")
	e.span = span.ID()

	e.inSet = make(map[cfg.VertexID]bool, len(blocks))
	e.visited = make(map[cfg.VertexID]bool, len(blocks))
	e.pre = make(map[cfg.VertexID]*preheader)
	var roots []cfg.VertexID
	for _, id := range blocks {
		e.inSet[id] = true
		if e.g.Vertex(id).IsEntry() {
			roots = append(roots, id)
		}
	}
	topo := cfg.TopoNoBackEdges(e.g, roots, blocks)
	span.WithExtra("back_edges", fmt.Sprint(len(topo.BackEdges)))

	for _, id := range topo.Order {
		if err := e.emitBlock(e.g.Vertex(id)); err != nil {
			return err
		}
		e.visited[id] = true
	}
	return e.completePhis(topo.Order)
}

func (e *Emitter) emitBlock(v *cfg.Vertex) error {
	trace.Point(e.opts.Tracer, trace.ScopeBlock, "block:"+v.Name(), v.Method.FullName(), e.span)

	var (
		in  *State
		err error
	)
	if v.IsEntry() {
		in, err = e.entryState(v)
		if err == nil && len(e.preds(v)) > 0 {
			in = e.loopEntry(v, in)
		}
	} else {
		in, err = e.mergeState(v)
	}
	if err != nil {
		return err
	}
	v.StateIn = in
	out := in.Clone()
	v.StateOut = out

	if e.opts.Flags.Has(trace.FlagState) {
		fmt.Fprintf(e.opts.Out, "%s state in:\n", v.Name())
		in.Dump(e.opts.Out)
	}
	l := &lowering{e: e, v: v, s: out, ops: v.OpsFromOriginal}
	for _, inst := range v.Instructions {
		if e.opts.Flags.Has(trace.FlagJIT) {
			fmt.Fprintf(e.opts.Out, "%s: %s\n", v.Name(), inst)
		}
		if err := l.lower(inst); err != nil {
			return err
		}
	}
	if err := e.fallThrough(v); err != nil {
		return err
	}
	if e.opts.Flags.Has(trace.FlagState) {
		fmt.Fprintf(e.opts.Out, "%s state out:\n", v.Name())
		out.Dump(e.opts.Out)
	}
	return nil
}

// entryState seeds the argument slots from the function parameters and the
// local slots with zero values.
func (e *Emitter) entryState(v *cfg.Vertex) (*State, error) {
	m := v.Method
	ops := v.OpsFromOriginal
	nArgs := v.NumArgs
	if v.HasThis {
		nArgs++
	}
	if len(v.Func.Params) != nArgs {
		return nil, &EmitError{Kind: ErrUnsupported, Block: v.ID,
			Msg: fmt.Sprintf("function %s has %d params, want %d", v.Func.Name(), len(v.Func.Params), nArgs)}
	}
	s := newState(nArgs, v.NumLocals)
	for i := range nArgs {
		at, _ := m.ArgType(i)
		s.stack[i] = StackValue{V: v.Func.Params[i], T: closeType(at, m, ops)}
	}
	for i, lt := range m.Locals {
		lt = closeType(lt, m, ops)
		irt, err := e.types.ToTypeRef(lt, ops)
		if err != nil {
			return nil, &EmitError{Kind: ErrUnsupported, Block: v.ID, Msg: fmt.Sprintf("local %d", i), Err: err}
		}
		s.stack[nArgs+i] = StackValue{V: zeroValue(irt), T: lt}
	}
	return s, nil
}

// loopEntry moves the function start into a new preheader that branches to
// v, and gives every slot of v a phi fed by the preheader and the back edges.
func (e *Emitter) loopEntry(v *cfg.Vertex, entry *State) *State {
	pre := ir.NewBlock(v.Name() + ".pre")
	pre.Parent = v.Func
	v.Func.Blocks = append([]*ir.Block{pre}, v.Func.Blocks...)
	pre.NewBr(v.Block)
	e.pre[v.ID] = &preheader{block: pre, state: entry}

	s := &State{
		stack:   make([]StackValue, entry.Len()),
		phi:     make(map[int]*ir.InstPhi, entry.Len()),
		nArgs:   entry.nArgs,
		nLocals: entry.nLocals,
	}
	for i, sv := range entry.stack {
		phi := &ir.InstPhi{Typ: sv.V.Type()}
		v.Block.Insts = append(v.Block.Insts, phi)
		s.phi[i] = phi
		s.stack[i] = StackValue{V: phi, T: sv.T}
	}
	return s
}

// mergeState builds the in-state of a non-entry block from the out-states of
// its emitted predecessors. A slot gets a phi placeholder when predecessors
// disagree or some predecessor has not been emitted yet.
func (e *Emitter) mergeState(v *cfg.Vertex) (*State, error) {
	preds := e.preds(v)
	var done []*cfg.Vertex
	for _, p := range preds {
		if e.visited[p.ID] {
			done = append(done, p)
		}
	}
	if len(done) == 0 {
		return nil, &UnresolvedPhiError{Block: v.ID, Pred: cfg.NoVertex}
	}
	first := done[0].StateOut.(*State)
	level := first.Len()
	if v.StackLevelIn != nil {
		level = *v.StackLevelIn
	}
	for _, p := range done {
		if p.StateOut.(*State).Len() < level {
			return nil, &UnresolvedPhiError{Block: v.ID, Slot: p.StateOut.(*State).Len(), Pred: p.ID}
		}
	}

	s := &State{
		stack:   make([]StackValue, level),
		phi:     make(map[int]*ir.InstPhi),
		nArgs:   first.nArgs,
		nLocals: first.nLocals,
	}
	merge := len(preds) > 1 || len(done) < len(preds)
	for i := range level {
		sv := first.stack[i]
		if merge && !agree(done, i, len(done) == len(preds)) {
			phi := &ir.InstPhi{Typ: sv.V.Type()}
			v.Block.Insts = append(v.Block.Insts, phi)
			s.phi[i] = phi
			sv = StackValue{V: phi, T: sv.T}
		}
		s.stack[i] = sv
	}
	return s, nil
}

// agree reports whether every predecessor holds the same value in slot i.
func agree(done []*cfg.Vertex, i int, complete bool) bool {
	if !complete {
		return false
	}
	want := done[0].StateOut.(*State).stack[i].V
	for _, p := range done[1:] {
		if p.StateOut.(*State).stack[i].V != want {
			return false
		}
	}
	return true
}

// preds returns the same-method predecessors of v that belong to the run.
func (e *Emitter) preds(v *cfg.Vertex) []*cfg.Vertex {
	var out []*cfg.Vertex
	for _, id := range e.g.Predecessors(v.ID) {
		p := e.g.Vertex(id)
		if e.inSet[id] && p.Method == v.Method {
			out = append(out, p)
		}
	}
	return out
}

// succs returns the same-method successors of v in edge order, including a
// loop back to the entry block.
func (e *Emitter) succs(v *cfg.Vertex) []*cfg.Vertex {
	var out []*cfg.Vertex
	for _, id := range e.g.Successors(v.ID) {
		s := e.g.Vertex(id)
		if s.Method == v.Method {
			out = append(out, s)
		}
	}
	return out
}

// fallThrough terminates blocks whose last instruction continues into the
// next block.
func (e *Emitter) fallThrough(v *cfg.Vertex) error {
	if v.Block.Term != nil {
		return nil
	}
	last, ok := v.Last()
	if ok && last.Flow() != cil.FlowNext && last.Flow() != cil.FlowCall {
		return &EmitError{Kind: ErrUnsupported, Block: v.ID, Inst: last.String(), Msg: "block left unterminated"}
	}
	succ := e.succs(v)
	if len(succ) != 1 {
		return &EmitError{Kind: ErrFallThrough, Block: v.ID, Msg: fmt.Sprintf("%d successors", len(succ))}
	}
	v.Block.NewBr(succ[0].Block)
	return nil
}

// completePhis adds one incoming value per predecessor to every placeholder.
func (e *Emitter) completePhis(order []cfg.VertexID) error {
	for _, id := range order {
		v := e.g.Vertex(id)
		in := v.StateIn.(*State)
		slots := in.PhiSlots()
		if len(slots) == 0 {
			continue
		}
		preds := e.preds(v)
		pre := e.pre[id]
		for _, i := range slots {
			phi := in.phi[i]
			if pre != nil {
				phi.Incs = append(phi.Incs, ir.NewIncoming(pre.state.stack[i].V, pre.block))
			}
			for _, p := range preds {
				out, ok := p.StateOut.(*State)
				if !ok || i >= out.Len() || out.stack[i].V == nil {
					return &UnresolvedPhiError{Block: v.ID, Slot: i, Pred: p.ID}
				}
				val, err := incoming(v, p, i, out.stack[i], phi.Typ)
				if err != nil {
					return err
				}
				phi.Incs = append(phi.Incs, ir.NewIncoming(val, p.Block))
			}
		}
		trace.Point(e.opts.Tracer, trace.ScopeBlock, "phi:"+v.Name(), fmt.Sprintf("slots=%d preds=%d", len(slots), len(preds)), e.span)
	}
	return nil
}

// incoming brings the value p holds in slot to the phi type. Constants are
// retyped and narrower numbers are widened at the end of p; anything else
// cannot merge.
func incoming(v, p *cfg.Vertex, slot int, sv StackValue, to types.Type) (value.Value, error) {
	val := coerceConst(sv.V, to)
	from := val.Type()
	if from.Equal(to) {
		return val, nil
	}
	widen := (isInt(from) && isInt(to) && intBits(from) < intBits(to)) ||
		(isFloat(from) && isFloat(to) && floatRank(from) < floatRank(to))
	if !widen {
		return nil, &EmitError{Kind: ErrMerge, Block: v.ID,
			Msg: fmt.Sprintf("slot %d: %s from %s does not fit %s", slot, from, p.ID, to)}
	}
	return coerce(p.Block, val, to, !unsigned(sv.T)), nil
}

// closeType views t through the declaring type of m and applies ops.
func closeType(t *cil.Type, m *cil.Method, ops cil.Bindings) *cil.Type {
	return cil.Substitute(cil.FromGenericParameter(t, m.DeclaringType), ops)
}
