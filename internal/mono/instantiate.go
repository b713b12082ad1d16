package mono

import (
	"fmt"
	"slices"

	"cilgpu/internal/cfg"
	"cilgpu/internal/cil"
	"cilgpu/internal/trace"
)

// InstantiateGenerics specialises the blocks of changeSet for the concrete
// types found at the call site and returns changeSet followed by every block
// created.
//
// Each round binds the first still-unbound generic parameter of a block's
// signature (parameters, return type, then this) to every matching candidate
// and re-queues the clones, so a block with n parameters yields chains of
// depth n. Candidates whose definition matches no parameter are ignored.
func (e *Engine) InstantiateGenerics(changeSet []cfg.VertexID, concrete []cil.ConcreteType) ([]cfg.VertexID, error) {
	span := trace.Begin(e.tracer, trace.ScopePass, "instantiate", e.span)
	defer span.End("")

	for _, id := range changeSet {
		if e.graph.Vertex(id) == nil {
			return nil, fmt.Errorf("instantiate: unknown block %s", id)
		}
	}

	cs := e.graph.StartChangeSet()
	work := make([]cfg.VertexID, 0, len(changeSet))
	for i := len(changeSet) - 1; i >= 0; i-- {
		work = append(work, changeSet[i])
	}

	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		v := e.graph.Vertex(id)

		param := nextUnbound(v)
		if param == nil {
			continue
		}
		owner := param.Owner.FullName()
		for _, c := range concrete {
			if c.DefinitionName() != owner || param.Position >= len(c.Type.GenericArgs) {
				continue
			}
			bind := cil.Binding{Param: param, Concrete: c.Type.GenericArgs[param.Position]}
			if e.specialised(id, bind) {
				continue
			}
			clone := e.graph.AddClone(id, bind)
			e.record(id, bind, clone.ID)
			trace.Point(e.tracer, trace.ScopeBlock, "clone:"+clone.ID.String(),
				fmt.Sprintf("from %s with %s", id, bind), span.ID())
			work = append(work, clone.ID)
		}
	}

	created := e.graph.PopChangeSet(cs)
	for _, ids := range [][]cfg.VertexID{changeSet, created} {
		for _, id := range ids {
			v := e.graph.Vertex(id)
			v.Open = nextUnbound(v) != nil
		}
	}
	e.reconcile(created)
	span.WithExtra("clones", fmt.Sprint(len(created)))

	out := make([]cfg.VertexID, 0, len(changeSet)+len(created))
	out = append(out, changeSet...)
	return append(out, created...), nil
}

// signatureTypes lists the type sites of m in binding order.
func signatureTypes(m *cil.Method) []*cil.Type {
	if m == nil {
		return nil
	}
	sites := make([]*cil.Type, 0, len(m.Params)+2)
	for _, p := range m.Params {
		sites = append(sites, cil.FromGenericParameter(p.Type, m.DeclaringType))
	}
	if m.ReturnType != nil {
		sites = append(sites, cil.FromGenericParameter(m.ReturnType, m.DeclaringType))
	}
	if m.HasThis && m.DeclaringType != nil {
		sites = append(sites, m.DeclaringType)
	}
	return sites
}

// nextUnbound returns the first type-level generic parameter of v's
// signature that v's chain has not bound yet.
func nextUnbound(v *cfg.Vertex) *cil.Type {
	for _, site := range signatureTypes(v.Method) {
		if !site.ContainsGenericParameter() {
			continue
		}
		for _, p := range cil.GenericParamsIn(site) {
			if p.Owner == nil {
				continue
			}
			if !v.OpsFromOriginal.Has(p) {
				return p
			}
		}
	}
	return nil
}

// specialised reports whether id or any block it was cloned from already has
// a clone for bind.
func (e *Engine) specialised(id cfg.VertexID, bind cil.Binding) bool {
	for cur := id; cur != cfg.NoVertex; cur = e.graph.Vertex(cur).Previous {
		if _, ok := e.Lookup(cur, bind); ok {
			return true
		}
	}
	return false
}

// reconcile gives every fully instantiated new block the edges and entry of
// its original, resolved through the same bindings.
func (e *Engine) reconcile(created []cfg.VertexID) {
	for _, id := range created {
		if !e.graph.IsFullyInstantiated(id) {
			continue
		}
		v := e.graph.Vertex(id)
		orig := e.graph.Vertex(v.Original)
		for _, succ := range slices.Clone(e.graph.Successors(orig.ID)) {
			e.graph.AddEdge(id, e.Eval(succ, v.OpsFromOriginal))
		}
		if orig.Entry != cfg.NoVertex {
			v.Entry = e.Eval(orig.Entry, v.OpsFromOriginal)
		}
	}
}
