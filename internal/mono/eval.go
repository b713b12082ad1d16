package mono

import (
	"cilgpu/internal/cfg"
	"cilgpu/internal/cil"
)

// Eval follows specialisations from id while some binding of ops has a clone
// of the current block. Bindings are tried in key order and the first match
// wins; the walk restarts from the clone. Vertex ids grow along every step,
// so the walk terminates.
func (e *Engine) Eval(id cfg.VertexID, ops cil.Bindings) cfg.VertexID {
	sorted := ops.Sorted()
	cur := id
	for {
		moved := false
		for _, b := range sorted {
			if next, ok := e.Lookup(cur, b); ok {
				cur = next
				moved = true
				break
			}
		}
		if !moved {
			return cur
		}
	}
}

// originalEntry finds the unspecialised entry block of m.
func (e *Engine) originalEntry(m *cil.Method) (cfg.VertexID, bool) {
	if id, ok := e.entries[m]; ok {
		return id, true
	}
	for _, v := range e.graph.Vertices() {
		if v.Method == m && v.Original == cfg.NoVertex && v.IsEntry() {
			e.entries[m] = v.ID
			return v.ID, true
		}
	}
	return cfg.NoVertex, false
}

// ResolveEntry returns the entry block of m specialised for ops. The result
// is only usable when it is fully instantiated; ok is false otherwise.
func (e *Engine) ResolveEntry(m *cil.Method, ops cil.Bindings) (cfg.VertexID, bool) {
	orig, ok := e.originalEntry(m)
	if !ok {
		return cfg.NoVertex, false
	}
	id := e.Eval(orig, ops)
	return id, e.graph.IsFullyInstantiated(id)
}

// CallBindings returns the bindings a call from a block bound by caller
// passes to the callee: the caller's own bindings plus the arguments of the
// call-site declaring type, when it is a generic instance.
func CallBindings(caller cil.Bindings, on *cil.Type) cil.Bindings {
	if on == nil {
		return caller
	}
	return caller.Merge(cil.InstanceBindings(cil.Substitute(on, caller)))
}
