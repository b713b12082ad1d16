package mono

import (
	"cilgpu/internal/cfg"
	"cilgpu/internal/cil"
	"cilgpu/internal/trace"
)

// instKey identifies one specialisation: block src cloned with param bound
// to concrete. Both type parts are structural names.
type instKey struct {
	src      cfg.VertexID
	param    string
	concrete string
}

func keyOf(src cfg.VertexID, b cil.Binding) instKey {
	return instKey{src: src, param: b.Key(), concrete: b.Concrete.FullName()}
}

// Engine clones basic blocks per generic binding. One Engine serves one
// graph for the lifetime of a jit session.
type Engine struct {
	graph  *cfg.Graph
	tracer trace.Tracer
	span   uint64

	clones map[instKey]cfg.VertexID
	// entries maps a method to its unspecialised entry block
	entries map[*cil.Method]cfg.VertexID
}

// New creates an Engine over g.
func New(g *cfg.Graph, tracer trace.Tracer) *Engine {
	if tracer == nil {
		tracer = trace.Nop
	}
	return &Engine{
		graph:   g,
		tracer:  tracer,
		clones:  make(map[instKey]cfg.VertexID),
		entries: make(map[*cil.Method]cfg.VertexID),
	}
}

// Lookup returns the clone of src specialised with b.
func (e *Engine) Lookup(src cfg.VertexID, b cil.Binding) (cfg.VertexID, bool) {
	id, ok := e.clones[keyOf(src, b)]
	return id, ok
}

// Clones is the number of specialisations created so far.
func (e *Engine) Clones() int { return len(e.clones) }

func (e *Engine) record(src cfg.VertexID, b cil.Binding, clone cfg.VertexID) {
	e.clones[keyOf(src, b)] = clone
}

// SetSpan parents the engine's trace output to span.
func (e *Engine) SetSpan(span uint64) { e.span = span }
