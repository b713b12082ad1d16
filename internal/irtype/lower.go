// Package irtype lowers bytecode types to LLVM IR types.
package irtype

import (
	"errors"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"

	"cilgpu/internal/cil"
	"cilgpu/internal/layout"
	"cilgpu/internal/symname"
	"cilgpu/internal/trace"
)

// Lowerer converts types for one compilation session. Types it creates live
// in the session layer until Commit.
type Lowerer struct {
	cache   *Cache
	module  *ir.Module
	names   *symname.Table
	layout  *layout.LayoutEngine
	tracer  trace.Tracer
	span    uint64
	session map[string]types.Type
	fields  map[string]map[string]int
}

// NewLowerer creates a session over cache. Named structs are added to module.
func NewLowerer(cache *Cache, module *ir.Module, names *symname.Table, le *layout.LayoutEngine, tracer trace.Tracer) *Lowerer {
	if tracer == nil {
		tracer = trace.Nop
	}
	return &Lowerer{
		cache:   cache,
		module:  module,
		names:   names,
		layout:  le,
		tracer:  tracer,
		session: make(map[string]types.Type),
		fields:  make(map[string]map[string]int),
	}
}

// SetSpan parents subsequent trace points to span.
func (l *Lowerer) SetSpan(span uint64) { l.span = span }

func (l *Lowerer) lookup(name string) (types.Type, bool) {
	if t, ok := l.cache.basic[name]; ok {
		return t, true
	}
	if t, ok := l.session[name]; ok {
		return t, true
	}
	t, ok := l.cache.global[name]
	return t, ok
}

// ToTypeRef lowers t under bindings. Classes and arrays lower to pointers to
// named structs, value types to the struct itself.
func (l *Lowerer) ToTypeRef(t *cil.Type, b cil.Bindings) (types.Type, error) {
	trace.Point(l.tracer, trace.ScopeNode, "type:"+t.FullName(), b.String(), l.span)

	if t.Kind == cil.KindGenericParam {
		c, ok := b.Lookup(t)
		if !ok {
			return nil, &TypeConversionError{Kind: ErrUnboundGenericParam, Type: t.FullName(), Param: cil.ParamKey(t)}
		}
		return l.ToTypeRef(c, b)
	}
	if t.ContainsGenericParameter() {
		closed := cil.Substitute(t, b)
		if open := cil.GenericParamsIn(closed); len(open) > 0 {
			return nil, &TypeConversionError{Kind: ErrUnboundGenericParam, Type: t.FullName(), Param: cil.ParamKey(open[0])}
		}
		t = closed
	}

	name := t.FullName()
	if found, ok := l.lookup(name); ok {
		return found, nil
	}
	switch t.Kind {
	case cil.KindArray:
		return l.lowerArray(t, b)
	case cil.KindClass, cil.KindValueType:
		return l.lowerStruct(t, b)
	}
	return nil, &TypeConversionError{Kind: ErrUnknownShape, Type: name}
}

// opaque registers a named opaque struct for t.
func (l *Lowerer) opaque(t *cil.Type) *types.StructType {
	st := &types.StructType{Opaque: true}
	l.module.NewTypeDef(l.names.Legalize(t.FullName()), st)
	return st
}

// lowerArray builds { elem*, i64 } and returns a pointer to it. The pointer
// is registered before the element is lowered so self-referential element
// types terminate.
func (l *Lowerer) lowerArray(t *cil.Type, b cil.Bindings) (types.Type, error) {
	st := l.opaque(t)
	ptr := types.NewPointer(st)
	l.session[t.FullName()] = ptr

	elem, err := l.ToTypeRef(t.Elem, b)
	if err != nil {
		return nil, err
	}
	st.Fields = []types.Type{types.NewPointer(elem), types.I64}
	st.Packed = true
	st.Opaque = false
	return ptr, nil
}

func (l *Lowerer) lowerStruct(t *cil.Type, b cil.Bindings) (types.Type, error) {
	name := t.FullName()
	bindings := b.Merge(cil.InstanceBindings(t))

	st := l.opaque(t)
	var result types.Type = st
	if t.Kind == cil.KindClass {
		result = types.NewPointer(st)
	}
	l.session[name] = result

	var (
		irFields []types.Type
		index    = make(map[string]int)
		offset   int
		align    = 1
	)
	for _, f := range t.InstanceFields() {
		ft := cil.Substitute(f.Type, bindings)
		fl, err := l.layout.LayoutOf(ft)
		if err != nil {
			var lerr *layout.LayoutError
			if errors.As(err, &lerr) && lerr.Kind == layout.LayoutErrUnboundGeneric {
				return nil, &TypeConversionError{Kind: ErrUnboundGenericParam, Type: name, Param: lerr.Type, Err: err}
			}
			return nil, &TypeConversionError{Kind: ErrLayout, Type: name, Err: err}
		}
		for range layout.Padding(offset, fl.Align) {
			irFields = append(irFields, types.I8)
			offset++
		}
		irt, err := l.ToTypeRef(ft, bindings)
		if err != nil {
			return nil, err
		}
		index[f.Name] = len(irFields)
		irFields = append(irFields, irt)
		offset += fl.Size
		align = max(align, fl.Align)
	}
	// tail padding keeps the packed size equal to the layout size, so the
	// struct can be inlined into another one at the offsets layout reports
	for range layout.Padding(offset, align) {
		irFields = append(irFields, types.I8)
	}
	st.Fields = irFields
	st.Packed = true
	st.Opaque = false
	l.fields[name] = index
	return result, nil
}

// FieldIndex returns the IR struct index of field on the closed type owner.
func (l *Lowerer) FieldIndex(owner *cil.Type, field string) (int, bool) {
	name := owner.FullName()
	m, ok := l.fields[name]
	if !ok {
		m, ok = l.cache.fields[name]
	}
	if !ok {
		return 0, false
	}
	idx, ok := m[field]
	return idx, ok
}

// Commit moves the session layer into the global layer.
func (l *Lowerer) Commit() {
	for k, v := range l.session {
		l.cache.global[k] = v
	}
	for k, v := range l.fields {
		l.cache.fields[k] = v
	}
	l.session = make(map[string]types.Type)
	l.fields = make(map[string]map[string]int)
}
