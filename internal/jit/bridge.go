package jit

import (
	"reflect"

	"cilgpu/internal/cil"
)

// Bridge maps runtime types to bytecode types.
type Bridge interface {
	Resolve(t reflect.Type) (cil.ConcreteType, bool)
}

// RegistryBridge resolves registered types, Go numeric kinds, and slices
// and pointers of resolvable types.
type RegistryBridge struct {
	byType map[reflect.Type]*cil.Type
}

// NewRegistryBridge creates an empty registry.
func NewRegistryBridge() *RegistryBridge {
	return &RegistryBridge{byType: make(map[reflect.Type]*cil.Type)}
}

// Register maps rt to t. Later registrations replace earlier ones.
func (r *RegistryBridge) Register(rt reflect.Type, t *cil.Type) {
	r.byType[rt] = t
}

var kindTypes = map[reflect.Kind]*cil.Type{
	reflect.Bool:    cil.Bool,
	reflect.Int8:    cil.Int8,
	reflect.Uint8:   cil.UInt8,
	reflect.Int16:   cil.Int16,
	reflect.Uint16:  cil.UInt16,
	reflect.Int32:   cil.Int32,
	reflect.Uint32:  cil.UInt32,
	reflect.Int64:   cil.Int64,
	reflect.Uint64:  cil.UInt64,
	reflect.Int:     cil.Int64,
	reflect.Uint:    cil.UInt64,
	reflect.Uintptr: cil.IntPtr,
	reflect.Float32: cil.Float32,
	reflect.Float64: cil.Float64,
	reflect.String:  cil.String,
}

func (r *RegistryBridge) Resolve(rt reflect.Type) (cil.ConcreteType, bool) {
	t, ok := r.lookup(rt)
	if !ok {
		return cil.ConcreteType{}, false
	}
	return cil.ConcreteType{Type: t, Source: rt.String()}, true
}

func (r *RegistryBridge) lookup(rt reflect.Type) (*cil.Type, bool) {
	if t, ok := r.byType[rt]; ok {
		return t, true
	}
	switch rt.Kind() {
	case reflect.Slice:
		elem, ok := r.lookup(rt.Elem())
		if !ok {
			return nil, false
		}
		return cil.NewArray(elem), true
	case reflect.Pointer:
		// A pointer is the reference form of its class.
		return r.lookup(rt.Elem())
	}
	// Defined types such as "type Celsius float32" must be registered.
	if rt.Name() != rt.Kind().String() {
		return nil, false
	}
	t, ok := kindTypes[rt.Kind()]
	return t, ok
}
