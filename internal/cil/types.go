// Package cil models the managed bytecode the JIT consumes: types, methods,
// instructions and the generic bindings that specialise them.
package cil

import (
	"strconv"
	"strings"
)

// Kind classifies a Type.
type Kind uint8

const (
	KindPrimitive Kind = iota + 1
	KindClass
	KindValueType
	KindArray
	KindGenericParam
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindClass:
		return "class"
	case KindValueType:
		return "struct"
	case KindArray:
		return "array"
	case KindGenericParam:
		return "generic-param"
	default:
		return "invalid"
	}
}

// Field is a field declared on a class or value type.
type Field struct {
	Name   string
	Type   *Type
	Static bool
}

// Type describes a bytecode type reference or definition.
//
// A generic definition carries GenericParams; an instance of it points at the
// definition through Definition and carries positional GenericArgs. A generic
// parameter carries its declaring definition in Owner and its Position there.
type Type struct {
	Kind      Kind
	Namespace string
	Name      string
	Prim      Prim

	Elem *Type // arrays

	Owner    *Type // generic params
	Position int

	GenericParams []*Type // open definitions
	Definition    *Type   // instances
	GenericArgs   []*Type // instances

	Fields []Field // definitions; instances read Definition.Fields
}

// NewClass creates a class definition.
func NewClass(ns, name string, fields ...Field) *Type {
	return &Type{Kind: KindClass, Namespace: ns, Name: name, Fields: fields}
}

// NewStruct creates a value type definition.
func NewStruct(ns, name string, fields ...Field) *Type {
	return &Type{Kind: KindValueType, Namespace: ns, Name: name, Fields: fields}
}

// NewArray returns the single-dimensional array type of elem.
func NewArray(elem *Type) *Type {
	return &Type{Kind: KindArray, Elem: elem}
}

// AddGenericParam declares a new generic parameter on the definition t.
func (t *Type) AddGenericParam(name string) *Type {
	p := &Type{Kind: KindGenericParam, Name: name, Owner: t, Position: len(t.GenericParams)}
	t.GenericParams = append(t.GenericParams, p)
	return p
}

// GenericParam returns the declared parameter called name, or nil.
func (t *Type) GenericParam(name string) *Type {
	for _, p := range t.GenericParams {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// NewInstance instantiates the generic definition def with args.
func NewInstance(def *Type, args ...*Type) *Type {
	return &Type{
		Kind:        def.Kind,
		Namespace:   def.Namespace,
		Name:        def.Name,
		Definition:  def,
		GenericArgs: args,
	}
}

// FullName is the structural identity of t, used by every cache and lookup.
func (t *Type) FullName() string {
	if t == nil {
		return "<nil>"
	}
	switch {
	case t.Kind == KindArray:
		return t.Elem.FullName() + "[]"
	case t.Kind == KindGenericParam:
		return t.Name
	case t.Definition != nil:
		var sb strings.Builder
		sb.WriteString(t.Definition.FullName())
		sb.WriteByte('<')
		for i, a := range t.GenericArgs {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(a.FullName())
		}
		sb.WriteByte('>')
		return sb.String()
	}
	name := t.Name
	if len(t.GenericParams) > 0 {
		name += "`" + strconv.Itoa(len(t.GenericParams))
	}
	if t.Namespace == "" {
		return name
	}
	return t.Namespace + "." + name
}

func (t *Type) String() string { return t.FullName() }

// IsGenericInstance reports whether t instantiates a generic definition.
func (t *Type) IsGenericInstance() bool { return t != nil && t.Definition != nil }

// IsValueType reports whether values of t are stored inline.
func (t *Type) IsValueType() bool {
	if t == nil {
		return false
	}
	if t.Kind == KindPrimitive {
		return !t.Prim.IsReference()
	}
	return t.Kind == KindValueType
}

// IsVoid reports whether t is System.Void.
func (t *Type) IsVoid() bool { return t != nil && t.Kind == KindPrimitive && t.Prim == PrimVoid }

// ContainsGenericParameter reports whether t mentions an unbound generic
// parameter anywhere, including an open definition's own parameters.
func (t *Type) ContainsGenericParameter() bool {
	if t == nil {
		return false
	}
	switch {
	case t.Kind == KindGenericParam:
		return true
	case t.Kind == KindArray:
		return t.Elem.ContainsGenericParameter()
	case t.Definition != nil:
		for _, a := range t.GenericArgs {
			if a.ContainsGenericParameter() {
				return true
			}
		}
		return false
	}
	return len(t.GenericParams) > 0
}

// GenericParamsIn lists the generic parameters t mentions, first occurrence
// first, without duplicates.
func GenericParamsIn(t *Type) []*Type {
	var out []*Type
	seen := map[string]bool{}
	var walk func(*Type)
	walk = func(t *Type) {
		if t == nil {
			return
		}
		switch {
		case t.Kind == KindGenericParam:
			if k := ParamKey(t); !seen[k] {
				seen[k] = true
				out = append(out, t)
			}
		case t.Kind == KindArray:
			walk(t.Elem)
		case t.Definition != nil:
			for _, a := range t.GenericArgs {
				walk(a)
			}
		default:
			for _, p := range t.GenericParams {
				walk(p)
			}
		}
	}
	walk(t)
	return out
}

// InstanceFields returns the non-static fields of t in declaration order with
// their types substituted for t's instantiation.
func (t *Type) InstanceFields() []Field {
	def := t
	var b Bindings
	if t.Definition != nil {
		def = t.Definition
		b = InstanceBindings(t)
	}
	out := make([]Field, 0, len(def.Fields))
	for _, f := range def.Fields {
		if f.Static {
			continue
		}
		out = append(out, Field{Name: f.Name, Type: Substitute(f.Type, b)})
	}
	return out
}

// LookupField returns the instance field called name, substituted.
func (t *Type) LookupField(name string) (Field, bool) {
	for _, f := range t.InstanceFields() {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}
