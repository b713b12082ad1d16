package cil

import (
	"slices"
	"strings"
)

// Binding pairs a generic parameter with the concrete type that replaces it.
type Binding struct {
	Param    *Type
	Concrete *Type
}

// Key is the structural key of the bound parameter.
func (b Binding) Key() string { return ParamKey(b.Param) }

func (b Binding) String() string {
	if b.Param == nil {
		return "<none>"
	}
	return b.Key() + "=" + b.Concrete.FullName()
}

// IsZero reports whether b binds nothing.
func (b Binding) IsZero() bool { return b.Param == nil }

// ParamKey is "<owner full name>!<param name>".
func ParamKey(p *Type) string {
	if p.Owner == nil {
		return "!" + p.Name
	}
	return p.Owner.FullName() + "!" + p.Name
}

// Bindings maps parameter keys to bindings. Treat values as immutable and
// extend with With.
type Bindings map[string]Binding

// With returns a copy of b extended with bind.
func (b Bindings) With(bind Binding) Bindings {
	out := make(Bindings, len(b)+1)
	for k, v := range b {
		out[k] = v
	}
	out[bind.Key()] = bind
	return out
}

// Merge returns a copy of b with every binding of o added; o wins on clashes.
func (b Bindings) Merge(o Bindings) Bindings {
	out := make(Bindings, len(b)+len(o))
	for k, v := range b {
		out[k] = v
	}
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Has reports whether param is bound.
func (b Bindings) Has(param *Type) bool {
	_, ok := b[ParamKey(param)]
	return ok
}

// Lookup resolves param by structural key, falling back to a unique match on
// the bare parameter name.
func (b Bindings) Lookup(param *Type) (*Type, bool) {
	if bind, ok := b[ParamKey(param)]; ok {
		return bind.Concrete, true
	}
	var found *Type
	for _, bind := range b {
		if bind.Param.Name != param.Name {
			continue
		}
		if found != nil && found.FullName() != bind.Concrete.FullName() {
			return nil, false
		}
		found = bind.Concrete
	}
	return found, found != nil
}

// Sorted returns the bindings ordered by key.
func (b Bindings) Sorted() []Binding {
	out := make([]Binding, 0, len(b))
	for _, v := range b {
		out = append(out, v)
	}
	slices.SortFunc(out, func(x, y Binding) int { return strings.Compare(x.Key(), y.Key()) })
	return out
}

func (b Bindings) String() string {
	if len(b) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(b))
	for _, bind := range b.Sorted() {
		parts = append(parts, bind.String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// InstanceBindings binds the definition parameters of inst to its arguments.
// Non-instances yield nil.
func InstanceBindings(inst *Type) Bindings {
	if inst == nil || inst.Definition == nil {
		return nil
	}
	out := make(Bindings, len(inst.GenericArgs))
	for i, p := range inst.Definition.GenericParams {
		if i >= len(inst.GenericArgs) {
			break
		}
		bind := Binding{Param: p, Concrete: inst.GenericArgs[i]}
		out[bind.Key()] = bind
	}
	return out
}

// Substitute replaces every bound generic parameter in t. Unbound parameters
// are left in place; t itself is returned when nothing changes.
func Substitute(t *Type, b Bindings) *Type {
	if t == nil || len(b) == 0 {
		return t
	}
	switch {
	case t.Kind == KindGenericParam:
		if c, ok := b.Lookup(t); ok {
			return c
		}
		return t
	case t.Kind == KindArray:
		if e := Substitute(t.Elem, b); e != t.Elem {
			return NewArray(e)
		}
		return t
	case t.Definition != nil:
		var args []*Type
		for i, a := range t.GenericArgs {
			s := Substitute(a, b)
			if s != a && args == nil {
				args = slices.Clone(t.GenericArgs[:i])
			}
			if args != nil {
				args = append(args, s)
			}
		}
		if args == nil {
			return t
		}
		return NewInstance(t.Definition, args...)
	case len(t.GenericParams) > 0:
		args := make([]*Type, len(t.GenericParams))
		changed := false
		for i, p := range t.GenericParams {
			args[i] = Substitute(p, b)
			changed = changed || args[i] != p
		}
		if !changed {
			return t
		}
		return NewInstance(t, args...)
	}
	return t
}

// FromGenericParameter resolves t as seen through the declaring type of a
// method: when declaring is a generic instance, parameters of its definition
// are replaced by the instance arguments.
func FromGenericParameter(t *Type, declaring *Type) *Type {
	return Substitute(t, InstanceBindings(declaring))
}

// ConcreteType is a closed type discovered at the call site, with the name of
// the runtime type it was bridged from.
type ConcreteType struct {
	Type   *Type
	Source string
}

// DefinitionName is the full name of the generic definition c instantiates,
// or "" when c is not a generic instance.
func (c ConcreteType) DefinitionName() string {
	if c.Type == nil || c.Type.Definition == nil {
		return ""
	}
	return c.Type.Definition.FullName()
}
