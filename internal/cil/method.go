package cil

import "strings"

// Param is a formal method parameter.
type Param struct {
	Name string
	Type *Type
}

// Method is a method definition with the facts the JIT needs.
type Method struct {
	Name          string
	DeclaringType *Type
	Params        []Param
	ReturnType    *Type // nil means void
	HasThis       bool
	Locals        []*Type
	// Intrinsic names an LLVM builtin that implements the method, e.g.
	// "llvm.nvvm.read.ptx.sreg.tid.x".
	Intrinsic string
}

// HasReturnValue reports whether calls push a result.
func (m *Method) HasReturnValue() bool {
	return m.ReturnType != nil && !m.ReturnType.IsVoid()
}

// NumArgs counts formal parameters, excluding this.
func (m *Method) NumArgs() int { return len(m.Params) }

// NumLocals counts local variable slots.
func (m *Method) NumLocals() int { return len(m.Locals) }

// ArgType returns the type of argument slot i, counting this as slot 0 for
// instance methods.
func (m *Method) ArgType(i int) (*Type, bool) {
	if m.HasThis {
		if i == 0 {
			return m.DeclaringType, true
		}
		i--
	}
	if i < 0 || i >= len(m.Params) {
		return nil, false
	}
	return m.Params[i].Type, true
}

// FullName is "ret Decl::Name(p1,p2)".
func (m *Method) FullName() string {
	var sb strings.Builder
	ret := Void
	if m.ReturnType != nil {
		ret = m.ReturnType
	}
	sb.WriteString(ret.FullName())
	sb.WriteByte(' ')
	if m.DeclaringType != nil {
		sb.WriteString(m.DeclaringType.FullName())
		sb.WriteString("::")
	}
	sb.WriteString(m.Name)
	sb.WriteByte('(')
	for i, p := range m.Params {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(p.Type.FullName())
	}
	sb.WriteByte(')')
	return sb.String()
}

func (m *Method) String() string { return m.FullName() }
