package cil

// Prim identifies a built-in type.
type Prim uint8

const (
	PrimNone Prim = iota
	PrimVoid
	PrimBool
	PrimChar
	PrimInt8
	PrimUInt8
	PrimInt16
	PrimUInt16
	PrimInt32
	PrimUInt32
	PrimInt64
	PrimUInt64
	PrimIntPtr
	PrimFloat32
	PrimFloat64
	PrimString
	PrimObject
)

var primNames = [...]string{
	PrimVoid:    "Void",
	PrimBool:    "Boolean",
	PrimChar:    "Char",
	PrimInt8:    "SByte",
	PrimUInt8:   "Byte",
	PrimInt16:   "Int16",
	PrimUInt16:  "UInt16",
	PrimInt32:   "Int32",
	PrimUInt32:  "UInt32",
	PrimInt64:   "Int64",
	PrimUInt64:  "UInt64",
	PrimIntPtr:  "IntPtr",
	PrimFloat32: "Single",
	PrimFloat64: "Double",
	PrimString:  "String",
	PrimObject:  "Object",
}

// IsReference reports whether values of p are pointers.
func (p Prim) IsReference() bool { return p == PrimString || p == PrimObject }

// IsFloat reports whether p is a floating-point type.
func (p Prim) IsFloat() bool { return p == PrimFloat32 || p == PrimFloat64 }

// IsUnsigned reports whether p is an unsigned integer (or bool/char).
func (p Prim) IsUnsigned() bool {
	switch p {
	case PrimBool, PrimChar, PrimUInt8, PrimUInt16, PrimUInt32, PrimUInt64:
		return true
	}
	return false
}

// Bits is the storage width of integer and float primitives, 0 otherwise.
func (p Prim) Bits() int {
	switch p {
	case PrimBool, PrimInt8, PrimUInt8:
		return 8
	case PrimChar, PrimInt16, PrimUInt16:
		return 16
	case PrimInt32, PrimUInt32, PrimFloat32:
		return 32
	case PrimInt64, PrimUInt64, PrimIntPtr, PrimFloat64:
		return 64
	}
	return 0
}

var primTypes = func() map[Prim]*Type {
	m := make(map[Prim]*Type, len(primNames))
	for p, name := range primNames {
		if name == "" {
			continue
		}
		m[Prim(p)] = &Type{Kind: KindPrimitive, Namespace: "System", Name: name, Prim: Prim(p)}
	}
	return m
}()

// Primitive returns the shared descriptor of p.
func Primitive(p Prim) *Type { return primTypes[p] }

// PrimitiveByName resolves "System.Int32" or "Int32" style names.
func PrimitiveByName(name string) (*Type, bool) {
	for _, t := range primTypes {
		if t.Name == name || "System."+t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// Shorthands for the primitives the JIT treats specially.
var (
	Void    = Primitive(PrimVoid)
	Bool    = Primitive(PrimBool)
	Char    = Primitive(PrimChar)
	Int8    = Primitive(PrimInt8)
	UInt8   = Primitive(PrimUInt8)
	Int16   = Primitive(PrimInt16)
	UInt16  = Primitive(PrimUInt16)
	Int32   = Primitive(PrimInt32)
	UInt32  = Primitive(PrimUInt32)
	Int64   = Primitive(PrimInt64)
	UInt64  = Primitive(PrimUInt64)
	IntPtr  = Primitive(PrimIntPtr)
	Float32 = Primitive(PrimFloat32)
	Float64 = Primitive(PrimFloat64)
	String  = Primitive(PrimString)
	Object  = Primitive(PrimObject)
)

// Primitives lists every built-in descriptor ordered by Prim.
func Primitives() []*Type {
	out := make([]*Type, 0, len(primTypes))
	for p := PrimVoid; p <= PrimObject; p++ {
		out = append(out, primTypes[p])
	}
	return out
}
