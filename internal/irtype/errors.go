package irtype

import "fmt"

// ConversionErrorKind enumerates lowering failures.
type ConversionErrorKind uint8

const (
	// ErrUnboundGenericParam: a generic parameter has no binding in scope.
	ErrUnboundGenericParam ConversionErrorKind = iota + 1
	// ErrUnknownShape: the type is neither primitive, array, class nor struct.
	ErrUnknownShape
	// ErrLayout: a field's layout could not be computed.
	ErrLayout
)

// TypeConversionError reports a type that cannot be lowered to IR.
type TypeConversionError struct {
	Kind  ConversionErrorKind
	Type  string
	Param string // for ErrUnboundGenericParam
	Err   error
}

func (e *TypeConversionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case ErrUnboundGenericParam:
		return fmt.Sprintf("cannot lower %s: generic parameter %s is unbound", e.Type, e.Param)
	case ErrUnknownShape:
		return fmt.Sprintf("cannot lower %s: unsupported type shape", e.Type)
	case ErrLayout:
		return fmt.Sprintf("cannot lower %s: %v", e.Type, e.Err)
	default:
		return fmt.Sprintf("type conversion error kind=%d type=%s", e.Kind, e.Type)
	}
}

func (e *TypeConversionError) Unwrap() error { return e.Err }
