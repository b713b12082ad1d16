package layout

import (
	"fmt"
	"strings"
)

// LayoutErrorKind enumerates layout failures.
type LayoutErrorKind uint8

const (
	// LayoutErrRecursiveUnsized: a value type contains itself by value.
	LayoutErrRecursiveUnsized LayoutErrorKind = iota + 1
	// LayoutErrUnboundGeneric: a generic parameter reached the engine.
	LayoutErrUnboundGeneric
	LayoutErrUnknownShape
)

// LayoutError reports a type whose memory layout cannot be computed.
type LayoutError struct {
	Kind  LayoutErrorKind
	Type  string   // full name
	Cycle []string // for LayoutErrRecursiveUnsized
}

func (e *LayoutError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case LayoutErrRecursiveUnsized:
		if len(e.Cycle) == 0 {
			return fmt.Sprintf("recursive value type has infinite size (%s)", e.Type)
		}
		return fmt.Sprintf("recursive value type has infinite size (cycle: %s)", strings.Join(e.Cycle, " -> "))
	case LayoutErrUnboundGeneric:
		return fmt.Sprintf("cannot lay out unbound generic parameter %s", e.Type)
	case LayoutErrUnknownShape:
		return fmt.Sprintf("cannot lay out %s", e.Type)
	default:
		return fmt.Sprintf("layout error kind=%d type=%s", e.Kind, e.Type)
	}
}
