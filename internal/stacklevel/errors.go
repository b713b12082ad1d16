package stacklevel

import (
	"fmt"

	"cilgpu/internal/cfg"
)

// ErrorKind enumerates stack consistency failures.
type ErrorKind uint8

const (
	// ErrUnderflow: an instruction pops into the argument/local slots.
	ErrUnderflow ErrorKind = iota + 1
	// ErrReturnLevel: a return block ends at the wrong depth.
	ErrReturnLevel
	// ErrNoProgress: blocks remain whose predecessors never get a level.
	ErrNoProgress
	// ErrDiverges: a loop keeps raising the level of its header.
	ErrDiverges
	// ErrEntryLevel: a branch back to the entry block carries stack values.
	ErrEntryLevel
)

// StackConsistencyError reports a malformed method body or a faulty
// specialisation.
type StackConsistencyError struct {
	Kind  ErrorKind
	Block cfg.VertexID
	Inst  string // for ErrUnderflow
	Got   int
	Want  int // floor for ErrUnderflow and ErrEntryLevel, expected level for ErrReturnLevel
}

func (e *StackConsistencyError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case ErrUnderflow:
		return fmt.Sprintf("stack underflow in %s at %q: level %d below floor %d", e.Block, e.Inst, e.Got, e.Want)
	case ErrReturnLevel:
		return fmt.Sprintf("return block %s ends at stack level %d, want %d", e.Block, e.Got, e.Want)
	case ErrNoProgress:
		return fmt.Sprintf("stack levels: %d blocks never reached from a computed predecessor (first %s)", e.Got, e.Block)
	case ErrDiverges:
		return fmt.Sprintf("stack level of %s grows without bound (reached %d)", e.Block, e.Got)
	case ErrEntryLevel:
		return fmt.Sprintf("%s branches back to its entry at stack level %d, want %d", e.Block, e.Got, e.Want)
	default:
		return fmt.Sprintf("stack consistency error kind=%d block=%s", e.Kind, e.Block)
	}
}
