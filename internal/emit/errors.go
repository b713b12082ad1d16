package emit

import (
	"fmt"

	"cilgpu/internal/cfg"
)

// ErrorKind enumerates emission failures.
type ErrorKind uint8

const (
	// ErrFallThrough: a block falls through but has no single successor.
	ErrFallThrough ErrorKind = iota + 1
	// ErrStackUnderflow: lowering popped an empty symbolic stack.
	ErrStackUnderflow
	// ErrUnsupported: the instruction cannot be lowered in this position.
	ErrUnsupported
	// ErrCall: the callee of a call could not be resolved.
	ErrCall
	// ErrBranch: a branch does not have the successors it needs.
	ErrBranch
	// ErrMerge: predecessors hold values of types one phi cannot take.
	ErrMerge
)

func (k ErrorKind) String() string {
	switch k {
	case ErrFallThrough:
		return "fall-through"
	case ErrStackUnderflow:
		return "stack underflow"
	case ErrUnsupported:
		return "unsupported"
	case ErrCall:
		return "call resolution"
	case ErrBranch:
		return "branch"
	case ErrMerge:
		return "merge"
	default:
		return "unknown"
	}
}

// EmitError reports an instruction or block that cannot be lowered.
type EmitError struct {
	Kind  ErrorKind
	Block cfg.VertexID
	Inst  string
	Msg   string
	Err   error
}

func (e *EmitError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("emit %s: %s", e.Block, e.Kind)
	if e.Inst != "" {
		msg += fmt.Sprintf(" at %q", e.Inst)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EmitError) Unwrap() error { return e.Err }

// UnresolvedPhiError reports a merge slot some predecessor never produced.
type UnresolvedPhiError struct {
	Block cfg.VertexID
	Slot  int
	Pred  cfg.VertexID // NoVertex when no predecessor was emitted at all
}

func (e *UnresolvedPhiError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Pred == cfg.NoVertex {
		return fmt.Sprintf("unresolved phi in %s slot %d: no predecessor state", e.Block, e.Slot)
	}
	return fmt.Sprintf("unresolved phi in %s slot %d: predecessor %s has no value", e.Block, e.Slot, e.Pred)
}
