package emit

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"

	"cilgpu/internal/cil"
)

// StackValue is one slot of the symbolic evaluation stack.
type StackValue struct {
	V value.Value
	T *cil.Type
}

// State is the symbolic machine state at a block boundary. The bottom slots
// hold this, the arguments and the locals, in that order; the operand stack
// lives above them.
type State struct {
	stack   []StackValue
	phi     map[int]*ir.InstPhi
	nArgs   int // including this
	nLocals int
}

func newState(nArgs, nLocals int) *State {
	return &State{
		stack:   make([]StackValue, nArgs+nLocals),
		phi:     make(map[int]*ir.InstPhi),
		nArgs:   nArgs,
		nLocals: nLocals,
	}
}

// Clone returns an independent copy. Phi markers stay with the original.
func (s *State) Clone() *State {
	return &State{
		stack:   slices.Clone(s.stack),
		phi:     make(map[int]*ir.InstPhi),
		nArgs:   s.nArgs,
		nLocals: s.nLocals,
	}
}

// Len is the stack depth including argument and local slots.
func (s *State) Len() int { return len(s.stack) }

// Depth is the operand depth above the argument and local slots.
func (s *State) Depth() int { return len(s.stack) - s.nArgs - s.nLocals }

func (s *State) Push(v StackValue) { s.stack = append(s.stack, v) }

// Pop removes the top operand; it never pops argument or local slots.
func (s *State) Pop() (StackValue, bool) {
	if s.Depth() <= 0 {
		return StackValue{}, false
	}
	top := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return top, true
}

// Top returns the top operand without removing it.
func (s *State) Top() (StackValue, bool) {
	if s.Depth() <= 0 {
		return StackValue{}, false
	}
	return s.stack[len(s.stack)-1], true
}

// Slot returns slot i counted from the bottom.
func (s *State) Slot(i int) StackValue { return s.stack[i] }

// Arg returns argument slot i (this is slot 0 of instance methods).
func (s *State) Arg(i int) (StackValue, bool) {
	if i < 0 || i >= s.nArgs {
		return StackValue{}, false
	}
	return s.stack[i], true
}

// SetArg replaces argument slot i.
func (s *State) SetArg(i int, v StackValue) bool {
	if i < 0 || i >= s.nArgs {
		return false
	}
	s.stack[i] = v
	return true
}

// Local returns local slot i.
func (s *State) Local(i int) (StackValue, bool) {
	if i < 0 || i >= s.nLocals {
		return StackValue{}, false
	}
	return s.stack[s.nArgs+i], true
}

// SetLocal replaces local slot i.
func (s *State) SetLocal(i int, v StackValue) bool {
	if i < 0 || i >= s.nLocals {
		return false
	}
	s.stack[s.nArgs+i] = v
	return true
}

// Args returns a view of the argument slots.
func (s *State) Args() []StackValue { return s.stack[:s.nArgs] }

// Locals returns a view of the local slots.
func (s *State) Locals() []StackValue { return s.stack[s.nArgs : s.nArgs+s.nLocals] }

// PhiSlots lists the slots holding phi placeholders, ascending.
func (s *State) PhiSlots() []int {
	return slices.Sorted(maps.Keys(s.phi))
}

// Phi returns the placeholder at slot i.
func (s *State) Phi(i int) (*ir.InstPhi, bool) {
	p, ok := s.phi[i]
	return p, ok
}

// Dump writes one line per slot.
func (s *State) Dump(w io.Writer) {
	for i, sv := range s.stack {
		kind := "stack"
		switch {
		case i < s.nArgs:
			kind = "arg"
		case i < s.nArgs+s.nLocals:
			kind = "local"
		}
		mark := ""
		if _, ok := s.phi[i]; ok {
			mark = " (phi)"
		}
		val := "<nil>"
		if sv.V != nil {
			val = sv.V.Ident()
		}
		fmt.Fprintf(w, "  [%d] %-5s %s : %s%s\n", i, kind, val, sv.T, mark)
	}
}
