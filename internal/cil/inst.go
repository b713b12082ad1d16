package cil

import (
	"fmt"
	"strconv"
)

// Inst is one decoded instruction.
type Inst struct {
	Op Op
	// Int holds the slot index of ldarg/starg/ldloc/stloc and the value of
	// ldc.i4/ldc.i8.
	Int   int64
	Float float64

	Method *Method // call
	// On is the declaring type at the call site when it differs from the
	// callee definition, e.g. ArrayView<T> for a call into ArrayView`1.
	On *Type

	Field string // ldfld/stfld
}

// Flow returns the flow control class of the instruction.
func (i Inst) Flow() FlowControl { return i.Op.Flow() }

// StackDelta returns how many slots the instruction pops and pushes.
func (i Inst) StackDelta() (pop, push int) {
	switch i.Op {
	case OpCall:
		if i.Method == nil {
			return 0, 0
		}
		pop = len(i.Method.Params)
		if i.Method.HasThis {
			pop++
		}
		if i.Method.HasReturnValue() {
			push = 1
		}
		return pop, push
	}
	info := opTable[i.Op]
	return info.pop, info.push
}

func (i Inst) String() string {
	switch i.Op {
	case OpLdarg, OpStarg, OpLdloc, OpStloc, OpLdcI4, OpLdcI8:
		return i.Op.String() + " " + strconv.FormatInt(i.Int, 10)
	case OpLdcR4, OpLdcR8:
		return i.Op.String() + " " + strconv.FormatFloat(i.Float, 'g', -1, 64)
	case OpLdfld, OpStfld:
		return i.Op.String() + " " + i.Field
	case OpCall:
		if i.Method == nil {
			return "call <nil>"
		}
		if i.On != nil {
			return fmt.Sprintf("call %s on %s", i.Method.Name, i.On.FullName())
		}
		return "call " + i.Method.FullName()
	}
	return i.Op.String()
}
