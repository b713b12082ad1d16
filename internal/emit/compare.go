package emit

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/value"

	"cilgpu/internal/cil"
)

// compare emits the i1 comparison a branch or ceq/clt/cgt performs.
func compare(b *ir.Block, op cil.Op, x, y StackValue) value.Value {
	xv, yv, t := unify(b, x, y)
	if isFloat(xv.Type()) {
		return b.NewFCmp(floatPred(op), xv, yv)
	}
	return b.NewICmp(intPred(op, unsigned(t)), xv, yv)
}

func intPred(op cil.Op, uns bool) enum.IPred {
	switch op {
	case cil.OpCeq, cil.OpBeq:
		return enum.IPredEQ
	case cil.OpBne:
		return enum.IPredNE
	case cil.OpClt, cil.OpBlt:
		if uns {
			return enum.IPredULT
		}
		return enum.IPredSLT
	case cil.OpBle:
		if uns {
			return enum.IPredULE
		}
		return enum.IPredSLE
	case cil.OpCgt, cil.OpBgt:
		if uns {
			return enum.IPredUGT
		}
		return enum.IPredSGT
	case cil.OpBge:
		if uns {
			return enum.IPredUGE
		}
		return enum.IPredSGE
	}
	return enum.IPredEQ
}

func floatPred(op cil.Op) enum.FPred {
	switch op {
	case cil.OpBne:
		return enum.FPredUNE
	case cil.OpClt, cil.OpBlt:
		return enum.FPredOLT
	case cil.OpBle:
		return enum.FPredOLE
	case cil.OpCgt, cil.OpBgt:
		return enum.FPredOGT
	case cil.OpBge:
		return enum.FPredOGE
	}
	return enum.FPredOEQ
}
