package emit

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"cilgpu/internal/cil"
)

var i8ptr = types.NewPointer(types.I8)

func zeroValue(t types.Type) constant.Constant {
	switch t := t.(type) {
	case *types.IntType:
		return constant.NewInt(t, 0)
	case *types.FloatType:
		return constant.NewFloat(t, 0)
	case *types.PointerType:
		return constant.NewNull(t)
	}
	return constant.NewZeroInitializer(t)
}

func isInt(t types.Type) bool {
	_, ok := t.(*types.IntType)
	return ok
}

func isFloat(t types.Type) bool {
	_, ok := t.(*types.FloatType)
	return ok
}

func isPointer(t types.Type) bool {
	_, ok := t.(*types.PointerType)
	return ok
}

func intBits(t types.Type) uint64 {
	if it, ok := t.(*types.IntType); ok {
		return it.BitSize
	}
	return 0
}

// floatRank orders float kinds by width.
func floatRank(t types.Type) int {
	if ft, ok := t.(*types.FloatType); ok && ft.Kind == types.FloatKindDouble {
		return 2
	}
	return 1
}

func unsigned(t *cil.Type) bool {
	return t != nil && t.Kind == cil.KindPrimitive && t.Prim.IsUnsigned()
}

// coerce converts v to type to within b. Integers are extended according to
// signed; mismatches with no sensible conversion return v unchanged.
func coerce(b *ir.Block, v value.Value, to types.Type, signed bool) value.Value {
	from := v.Type()
	if from.Equal(to) {
		return v
	}
	if c, ok := v.(*constant.Int); ok && isInt(to) {
		return constant.NewInt(to.(*types.IntType), c.X.Int64())
	}
	switch {
	case isInt(from) && isInt(to):
		switch {
		case intBits(from) > intBits(to):
			return b.NewTrunc(v, to)
		case signed:
			return b.NewSExt(v, to)
		default:
			return b.NewZExt(v, to)
		}
	case isInt(from) && isFloat(to):
		if signed {
			return b.NewSIToFP(v, to)
		}
		return b.NewUIToFP(v, to)
	case isFloat(from) && isInt(to):
		if signed {
			return b.NewFPToSI(v, to)
		}
		return b.NewFPToUI(v, to)
	case isFloat(from) && isFloat(to):
		if floatRank(from) < floatRank(to) {
			return b.NewFPExt(v, to)
		}
		return b.NewFPTrunc(v, to)
	case isPointer(from) && isPointer(to):
		if _, ok := v.(*constant.Null); ok {
			return constant.NewNull(to.(*types.PointerType))
		}
		return b.NewBitCast(v, to)
	}
	return v
}

// coerceConst retypes integer and null constants feeding a phi. Other values
// are returned unchanged.
func coerceConst(v value.Value, to types.Type) value.Value {
	if v.Type().Equal(to) {
		return v
	}
	switch c := v.(type) {
	case *constant.Int:
		if it, ok := to.(*types.IntType); ok {
			return constant.NewInt(it, c.X.Int64())
		}
	case *constant.Null:
		if pt, ok := to.(*types.PointerType); ok {
			return constant.NewNull(pt)
		}
	}
	return v
}

// unify brings two operands to a common type: the wider integer, the wider
// float, or float when mixed. The result carries the bytecode type of the
// operand that was kept.
func unify(b *ir.Block, x, y StackValue) (value.Value, value.Value, *cil.Type) {
	xt, yt := x.V.Type(), y.V.Type()
	switch {
	case xt.Equal(yt):
		return x.V, y.V, x.T
	case isInt(xt) && isInt(yt):
		if intBits(xt) >= intBits(yt) {
			return x.V, coerce(b, y.V, xt, !unsigned(y.T)), x.T
		}
		return coerce(b, x.V, yt, !unsigned(x.T)), y.V, y.T
	case isFloat(xt) && isFloat(yt):
		if floatRank(xt) >= floatRank(yt) {
			return x.V, coerce(b, y.V, xt, true), x.T
		}
		return coerce(b, x.V, yt, true), y.V, y.T
	case isFloat(xt) && isInt(yt):
		return x.V, coerce(b, y.V, xt, !unsigned(y.T)), x.T
	case isInt(xt) && isFloat(yt):
		return coerce(b, x.V, yt, !unsigned(x.T)), y.V, y.T
	case isPointer(xt) && isPointer(yt):
		return x.V, coerce(b, y.V, xt, false), x.T
	}
	return x.V, y.V, x.T
}

// truth reduces v to an i1.
func truth(b *ir.Block, v value.Value) value.Value {
	t := v.Type()
	switch {
	case intBits(t) == 1:
		return v
	case isInt(t):
		return b.NewICmp(enum.IPredNE, v, constant.NewInt(t.(*types.IntType), 0))
	case isFloat(t):
		return b.NewFCmp(enum.FPredONE, v, constant.NewFloat(t.(*types.FloatType), 0))
	case isPointer(t):
		return b.NewICmp(enum.IPredNE, v, constant.NewNull(t.(*types.PointerType)))
	}
	return v
}
