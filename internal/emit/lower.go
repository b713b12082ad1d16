package emit

import (
	"fmt"

	"fortio.org/safecast"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"cilgpu/internal/cfg"
	"cilgpu/internal/cil"
)

// lowering converts the instructions of one block against its out-state.
type lowering struct {
	e   *Emitter
	v   *cfg.Vertex
	s   *State
	ops cil.Bindings
}

func (l *lowering) fail(kind ErrorKind, inst cil.Inst, msg string, err error) error {
	return &EmitError{Kind: kind, Block: l.v.ID, Inst: inst.String(), Msg: msg, Err: err}
}

func (l *lowering) pop(inst cil.Inst) (StackValue, error) {
	sv, ok := l.s.Pop()
	if !ok {
		return StackValue{}, l.fail(ErrStackUnderflow, inst, "", nil)
	}
	return sv, nil
}

// pop2 pops the right operand and then the left one.
func (l *lowering) pop2(inst cil.Inst) (x, y StackValue, err error) {
	if y, err = l.pop(inst); err != nil {
		return
	}
	x, err = l.pop(inst)
	return
}

func (l *lowering) irType(inst cil.Inst, t *cil.Type) (types.Type, error) {
	irt, err := l.e.types.ToTypeRef(t, l.ops)
	if err != nil {
		return nil, l.fail(ErrUnsupported, inst, "type "+t.FullName(), err)
	}
	return irt, nil
}

func (l *lowering) lower(inst cil.Inst) error {
	b := l.v.Block
	switch inst.Op {
	case cil.OpNop:
		return nil

	case cil.OpLdarg:
		sv, ok := l.s.Arg(int(inst.Int))
		if !ok {
			return l.fail(ErrUnsupported, inst, "argument out of range", nil)
		}
		l.s.Push(sv)
	case cil.OpLdloc:
		sv, ok := l.s.Local(int(inst.Int))
		if !ok {
			return l.fail(ErrUnsupported, inst, "local out of range", nil)
		}
		l.s.Push(sv)
	case cil.OpStarg, cil.OpStloc:
		sv, err := l.pop(inst)
		if err != nil {
			return err
		}
		var (
			old StackValue
			ok  bool
		)
		if inst.Op == cil.OpStarg {
			old, ok = l.s.Arg(int(inst.Int))
		} else {
			old, ok = l.s.Local(int(inst.Int))
		}
		if !ok {
			return l.fail(ErrUnsupported, inst, "slot out of range", nil)
		}
		sv = StackValue{V: coerce(b, sv.V, old.V.Type(), !unsigned(sv.T)), T: old.T}
		if inst.Op == cil.OpStarg {
			l.s.SetArg(int(inst.Int), sv)
		} else {
			l.s.SetLocal(int(inst.Int), sv)
		}

	case cil.OpLdcI4:
		l.s.Push(StackValue{V: constant.NewInt(types.I32, inst.Int), T: cil.Int32})
	case cil.OpLdcI8:
		l.s.Push(StackValue{V: constant.NewInt(types.I64, inst.Int), T: cil.Int64})
	case cil.OpLdcR4:
		l.s.Push(StackValue{V: constant.NewFloat(types.Float, inst.Float), T: cil.Float32})
	case cil.OpLdcR8:
		l.s.Push(StackValue{V: constant.NewFloat(types.Double, inst.Float), T: cil.Float64})
	case cil.OpLdnull:
		l.s.Push(StackValue{V: constant.NewNull(i8ptr), T: cil.Object})

	case cil.OpDup:
		sv, ok := l.s.Top()
		if !ok {
			return l.fail(ErrStackUnderflow, inst, "", nil)
		}
		l.s.Push(sv)
	case cil.OpPop:
		_, err := l.pop(inst)
		return err

	case cil.OpAdd, cil.OpSub, cil.OpMul, cil.OpDiv, cil.OpRem,
		cil.OpAnd, cil.OpOr, cil.OpXor:
		return l.arith(inst)
	case cil.OpShl, cil.OpShr:
		return l.shift(inst)
	case cil.OpNeg, cil.OpNot:
		return l.unary(inst)
	case cil.OpCeq, cil.OpClt, cil.OpCgt:
		x, y, err := l.pop2(inst)
		if err != nil {
			return err
		}
		c := compare(b, inst.Op, x, y)
		l.s.Push(StackValue{V: b.NewZExt(c, types.I32), T: cil.Int32})
	case cil.OpConvI4, cil.OpConvI8, cil.OpConvR4, cil.OpConvR8:
		return l.conv(inst)

	case cil.OpBr:
		succ := l.e.succs(l.v)
		if len(succ) == 0 {
			return l.fail(ErrBranch, inst, "no successor", nil)
		}
		b.NewBr(succ[0].Block)
	case cil.OpBrtrue, cil.OpBrfalse:
		sv, err := l.pop(inst)
		if err != nil {
			return err
		}
		return l.condBr(inst, truth(b, sv.V))
	case cil.OpBeq, cil.OpBne, cil.OpBlt, cil.OpBle, cil.OpBgt, cil.OpBge:
		x, y, err := l.pop2(inst)
		if err != nil {
			return err
		}
		return l.condBr(inst, compare(b, inst.Op, x, y))

	case cil.OpRet:
		if !l.v.HasReturnValue {
			b.NewRet(nil)
			return nil
		}
		sv, ok := l.s.Top()
		if !ok {
			return l.fail(ErrStackUnderflow, inst, "", nil)
		}
		b.NewRet(coerce(b, sv.V, l.v.Func.Sig.RetType, !unsigned(sv.T)))

	case cil.OpCall:
		return l.call(inst)

	case cil.OpLdlen:
		arr, err := l.pop(inst)
		if err != nil {
			return err
		}
		st, err := l.arrayStruct(inst, arr)
		if err != nil {
			return err
		}
		p := b.NewGetElementPtr(st, arr.V, i32(0), i32(1))
		l.s.Push(StackValue{V: b.NewLoad(types.I64, p), T: cil.Int64})
	case cil.OpLdelem:
		idx, err := l.pop(inst)
		if err != nil {
			return err
		}
		arr, err := l.pop(inst)
		if err != nil {
			return err
		}
		elem, ep, err := l.elemPtr(inst, arr, idx)
		if err != nil {
			return err
		}
		l.s.Push(StackValue{V: b.NewLoad(elem, ep), T: arr.T.Elem})
	case cil.OpStelem:
		val, err := l.pop(inst)
		if err != nil {
			return err
		}
		idx, err := l.pop(inst)
		if err != nil {
			return err
		}
		arr, err := l.pop(inst)
		if err != nil {
			return err
		}
		elem, ep, err := l.elemPtr(inst, arr, idx)
		if err != nil {
			return err
		}
		b.NewStore(coerce(b, val.V, elem, !unsigned(val.T)), ep)

	case cil.OpLdfld:
		obj, err := l.pop(inst)
		if err != nil {
			return err
		}
		return l.loadField(inst, obj)
	case cil.OpStfld:
		val, err := l.pop(inst)
		if err != nil {
			return err
		}
		obj, err := l.pop(inst)
		if err != nil {
			return err
		}
		return l.storeField(inst, obj, val)

	default:
		return l.fail(ErrUnsupported, inst, "opcode", nil)
	}
	return nil
}

func i32(n int) constant.Constant { return constant.NewInt(types.I32, int64(n)) }

func (l *lowering) arith(inst cil.Inst) error {
	x, y, err := l.pop2(inst)
	if err != nil {
		return err
	}
	b := l.v.Block
	xv, yv, t := unify(b, x, y)
	fl := isFloat(xv.Type())
	uns := unsigned(t)
	var r value.Value
	switch inst.Op {
	case cil.OpAdd:
		if fl {
			r = b.NewFAdd(xv, yv)
		} else {
			r = b.NewAdd(xv, yv)
		}
	case cil.OpSub:
		if fl {
			r = b.NewFSub(xv, yv)
		} else {
			r = b.NewSub(xv, yv)
		}
	case cil.OpMul:
		if fl {
			r = b.NewFMul(xv, yv)
		} else {
			r = b.NewMul(xv, yv)
		}
	case cil.OpDiv:
		switch {
		case fl:
			r = b.NewFDiv(xv, yv)
		case uns:
			r = b.NewUDiv(xv, yv)
		default:
			r = b.NewSDiv(xv, yv)
		}
	case cil.OpRem:
		switch {
		case fl:
			r = b.NewFRem(xv, yv)
		case uns:
			r = b.NewURem(xv, yv)
		default:
			r = b.NewSRem(xv, yv)
		}
	default:
		if fl {
			return l.fail(ErrUnsupported, inst, "bitwise operation on float", nil)
		}
		switch inst.Op {
		case cil.OpAnd:
			r = b.NewAnd(xv, yv)
		case cil.OpOr:
			r = b.NewOr(xv, yv)
		default:
			r = b.NewXor(xv, yv)
		}
	}
	l.s.Push(StackValue{V: r, T: t})
	return nil
}

func (l *lowering) shift(inst cil.Inst) error {
	x, y, err := l.pop2(inst)
	if err != nil {
		return err
	}
	b := l.v.Block
	if !isInt(x.V.Type()) {
		return l.fail(ErrUnsupported, inst, "shift of non-integer", nil)
	}
	n := coerce(b, y.V, x.V.Type(), false)
	var r value.Value
	switch {
	case inst.Op == cil.OpShl:
		r = b.NewShl(x.V, n)
	case unsigned(x.T):
		r = b.NewLShr(x.V, n)
	default:
		r = b.NewAShr(x.V, n)
	}
	l.s.Push(StackValue{V: r, T: x.T})
	return nil
}

func (l *lowering) unary(inst cil.Inst) error {
	x, err := l.pop(inst)
	if err != nil {
		return err
	}
	b := l.v.Block
	t := x.V.Type()
	var r value.Value
	switch {
	case inst.Op == cil.OpNeg && isFloat(t):
		r = b.NewFNeg(x.V)
	case inst.Op == cil.OpNeg && isInt(t):
		r = b.NewSub(constant.NewInt(t.(*types.IntType), 0), x.V)
	case inst.Op == cil.OpNot && isInt(t):
		r = b.NewXor(x.V, constant.NewInt(t.(*types.IntType), -1))
	default:
		return l.fail(ErrUnsupported, inst, "operand type "+t.String(), nil)
	}
	l.s.Push(StackValue{V: r, T: x.T})
	return nil
}

func (l *lowering) conv(inst cil.Inst) error {
	x, err := l.pop(inst)
	if err != nil {
		return err
	}
	var to *cil.Type
	switch inst.Op {
	case cil.OpConvI4:
		to = cil.Int32
	case cil.OpConvI8:
		to = cil.Int64
	case cil.OpConvR4:
		to = cil.Float32
	default:
		to = cil.Float64
	}
	irt, err := l.irType(inst, to)
	if err != nil {
		return err
	}
	l.s.Push(StackValue{V: coerce(l.v.Block, x.V, irt, !unsigned(x.T)), T: to})
	return nil
}

// condBr branches to successor 0 when the branch is taken and to successor
// 1 otherwise. brfalse swaps the targets.
func (l *lowering) condBr(inst cil.Inst, cond value.Value) error {
	succ := l.e.succs(l.v)
	var taken, fall *ir.Block
	switch len(succ) {
	case 0:
		return l.fail(ErrBranch, inst, "no successor", nil)
	case 1:
		taken, fall = succ[0].Block, succ[0].Block
	default:
		taken, fall = succ[0].Block, succ[1].Block
	}
	if inst.Op == cil.OpBrfalse {
		taken, fall = fall, taken
	}
	l.v.Block.NewCondBr(cond, taken, fall)
	return nil
}

func (l *lowering) call(inst cil.Inst) error {
	m := inst.Method
	if m == nil {
		return l.fail(ErrCall, inst, "no method", nil)
	}
	fn, calleeOps, err := l.e.calls.Callee(l.v, inst)
	if err != nil {
		return l.fail(ErrCall, inst, "", err)
	}
	n := len(m.Params)
	if m.HasThis {
		n++
	}
	if len(fn.Params) != n {
		return l.fail(ErrCall, inst, fmt.Sprintf("%s takes %d params, call passes %d", fn.Name(), len(fn.Params), n), nil)
	}
	b := l.v.Block
	args := make([]value.Value, n)
	for i := n - 1; i >= 0; i-- {
		sv, err := l.pop(inst)
		if err != nil {
			return err
		}
		args[i] = coerce(b, sv.V, fn.Params[i].Typ, !unsigned(sv.T))
	}
	r := b.NewCall(fn, args...)
	if m.HasReturnValue() {
		l.s.Push(StackValue{V: r, T: closeType(m.ReturnType, m, calleeOps)})
	}
	return nil
}

func (l *lowering) arrayStruct(inst cil.Inst, arr StackValue) (*types.StructType, error) {
	pt, ok := arr.V.Type().(*types.PointerType)
	if !ok {
		return nil, l.fail(ErrUnsupported, inst, "array operand is not a pointer", nil)
	}
	st, ok := pt.ElemType.(*types.StructType)
	if !ok || arr.T == nil || arr.T.Kind != cil.KindArray {
		return nil, l.fail(ErrUnsupported, inst, "operand is not an array", nil)
	}
	return st, nil
}

// elemPtr returns the element type and the address of arr[idx].
func (l *lowering) elemPtr(inst cil.Inst, arr, idx StackValue) (types.Type, value.Value, error) {
	st, err := l.arrayStruct(inst, arr)
	if err != nil {
		return nil, nil, err
	}
	elem, err := l.irType(inst, arr.T.Elem)
	if err != nil {
		return nil, nil, err
	}
	b := l.v.Block
	pp := b.NewGetElementPtr(st, arr.V, i32(0), i32(0))
	data := b.NewLoad(types.NewPointer(elem), pp)
	i := coerce(b, idx.V, types.I64, !unsigned(idx.T))
	return elem, b.NewGetElementPtr(elem, data, i), nil
}

// field resolves the owner layout, IR index and closed type of a field.
func (l *lowering) field(inst cil.Inst, obj StackValue) (types.Type, int, *cil.Type, error) {
	if obj.T == nil {
		return nil, 0, nil, l.fail(ErrUnsupported, inst, "untyped field owner", nil)
	}
	owner := cil.Substitute(obj.T, l.ops)
	ownerIR, err := l.irType(inst, owner)
	if err != nil {
		return nil, 0, nil, err
	}
	f, ok := owner.LookupField(inst.Field)
	if !ok {
		return nil, 0, nil, l.fail(ErrUnsupported, inst, "no field "+inst.Field+" on "+owner.FullName(), nil)
	}
	idx, ok := l.e.types.FieldIndex(owner, inst.Field)
	if !ok {
		return nil, 0, nil, l.fail(ErrUnsupported, inst, "field "+inst.Field+" not lowered", nil)
	}
	return ownerIR, idx, cil.Substitute(f.Type, l.ops), nil
}

func (l *lowering) loadField(inst cil.Inst, obj StackValue) error {
	ownerIR, idx, ft, err := l.field(inst, obj)
	if err != nil {
		return err
	}
	b := l.v.Block
	if pt, ok := ownerIR.(*types.PointerType); ok {
		fIR, err := l.irType(inst, ft)
		if err != nil {
			return err
		}
		p := b.NewGetElementPtr(pt.ElemType, obj.V, i32(0), i32(idx))
		l.s.Push(StackValue{V: b.NewLoad(fIR, p), T: ft})
		return nil
	}
	u, err := safecast.Conv[uint64](idx)
	if err != nil {
		return l.fail(ErrUnsupported, inst, "field index", err)
	}
	l.s.Push(StackValue{V: b.NewExtractValue(obj.V, u), T: ft})
	return nil
}

func (l *lowering) storeField(inst cil.Inst, obj, val StackValue) error {
	ownerIR, idx, ft, err := l.field(inst, obj)
	if err != nil {
		return err
	}
	pt, ok := ownerIR.(*types.PointerType)
	if !ok {
		return l.fail(ErrUnsupported, inst, "store into value-type field", nil)
	}
	fIR, err := l.irType(inst, ft)
	if err != nil {
		return err
	}
	b := l.v.Block
	p := b.NewGetElementPtr(pt.ElemType, obj.V, i32(0), i32(idx))
	b.NewStore(coerce(b, val.V, fIR, !unsigned(val.T)), p)
	return nil
}
