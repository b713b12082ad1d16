package cil

import (
	"fmt"
	"strconv"
)

// Op is a bytecode opcode.
type Op uint8

const (
	OpNop Op = iota
	OpLdarg
	OpStarg
	OpLdloc
	OpStloc
	OpLdcI4
	OpLdcI8
	OpLdcR4
	OpLdcR8
	OpLdnull
	OpDup
	OpPop
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpNeg
	OpNot
	OpCeq
	OpClt
	OpCgt
	OpConvI4
	OpConvI8
	OpConvR4
	OpConvR8
	OpBr
	OpBrtrue
	OpBrfalse
	OpBeq
	OpBne
	OpBlt
	OpBle
	OpBgt
	OpBge
	OpRet
	OpCall
	OpLdlen
	OpLdelem
	OpStelem
	OpLdfld
	OpStfld

	opCount
)

// FlowControl says how an instruction leaves its block.
type FlowControl uint8

const (
	FlowNext FlowControl = iota
	FlowBranch
	FlowCondBranch
	FlowReturn
	FlowCall
)

func (f FlowControl) String() string {
	switch f {
	case FlowNext:
		return "next"
	case FlowBranch:
		return "branch"
	case FlowCondBranch:
		return "cond-branch"
	case FlowReturn:
		return "return"
	case FlowCall:
		return "call"
	default:
		return "invalid"
	}
}

type opInfo struct {
	name      string
	pop, push int
	flow      FlowControl
}

var opTable = [opCount]opInfo{
	OpNop:     {"nop", 0, 0, FlowNext},
	OpLdarg:   {"ldarg", 0, 1, FlowNext},
	OpStarg:   {"starg", 1, 0, FlowNext},
	OpLdloc:   {"ldloc", 0, 1, FlowNext},
	OpStloc:   {"stloc", 1, 0, FlowNext},
	OpLdcI4:   {"ldc.i4", 0, 1, FlowNext},
	OpLdcI8:   {"ldc.i8", 0, 1, FlowNext},
	OpLdcR4:   {"ldc.r4", 0, 1, FlowNext},
	OpLdcR8:   {"ldc.r8", 0, 1, FlowNext},
	OpLdnull:  {"ldnull", 0, 1, FlowNext},
	OpDup:     {"dup", 1, 2, FlowNext},
	OpPop:     {"pop", 1, 0, FlowNext},
	OpAdd:     {"add", 2, 1, FlowNext},
	OpSub:     {"sub", 2, 1, FlowNext},
	OpMul:     {"mul", 2, 1, FlowNext},
	OpDiv:     {"div", 2, 1, FlowNext},
	OpRem:     {"rem", 2, 1, FlowNext},
	OpAnd:     {"and", 2, 1, FlowNext},
	OpOr:      {"or", 2, 1, FlowNext},
	OpXor:     {"xor", 2, 1, FlowNext},
	OpShl:     {"shl", 2, 1, FlowNext},
	OpShr:     {"shr", 2, 1, FlowNext},
	OpNeg:     {"neg", 1, 1, FlowNext},
	OpNot:     {"not", 1, 1, FlowNext},
	OpCeq:     {"ceq", 2, 1, FlowNext},
	OpClt:     {"clt", 2, 1, FlowNext},
	OpCgt:     {"cgt", 2, 1, FlowNext},
	OpConvI4:  {"conv.i4", 1, 1, FlowNext},
	OpConvI8:  {"conv.i8", 1, 1, FlowNext},
	OpConvR4:  {"conv.r4", 1, 1, FlowNext},
	OpConvR8:  {"conv.r8", 1, 1, FlowNext},
	OpBr:      {"br", 0, 0, FlowBranch},
	OpBrtrue:  {"brtrue", 1, 0, FlowCondBranch},
	OpBrfalse: {"brfalse", 1, 0, FlowCondBranch},
	OpBeq:     {"beq", 2, 0, FlowCondBranch},
	OpBne:     {"bne", 2, 0, FlowCondBranch},
	OpBlt:     {"blt", 2, 0, FlowCondBranch},
	OpBle:     {"ble", 2, 0, FlowCondBranch},
	OpBgt:     {"bgt", 2, 0, FlowCondBranch},
	OpBge:     {"bge", 2, 0, FlowCondBranch},
	OpRet:     {"ret", 0, 0, FlowReturn},
	OpCall:    {"call", 0, 0, FlowCall},
	OpLdlen:   {"ldlen", 1, 1, FlowNext},
	OpLdelem:  {"ldelem", 2, 1, FlowNext},
	OpStelem:  {"stelem", 3, 0, FlowNext},
	OpLdfld:   {"ldfld", 1, 1, FlowNext},
	OpStfld:   {"stfld", 2, 0, FlowNext},
}

var opByName = func() map[string]Op {
	m := make(map[string]Op, opCount)
	for op := Op(0); op < opCount; op++ {
		m[opTable[op].name] = op
	}
	return m
}()

func (op Op) String() string {
	if op < opCount {
		return opTable[op].name
	}
	return "op(" + strconv.Itoa(int(op)) + ")"
}

// ParseOp resolves a mnemonic such as "ldc.i4".
func ParseOp(s string) (Op, error) {
	if op, ok := opByName[s]; ok {
		return op, nil
	}
	return OpNop, fmt.Errorf("unknown opcode %q", s)
}

// Flow returns the flow control class of op.
func (op Op) Flow() FlowControl {
	if op < opCount {
		return opTable[op].flow
	}
	return FlowNext
}
