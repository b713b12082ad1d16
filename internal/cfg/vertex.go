// Package cfg stores basic blocks of method bodies and their specialisations
// in one append-only graph.
package cfg

import (
	"fmt"

	"github.com/llir/llvm/ir"

	"cilgpu/internal/cil"
)

// VertexID indexes the graph arena.
type VertexID int32

// NoVertex marks an absent link.
const NoVertex VertexID = -1

func (id VertexID) String() string {
	if id == NoVertex {
		return "-"
	}
	return fmt.Sprintf("bb%d", int32(id))
}

// Vertex is a basic block, either as read or as a generic specialisation.
type Vertex struct {
	ID           VertexID
	Method       *cil.Method
	Instructions []cil.Inst
	Label        string

	// Entry is the entry block of the method instance this block belongs to.
	Entry VertexID

	HasThis        bool
	HasReturnValue bool
	NumArgs        int
	NumLocals      int

	StackLevelIn  *int
	StackLevelOut *int

	// StateIn and StateOut belong to the emitter.
	StateIn  any
	StateOut any

	Func  *ir.Func
	Block *ir.Block

	AlreadyCompiled bool

	// Open marks a block whose signature still has unbound generic
	// parameters after instantiation. Open blocks never compile.
	Open bool

	Previous        VertexID
	Original        VertexID
	OpFromPrevious  cil.Binding
	OpsFromOriginal cil.Bindings
}

// IsEntry reports whether v starts its method instance.
func (v *Vertex) IsEntry() bool { return v.Entry == v.ID }

// Last returns the final instruction, if any.
func (v *Vertex) Last() (cil.Inst, bool) {
	if len(v.Instructions) == 0 {
		return cil.Inst{}, false
	}
	return v.Instructions[len(v.Instructions)-1], true
}

// IsReturn reports whether the block ends in ret.
func (v *Vertex) IsReturn() bool {
	last, ok := v.Last()
	return ok && last.Op == cil.OpRet
}

// OriginalID is the unspecialised block v derives from (v itself for originals).
func (v *Vertex) OriginalID() VertexID {
	if v.Original == NoVertex {
		return v.ID
	}
	return v.Original
}

// Name is the label used for IR blocks and dumps.
func (v *Vertex) Name() string { return v.ID.String() }

func (v *Vertex) String() string {
	name := "?"
	if v.Method != nil {
		name = v.Method.Name
	}
	return fmt.Sprintf("%s %s ops=%s", v.ID, name, v.OpsFromOriginal)
}
