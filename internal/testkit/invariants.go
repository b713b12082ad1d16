// Package testkit holds invariant checks shared by the JIT package tests.
package testkit

import (
	"fmt"

	"github.com/llir/llvm/ir"

	"cilgpu/internal/cfg"
	"cilgpu/internal/cil"
)

// CheckNoDuplicateSpecializations verifies that no block was cloned twice
// with the same binding:
// 1) every clone's (Previous, OpFromPrevious) pair is unique
// 2) along a Previous chain no binding key is bound twice
func CheckNoDuplicateSpecializations(g *cfg.Graph) error {
	type key struct {
		prev     cfg.VertexID
		param    string
		concrete string
	}
	seen := make(map[key]cfg.VertexID)
	for _, v := range g.Vertices() {
		if v.Previous == cfg.NoVertex {
			continue
		}
		k := key{v.Previous, v.OpFromPrevious.Key(), v.OpFromPrevious.Concrete.FullName()}
		if other, ok := seen[k]; ok {
			return fmt.Errorf("%s and %s both specialise %s with %s", other, v.ID, v.Previous, v.OpFromPrevious)
		}
		seen[k] = v.ID

		bound := make(map[string]bool)
		for cur := v; cur.Previous != cfg.NoVertex; cur = g.Vertex(cur.Previous) {
			if bound[cur.OpFromPrevious.Key()] {
				return fmt.Errorf("chain of %s binds %s twice", v.ID, cur.OpFromPrevious.Key())
			}
			bound[cur.OpFromPrevious.Key()] = true
		}
	}
	return nil
}

// CheckFullyInstantiated verifies that every listed block whose signature is
// closed under its bindings is a chain leaf, and that leaves carry no
// unbound type-level parameter of their signature.
func CheckFullyInstantiated(g *cfg.Graph, ids []cfg.VertexID) error {
	for _, id := range ids {
		v := g.Vertex(id)
		if v == nil {
			return fmt.Errorf("unknown block %s", id)
		}
		open := openParams(v)
		leaf := g.IsFullyInstantiated(id)
		if leaf && len(open) > 0 {
			return fmt.Errorf("%s is a leaf but %s is unbound", id, open[0])
		}
		if !leaf && len(open) == 0 {
			return fmt.Errorf("%s is closed but has clones", id)
		}
	}
	return nil
}

func openParams(v *cfg.Vertex) []string {
	m := v.Method
	if m == nil {
		return nil
	}
	sites := make([]*cil.Type, 0, len(m.Params)+2)
	for _, p := range m.Params {
		sites = append(sites, p.Type)
	}
	if m.ReturnType != nil {
		sites = append(sites, m.ReturnType)
	}
	if m.HasThis {
		sites = append(sites, m.DeclaringType)
	}
	var open []string
	for _, s := range sites {
		for _, p := range cil.GenericParamsIn(s) {
			if p.Owner != nil && !v.OpsFromOriginal.Has(p) {
				open = append(open, cil.ParamKey(p))
			}
		}
	}
	return open
}

// CheckStackLevels verifies stack-level soundness of the listed blocks:
// 1) both levels are computed
// 2) the out level never drops below this+args+locals
// 3) return blocks end at this+args+locals(+1 with a return value)
func CheckStackLevels(g *cfg.Graph, ids []cfg.VertexID) error {
	for _, id := range ids {
		v := g.Vertex(id)
		if v.StackLevelIn == nil || v.StackLevelOut == nil {
			return fmt.Errorf("%s: stack level not computed", id)
		}
		floor := v.NumArgs + v.NumLocals
		if v.HasThis {
			floor++
		}
		if *v.StackLevelOut < floor {
			return fmt.Errorf("%s: out level %d below floor %d", id, *v.StackLevelOut, floor)
		}
		if v.IsReturn() {
			want := floor
			if v.HasReturnValue {
				want++
			}
			if *v.StackLevelOut != want {
				return fmt.Errorf("%s: return level got=%d want=%d", id, *v.StackLevelOut, want)
			}
		}
	}
	return nil
}

// CheckPhiComplete verifies that every phi in the listed blocks has exactly
// one incoming value per predecessor block of the same method. An entry block
// that is a loop header also counts the function's preheader.
func CheckPhiComplete(g *cfg.Graph, ids []cfg.VertexID) error {
	for _, id := range ids {
		v := g.Vertex(id)
		if v.Block == nil {
			return fmt.Errorf("%s: not emitted", id)
		}
		preds := make(map[*ir.Block]bool)
		if v.IsEntry() && v.Func != nil && len(v.Func.Blocks) > 0 && v.Func.Blocks[0] != v.Block {
			preds[v.Func.Blocks[0]] = true
		}
		for _, p := range g.Predecessors(id) {
			pv := g.Vertex(p)
			if pv.Method == v.Method && pv.Block != nil {
				preds[pv.Block] = true
			}
		}
		for _, inst := range v.Block.Insts {
			phi, ok := inst.(*ir.InstPhi)
			if !ok {
				continue
			}
			got := make(map[*ir.Block]bool)
			for _, inc := range phi.Incs {
				b, ok := inc.Pred.(*ir.Block)
				if !ok {
					return fmt.Errorf("%s: phi incoming from non-block %v", id, inc.Pred)
				}
				got[b] = true
			}
			if len(got) != len(preds) || len(phi.Incs) != len(preds) {
				return fmt.Errorf("%s: phi %s has %d incoming, want %d", id, phi.Ident(), len(phi.Incs), len(preds))
			}
			for b := range preds {
				if !got[b] {
					return fmt.Errorf("%s: phi %s misses predecessor %s", id, phi.Ident(), b.Ident())
				}
			}
		}
	}
	return nil
}

// CountPhis counts phi instructions in the listed blocks.
func CountPhis(g *cfg.Graph, ids []cfg.VertexID) int {
	n := 0
	for _, id := range ids {
		v := g.Vertex(id)
		if v == nil || v.Block == nil {
			continue
		}
		for _, inst := range v.Block.Insts {
			if _, ok := inst.(*ir.InstPhi); ok {
				n++
			}
		}
	}
	return n
}
