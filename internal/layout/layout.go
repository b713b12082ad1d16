// Package layout computes ABI size and alignment of bytecode types for a
// target, the way the device sees them in memory.
package layout

import "cilgpu/internal/cil"

// TypeLayout is the ABI layout of a type for a specific Target.
type TypeLayout struct {
	Size  int
	Align int

	// Struct-only, instance fields in declaration order.
	FieldOffsets []int
}

// LayoutEngine computes and caches layouts. It is not goroutine-safe.
type LayoutEngine struct {
	Target Target

	cache *cache
}

// New creates a LayoutEngine for target.
func New(target Target) *LayoutEngine {
	return &LayoutEngine{Target: target, cache: newCache()}
}

type layoutState struct {
	stack []string
	index map[string]int
}

func newLayoutState() *layoutState {
	return &layoutState{index: make(map[string]int, 16)}
}

// LayoutOf computes the layout of a closed type. Reference types (classes,
// arrays, strings) occupy one pointer; value types are laid out inline.
func (e *LayoutEngine) LayoutOf(t *cil.Type) (TypeLayout, error) {
	if e == nil {
		return TypeLayout{Size: 0, Align: 1}, nil
	}
	if e.cache == nil {
		e.cache = newCache()
	}
	l, err := e.layoutOf(t, newLayoutState())
	if err != nil {
		return l, err
	}
	return l, nil
}

func (e *LayoutEngine) layoutOf(t *cil.Type, state *layoutState) (TypeLayout, *LayoutError) {
	key := t.FullName()
	if cached, ok := e.cache.get(key); ok {
		return cached.Layout, cached.Err
	}

	if idx, ok := state.index[key]; ok {
		cycle := append([]string(nil), state.stack[idx:]...)
		cycle = append(cycle, key)
		err := &LayoutError{Kind: LayoutErrRecursiveUnsized, Type: key, Cycle: cycle}
		e.cache.put(key, &cacheEntry{Layout: TypeLayout{Size: 0, Align: 1}, Err: err})
		return TypeLayout{Size: 0, Align: 1}, err
	}

	state.index[key] = len(state.stack)
	state.stack = append(state.stack, key)
	l, err := e.computeLayout(t, state)
	state.stack = state.stack[:len(state.stack)-1]
	delete(state.index, key)

	// unbound parameters depend on the caller's bindings
	if t.Kind != cil.KindGenericParam {
		e.cache.put(key, &cacheEntry{Layout: l, Err: err})
	}
	return l, err
}

// SizeOf returns the size of a type in bytes.
func (e *LayoutEngine) SizeOf(t *cil.Type) (int, error) {
	l, err := e.LayoutOf(t)
	return l.Size, err
}

// AlignOf returns the alignment requirement of a type in bytes.
func (e *LayoutEngine) AlignOf(t *cil.Type) (int, error) {
	l, err := e.LayoutOf(t)
	return l.Align, err
}

// FieldOffset returns the byte offset of instance field idx of a value type.
func (e *LayoutEngine) FieldOffset(t *cil.Type, idx int) (int, error) {
	l, err := e.LayoutOf(t)
	if err != nil {
		return 0, err
	}
	if idx < 0 || idx >= len(l.FieldOffsets) {
		return 0, nil
	}
	return l.FieldOffsets[idx], nil
}

// Padding returns how many bytes must follow offset to reach align.
func Padding(offset, align int) int {
	return roundUp(offset, align) - offset
}
