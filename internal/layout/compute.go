package layout

import "cilgpu/internal/cil"

func (e *LayoutEngine) computeLayout(t *cil.Type, state *layoutState) (TypeLayout, *LayoutError) {
	switch t.Kind {
	case cil.KindPrimitive:
		if t.Prim.IsReference() {
			return e.ptrLayout(), nil
		}
		switch t.Prim {
		case cil.PrimVoid:
			return TypeLayout{Size: 0, Align: 1}, nil
		case cil.PrimIntPtr:
			return e.ptrLayout(), nil
		}
		return scalarLayoutBytes(t.Prim.Bits() / 8), nil

	case cil.KindClass, cil.KindArray:
		return e.ptrLayout(), nil

	case cil.KindValueType:
		return e.structLayout(t, state)

	case cil.KindGenericParam:
		return TypeLayout{Size: 0, Align: 1}, &LayoutError{Kind: LayoutErrUnboundGeneric, Type: t.FullName()}
	}
	return TypeLayout{Size: 0, Align: 1}, &LayoutError{Kind: LayoutErrUnknownShape, Type: t.FullName()}
}

func (e *LayoutEngine) ptrLayout() TypeLayout {
	ptrSize := e.Target.PtrSize
	ptrAlign := e.Target.PtrAlign
	if ptrSize <= 0 {
		ptrSize = 8
	}
	if ptrAlign <= 0 {
		ptrAlign = ptrSize
	}
	return TypeLayout{Size: ptrSize, Align: ptrAlign}
}

func scalarLayoutBytes(size int) TypeLayout {
	if size <= 0 {
		return TypeLayout{Size: 0, Align: 1}
	}
	return TypeLayout{Size: size, Align: size}
}

func roundUp(n, align int) int {
	if align <= 1 {
		return n
	}
	r := n % align
	if r == 0 {
		return n
	}
	return n + (align - r)
}

func (e *LayoutEngine) structLayout(t *cil.Type, state *layoutState) (TypeLayout, *LayoutError) {
	fields := t.InstanceFields()
	if len(fields) == 0 {
		return TypeLayout{Size: 0, Align: 1}, nil
	}
	offsets := make([]int, len(fields))
	size := 0
	align := 1
	for i, f := range fields {
		fl, err := e.layoutOf(f.Type, state)
		if err != nil {
			return TypeLayout{Size: 0, Align: 1}, err
		}
		fAlign := max(fl.Align, 1)
		size = roundUp(size, fAlign)
		offsets[i] = size
		size += fl.Size
		align = max(align, fAlign)
	}
	return TypeLayout{
		Size:         roundUp(size, align),
		Align:        align,
		FieldOffsets: offsets,
	}, nil
}
