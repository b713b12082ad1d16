package progfile

import (
	"fmt"
	"strconv"
	"strings"

	"fortio.org/safecast"

	"cilgpu/internal/cfg"
	"cilgpu/internal/cil"
)

// Program is a description read into a graph, ready for the JIT.
type Program struct {
	Name     string
	Graph    *cfg.Graph
	Blocks   []cfg.VertexID
	Kernel   *cil.Method
	Concrete []cil.ConcreteType

	Types   map[string]*cil.Type
	Methods map[string]*cil.Method
}

// MethodKey is "<type name>::<method name>" as written in descriptions.
func MethodKey(typeName, name string) string { return typeName + "::" + name }

// Build reads f into g as one change set. A nil g starts a new graph.
func Build(f *File, g *cfg.Graph) (*Program, error) {
	if g == nil {
		g = cfg.NewGraph()
	}
	b := &builder{
		file:    f,
		types:   make(map[string]*cil.Type, len(f.Types)),
		methods: make(map[string]*cil.Method, len(f.Methods)),
	}
	if err := b.declareTypes(); err != nil {
		return nil, err
	}
	if err := b.declareMethods(); err != nil {
		return nil, err
	}

	cs := g.StartChangeSet()
	if err := b.readBodies(g); err != nil {
		g.PopChangeSet(cs)
		return nil, err
	}
	blocks := g.PopChangeSet(cs)

	kernel, ok := b.methods[f.Program.Kernel]
	if !ok {
		return nil, fmt.Errorf("kernel %q is not declared", f.Program.Kernel)
	}
	global := &scope{types: b.types}
	concrete := make([]cil.ConcreteType, 0, len(f.Program.Concrete))
	for _, expr := range f.Program.Concrete {
		t, err := global.ParseType(expr)
		if err != nil {
			return nil, fmt.Errorf("concrete: %w", err)
		}
		if t.ContainsGenericParameter() {
			return nil, fmt.Errorf("concrete: %s is not closed", t.FullName())
		}
		concrete = append(concrete, cil.ConcreteType{Type: t, Source: expr})
	}
	return &Program{
		Name:     f.Program.Name,
		Graph:    g,
		Blocks:   blocks,
		Kernel:   kernel,
		Concrete: concrete,
		Types:    b.types,
		Methods:  b.methods,
	}, nil
}

type builder struct {
	file    *File
	types   map[string]*cil.Type
	methods map[string]*cil.Method
	order   []*cil.Method
}

func splitName(full string) (ns, name string) {
	if i := strings.LastIndexByte(full, '.'); i >= 0 {
		return full[:i], full[i+1:]
	}
	return "", full
}

// declareTypes runs in two rounds so fields may name any declared type.
func (b *builder) declareTypes() error {
	for _, td := range b.file.Types {
		if _, dup := b.types[td.Name]; dup {
			return fmt.Errorf("type %s declared twice", td.Name)
		}
		ns, name := splitName(td.Name)
		var t *cil.Type
		if td.Kind == "struct" {
			t = cil.NewStruct(ns, name)
		} else {
			t = cil.NewClass(ns, name)
		}
		for _, p := range td.Generic {
			t.AddGenericParam(p)
		}
		b.types[td.Name] = t
	}
	for _, td := range b.file.Types {
		t := b.types[td.Name]
		sc := &scope{types: b.types, params: t.GenericParams}
		for _, fd := range td.Fields {
			ft, err := sc.ParseType(fd.Type)
			if err != nil {
				return fmt.Errorf("type %s field %s: %w", td.Name, fd.Name, err)
			}
			if ft.IsVoid() {
				return fmt.Errorf("type %s field %s: void field", td.Name, fd.Name)
			}
			t.Fields = append(t.Fields, cil.Field{Name: fd.Name, Type: ft, Static: fd.Static})
		}
	}
	return nil
}

func (b *builder) declareMethods() error {
	for _, md := range b.file.Methods {
		owner, ok := b.types[md.Type]
		if !ok {
			return fmt.Errorf("method %s::%s: unknown type %s", md.Type, md.Name, md.Type)
		}
		key := MethodKey(md.Type, md.Name)
		if _, dup := b.methods[key]; dup {
			return fmt.Errorf("method %s declared twice", key)
		}
		sc := &scope{types: b.types, params: owner.GenericParams}
		m := &cil.Method{
			Name:          md.Name,
			DeclaringType: owner,
			HasThis:       md.This,
			Intrinsic:     md.Intrinsic,
		}
		for i, ps := range md.Params {
			name, expr := paramParts(ps, i)
			pt, err := sc.ParseType(expr)
			if err != nil {
				return fmt.Errorf("method %s param %d: %w", key, i, err)
			}
			m.Params = append(m.Params, cil.Param{Name: name, Type: pt})
		}
		if md.Returns != "" {
			rt, err := sc.ParseType(md.Returns)
			if err != nil {
				return fmt.Errorf("method %s returns: %w", key, err)
			}
			if !rt.IsVoid() {
				m.ReturnType = rt
			}
		}
		for i, ls := range md.Locals {
			lt, err := sc.ParseType(ls)
			if err != nil {
				return fmt.Errorf("method %s local %d: %w", key, i, err)
			}
			m.Locals = append(m.Locals, lt)
		}
		b.methods[key] = m
		b.order = append(b.order, m)
	}
	return nil
}

// paramParts accepts "name: type" or a bare type.
func paramParts(s string, i int) (name, expr string) {
	if n, t, ok := strings.Cut(s, ":"); ok {
		return strings.TrimSpace(n), strings.TrimSpace(t)
	}
	return "p" + strconv.Itoa(i), strings.TrimSpace(s)
}

func (b *builder) readBodies(g *cfg.Graph) error {
	for i, md := range b.file.Methods {
		m := b.order[i]
		if len(md.Blocks) == 0 {
			continue
		}
		key := MethodKey(md.Type, md.Name)
		sc := &scope{types: b.types, params: m.DeclaringType.GenericParams}
		ids := make([]cfg.VertexID, len(md.Blocks))
		for j, bd := range md.Blocks {
			insts := make([]cil.Inst, 0, len(bd.Code))
			for k, line := range bd.Code {
				inst, err := b.parseInst(m, sc, line)
				if err != nil {
					return fmt.Errorf("method %s block %d inst %d: %w", key, j, k, err)
				}
				insts = append(insts, inst)
			}
			v := g.AddVertex(m, insts)
			v.Label = bd.Label
			ids[j] = v.ID
			if j == 0 {
				v.Entry = v.ID
			} else {
				v.Entry = ids[0]
			}
		}
		for j, bd := range md.Blocks {
			if len(bd.Next) > 2 {
				return fmt.Errorf("method %s block %d: at most two successors", key, j)
			}
			for _, n := range bd.Next {
				idx, err := safecast.Conv[uint32](n)
				if err != nil || int(idx) >= len(ids) {
					return fmt.Errorf("method %s block %d: successor %d out of range", key, j, n)
				}
				g.AddEdge(ids[j], ids[idx])
			}
		}
	}
	return nil
}

func (b *builder) parseInst(m *cil.Method, sc *scope, line string) (cil.Inst, error) {
	mnemonic, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	op, err := cil.ParseOp(mnemonic)
	if err != nil {
		return cil.Inst{}, err
	}
	inst := cil.Inst{Op: op}
	needOperand := func() error {
		if rest == "" {
			return fmt.Errorf("%s needs an operand", mnemonic)
		}
		return nil
	}
	switch op {
	case cil.OpLdarg, cil.OpStarg, cil.OpLdloc, cil.OpStloc:
		if err := needOperand(); err != nil {
			return inst, err
		}
		n, err := strconv.ParseUint(rest, 10, 16)
		if err != nil {
			return inst, fmt.Errorf("%s: bad slot %q", mnemonic, rest)
		}
		limit := m.NumLocals()
		if op == cil.OpLdarg || op == cil.OpStarg {
			limit = m.NumArgs()
			if m.HasThis {
				limit++
			}
		}
		if int(n) >= limit {
			return inst, fmt.Errorf("%s %d: method has %d slots", mnemonic, n, limit)
		}
		inst.Int = int64(n)
	case cil.OpLdcI4:
		if err := needOperand(); err != nil {
			return inst, err
		}
		n, err := strconv.ParseInt(rest, 0, 64)
		if err != nil {
			return inst, fmt.Errorf("ldc.i4: %w", err)
		}
		v, err := safecast.Conv[int32](n)
		if err != nil {
			return inst, fmt.Errorf("ldc.i4 %s: %w", rest, err)
		}
		inst.Int = int64(v)
	case cil.OpLdcI8:
		if err := needOperand(); err != nil {
			return inst, err
		}
		n, err := strconv.ParseInt(rest, 0, 64)
		if err != nil {
			return inst, fmt.Errorf("ldc.i8: %w", err)
		}
		inst.Int = n
	case cil.OpLdcR4, cil.OpLdcR8:
		if err := needOperand(); err != nil {
			return inst, err
		}
		bits := 64
		if op == cil.OpLdcR4 {
			bits = 32
		}
		f, err := strconv.ParseFloat(rest, bits)
		if err != nil {
			return inst, fmt.Errorf("%s: %w", mnemonic, err)
		}
		inst.Float = f
	case cil.OpLdfld, cil.OpStfld:
		if err := needOperand(); err != nil {
			return inst, err
		}
		inst.Field = rest
	case cil.OpCall:
		if err := needOperand(); err != nil {
			return inst, err
		}
		target, on, hasOn := strings.Cut(rest, " on ")
		callee, ok := b.methods[strings.TrimSpace(target)]
		if !ok {
			return inst, fmt.Errorf("call: unknown method %q", strings.TrimSpace(target))
		}
		inst.Method = callee
		if hasOn {
			t, err := sc.ParseType(strings.TrimSpace(on))
			if err != nil {
				return inst, fmt.Errorf("call on: %w", err)
			}
			if t.Definition != callee.DeclaringType {
				return inst, fmt.Errorf("call on %s: not an instance of %s", t.FullName(), callee.DeclaringType.FullName())
			}
			inst.On = t
		}
	default:
		if rest != "" {
			return inst, fmt.Errorf("%s takes no operand", mnemonic)
		}
	}
	return inst, nil
}
