package progfile

import (
	"fmt"
	"strings"
	"unicode"

	"cilgpu/internal/cil"
)

var aliases = map[string]*cil.Type{
	"void":    cil.Void,
	"bool":    cil.Bool,
	"char":    cil.Char,
	"sbyte":   cil.Int8,
	"byte":    cil.UInt8,
	"short":   cil.Int16,
	"ushort":  cil.UInt16,
	"int":     cil.Int32,
	"uint":    cil.UInt32,
	"long":    cil.Int64,
	"ulong":   cil.UInt64,
	"nint":    cil.IntPtr,
	"float":   cil.Float32,
	"double":  cil.Float64,
	"string":  cil.String,
	"object":  cil.Object,
	"int32":   cil.Int32,
	"int64":   cil.Int64,
	"float32": cil.Float32,
	"float64": cil.Float64,
}

// scope resolves names inside one type expression. params are the generic
// parameters visible at the use site.
type scope struct {
	types  map[string]*cil.Type
	params []*cil.Type
}

func (s *scope) lookup(name string) (*cil.Type, error) {
	for _, p := range s.params {
		if p.Name == name {
			return p, nil
		}
	}
	if t, ok := aliases[name]; ok {
		return t, nil
	}
	if t, ok := cil.PrimitiveByName(name); ok {
		return t, nil
	}
	base := name
	if i := strings.IndexByte(name, '`'); i >= 0 {
		base = name[:i]
	}
	if t, ok := s.types[base]; ok {
		if base != name && t.FullName() != name {
			return nil, fmt.Errorf("type %s: arity mismatch with %s", name, t.FullName())
		}
		return t, nil
	}
	return nil, fmt.Errorf("unknown type %q", name)
}

// ParseType reads expressions such as "int", "T[]" or
// "Gpu.ArrayView<Gpu.Pair<int,float>>[]".
func (s *scope) ParseType(expr string) (*cil.Type, error) {
	p := &typeParser{src: expr, scope: s}
	t, err := p.parse()
	if err != nil {
		return nil, fmt.Errorf("type %q: %w", expr, err)
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("type %q: unexpected %q", expr, p.src[p.pos:])
	}
	return t, nil
}

type typeParser struct {
	src   string
	pos   int
	scope *scope
}

func (p *typeParser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *typeParser) peek() byte {
	p.skipSpace()
	if p.pos < len(p.src) {
		return p.src[p.pos]
	}
	return 0
}

func isNameRune(r rune) bool {
	return r == '.' || r == '_' || r == '`' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (p *typeParser) name() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) && isNameRune(rune(p.src[p.pos])) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *typeParser) parse() (*cil.Type, error) {
	name := p.name()
	if name == "" {
		return nil, fmt.Errorf("expected type name at offset %d", p.pos)
	}
	t, err := p.scope.lookup(name)
	if err != nil {
		return nil, err
	}
	if p.peek() == '<' {
		p.pos++
		var args []*cil.Type
		for {
			a, err := p.parse()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			c := p.peek()
			p.pos++
			if c == '>' {
				break
			}
			if c != ',' {
				return nil, fmt.Errorf("expected ',' or '>' at offset %d", p.pos-1)
			}
		}
		if len(t.GenericParams) != len(args) {
			return nil, fmt.Errorf("%s takes %d type arguments, got %d", t.FullName(), len(t.GenericParams), len(args))
		}
		t = cil.NewInstance(t, args...)
	} else if len(t.GenericParams) > 0 {
		return nil, fmt.Errorf("%s needs type arguments", t.FullName())
	}
	for p.peek() == '[' {
		if !strings.HasPrefix(p.src[p.pos:], "[]") {
			return nil, fmt.Errorf("expected \"[]\" at offset %d", p.pos)
		}
		p.pos += 2
		t = cil.NewArray(t)
	}
	return t, nil
}
