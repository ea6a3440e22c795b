package layout

import (
	"tlog.app/go/errors"
)

type (
	parser struct {
		in *Interner
		b  []byte

		rec []InLayout
	}
)

var scalars = map[string]InLayout{
	"Bool": BOOL,
	"U8":   U8,
	"U16":  U16,
	"U32":  U32,
	"U64":  U64,
	"U128": U128,
	"I8":   I8,
	"I16":  I16,
	"I32":  I32,
	"I64":  I64,
	"I128": I128,
	"F32":  F32,
	"F64":  F64,
	"Dec":  DEC,
	"Str":  STR,
	"Ptr":  OPAQUE_PTR,
}

// Parse reads a layout expression.
//
//	I64  Str  List(T)  Box(T)  Fn(T)  {T, T}
//	[(T, T) | () | (T)]       non-recursive union
//	rec[(I64, *) | ()]        recursive union, * points back to it
func Parse(in *Interner, text string) (l InLayout, err error) {
	p := &parser{in: in, b: []byte(text)}

	l, i, err := p.layout(0)
	if err != nil {
		return Nowhere, errors.Wrap(err, "at pos %d", i)
	}

	i = p.skipSpaces(i)
	if i != len(p.b) {
		return Nowhere, errors.New("unexpected trailing text at pos %d: %q", i, p.b[i:])
	}

	return l, nil
}

func (p *parser) layout(st int) (l InLayout, i int, err error) {
	i = p.skipSpaces(st)

	if i == len(p.b) {
		return Nowhere, i, errors.New("layout expected, got end of text")
	}

	switch c := p.b[i]; {
	case c == '{':
		fields, i, err := p.list(i, '{', '}')
		if err != nil {
			return Nowhere, i, errors.Wrap(err, "struct")
		}

		return p.in.InsertStruct(fields...), i, nil
	case c == '[':
		tags, i, err := p.variants(i)
		if err != nil {
			return Nowhere, i, errors.Wrap(err, "union")
		}

		return p.in.InsertUnion(NonRecursive{Tags: tags}), i, nil
	case c == '*':
		if len(p.rec) == 0 {
			return Nowhere, i, errors.New("recursive pointer outside of rec union")
		}

		return p.in.RecursivePointerTo(p.rec[len(p.rec)-1]), i + 1, nil
	case isIdentStart(c):
	default:
		return Nowhere, i, errors.New("unexpected char: %q", c)
	}

	st = i
	i = p.skipIdent(i + 1)
	name := string(p.b[st:i])

	if l, ok := scalars[name]; ok {
		return l, i, nil
	}

	switch name {
	case "rec":
		return p.recursive(i)
	case "List", "Box", "Fn":
	default:
		return Nowhere, st, errors.New("unknown layout: %s", name)
	}

	args, i, err := p.list(i, '(', ')')
	if err != nil {
		return Nowhere, i, errors.Wrap(err, "%s", name)
	}

	if len(args) != 1 {
		return Nowhere, st, errors.New("%s expects 1 argument, got %d", name, len(args))
	}

	switch name {
	case "List":
		l = p.in.Insert(List{Elem: args[0]})
	case "Box":
		l = p.in.Insert(Boxed{Inner: args[0]})
	case "Fn":
		l = p.in.Insert(LambdaSet{Runtime: args[0]})
	}

	return l, i, nil
}

func (p *parser) recursive(st int) (l InLayout, i int, err error) {
	i = st

	l, err = p.in.InsertRecursive(func(self InLayout) (UnionLayout, error) {
		p.rec = append(p.rec, self)
		defer func() { p.rec = p.rec[:len(p.rec)-1] }()

		var tags [][]InLayout

		tags, i, err = p.variants(i)
		if err != nil {
			return nil, err
		}

		if len(tags) == 0 {
			return nil, errors.New("recursive union without variants")
		}

		return ChooseRecursiveEncoding(tags), nil
	})
	if err != nil {
		return Nowhere, i, errors.Wrap(err, "rec union")
	}

	return l, i, nil
}

func (p *parser) variants(st int) (tags [][]InLayout, i int, err error) {
	i = p.skipSpaces(st)

	if i == len(p.b) || p.b[i] != '[' {
		return nil, i, errors.New("'[' expected")
	}

	i = p.skipSpaces(i + 1)

	if i < len(p.b) && p.b[i] == ']' {
		return nil, i + 1, nil
	}

	for {
		var fields []InLayout

		fields, i, err = p.list(i, '(', ')')
		if err != nil {
			return nil, i, errors.Wrap(err, "variant %d", len(tags))
		}

		tags = append(tags, fields)

		i = p.skipSpaces(i)

		if i == len(p.b) {
			return nil, i, errors.New("unclosed union")
		}

		switch p.b[i] {
		case '|':
			i++
		case ']':
			return tags, i + 1, nil
		default:
			return nil, i, errors.New("'|' or ']' expected, got %q", p.b[i])
		}
	}
}

func (p *parser) list(st int, open, close byte) (l []InLayout, i int, err error) {
	i = p.skipSpaces(st)

	if i == len(p.b) || p.b[i] != open {
		return nil, i, errors.New("%q expected", open)
	}

	i = p.skipSpaces(i + 1)

	if i < len(p.b) && p.b[i] == close {
		return nil, i + 1, nil
	}

	for {
		var x InLayout

		x, i, err = p.layout(i)
		if err != nil {
			return nil, i, err
		}

		l = append(l, x)

		i = p.skipSpaces(i)

		if i == len(p.b) {
			return nil, i, errors.New("%q expected, got end of text", close)
		}

		switch p.b[i] {
		case ',':
			i++
		case close:
			return l, i + 1, nil
		default:
			return nil, i, errors.New("',' or %q expected, got %q", close, p.b[i])
		}
	}
}

func (p *parser) skipSpaces(i int) int {
	for i < len(p.b) {
		switch p.b[i] {
		case ' ', '\t', '\n':
			i++
			continue
		}

		break
	}

	return i
}

func (p *parser) skipIdent(i int) int {
	for i < len(p.b) && (isIdentStart(p.b[i]) || p.b[i] >= '0' && p.b[i] <= '9') {
		i++
	}

	return i
}

func isIdentStart(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c == '_'
}
