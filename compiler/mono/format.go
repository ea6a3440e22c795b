package mono

import (
	"context"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"

	"github.com/slowlang/helpgen/compiler/layout"
)

type printer struct {
	in  *layout.Interner
	ids *IdentIDs
}

// Format appends a text dump of x: a Proc, a list of them or a Stmt.
// Symbols are resolved by ids if not nil.
func Format(ctx context.Context, b []byte, in *layout.Interner, ids *IdentIDs, x any) (_ []byte, err error) {
	p := printer{in: in, ids: ids}

	switch x := x.(type) {
	case []Proc:
		for i := range x {
			if i != 0 {
				b = append(b, '\n')
			}

			b, err = p.proc(b, &x[i])
			if err != nil {
				return nil, errors.Wrap(err, "proc %v", p.sym(x[i].Name))
			}
		}

		return b, nil
	case *Proc:
		return p.proc(b, x)
	case Proc:
		return p.proc(b, &x)
	case Stmt:
		return p.stmt(b, x, 0)
	default:
		return nil, errors.New("unsupported type: %T", x)
	}
}

func (p printer) proc(b []byte, x *Proc) (_ []byte, err error) {
	b = app(b, 0, "proc %s(", p.sym(x.Name))

	for i, a := range x.Args {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = app(b, 0, "%s: %s", p.sym(a.Symbol), p.in.String(a.Layout))
	}

	b = app(b, 0, ") -> %s {\n", p.in.String(x.RetLayout))

	b, err = p.stmt(b, x.Body, 1)
	if err != nil {
		return nil, errors.Wrap(err, "body")
	}

	b = app(b, 0, "}\n")

	return b, nil
}

func (p printer) stmt(b []byte, s Stmt, d int) (_ []byte, err error) {
	for {
		switch x := s.(type) {
		case Let:
			b = app(b, d, "let %s: %s = ", p.sym(x.Symbol), p.in.String(x.Layout))

			b, err = p.expr(b, x.Expr)
			if err != nil {
				return nil, errors.Wrap(err, "let %s", p.sym(x.Symbol))
			}

			b = append(b, ";\n"...)
			s = x.Next
		case Ret:
			return app(b, d, "ret %s;\n", p.sym(x.Symbol)), nil
		case Jump:
			b = app(b, d, "jump %s", p.sym(Symbol(x.ID)))
			b = p.args(b, x.Args)

			return append(b, ";\n"...), nil
		case Unreachable:
			return app(b, d, "unreachable;\n"), nil
		case Switch:
			b = app(b, d, "switch %s: %s {\n", p.sym(x.Cond), p.in.String(x.CondLayout))

			for _, br := range x.Branches {
				b = app(b, d+1, "case %d:\n", br.Value)

				b, err = p.stmt(b, br.Body, d+2)
				if err != nil {
					return nil, errors.Wrap(err, "case %d", br.Value)
				}
			}

			b = app(b, d+1, "default:\n")

			b, err = p.stmt(b, x.Default, d+2)
			if err != nil {
				return nil, errors.Wrap(err, "default")
			}

			return app(b, d, "}\n"), nil
		case Join:
			b = app(b, d, "joinpoint %s(", p.sym(Symbol(x.ID)))

			for i, a := range x.Params {
				if i != 0 {
					b = append(b, ", "...)
				}

				b = app(b, 0, "%s: %s", p.sym(a.Symbol), p.in.String(a.Layout))
			}

			b = append(b, ") {\n"...)

			b, err = p.stmt(b, x.Body, d+1)
			if err != nil {
				return nil, errors.Wrap(err, "join %v body", x.ID)
			}

			b = app(b, d, "} in\n")
			s = x.Remainder
		case Refcounting:
			switch m := x.Modify.(type) {
			case Inc:
				b = app(b, d, "inc %d %s;\n", m.Amount, p.sym(m.Structure))
			case Dec:
				b = app(b, d, "dec %s;\n", p.sym(m.Structure))
			case DecRef:
				b = app(b, d, "decref %s;\n", p.sym(m.Structure))
			default:
				return nil, errors.New("unsupported modify rc: %T", m)
			}

			s = x.Next
		case Expect:
			b = app(b, d, "expect %s [%d:%d]", p.sym(x.Condition), x.Region.Start, x.Region.End)
			b = p.args(b, x.Lookups)
			b = append(b, ";\n"...)
			s = x.Next
		case nil:
			return nil, errors.New("nil stmt")
		default:
			return nil, errors.New("unsupported stmt: %T", x)
		}
	}
}

func (p printer) expr(b []byte, e Expr) ([]byte, error) {
	switch x := e.(type) {
	case Literal:
		b = app(b, 0, "%d", x.Int)
	case Call:
		switch t := x.Type.(type) {
		case ByName:
			b = app(b, 0, "CallByName %s", p.sym(t.Name))
		case LowLevelCall:
			b = app(b, 0, "lowlevel %v", t.Op)
		default:
			return nil, errors.New("unsupported call type: %T", t)
		}

		b = p.args(b, x.Args)
	case StructAtIndex:
		b = app(b, 0, "StructAtIndex %d %s", x.Index, p.sym(x.Structure))
	case Struct:
		b = append(b, "Struct"...)
		b = p.args(b, x.Fields)
	case GetTagID:
		b = app(b, 0, "GetTagId %s", p.sym(x.Structure))
	case UnionAtIndex:
		b = app(b, 0, "UnionAtIndex (Id %d) (Index %d) %s", x.TagID, x.Index, p.sym(x.Structure))
	default:
		return nil, errors.New("unsupported expr: %T", x)
	}

	return b, nil
}

func (p printer) args(b []byte, args []Symbol) []byte {
	b = append(b, " ("...)

	for i, a := range args {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = append(b, p.sym(a)...)
	}

	return append(b, ')')
}

func (p printer) sym(s Symbol) string {
	return p.ids.SymbolName(s)
}

func app(b []byte, d int, f string, args ...any) []byte {
	const tabs = "\t\t\t\t\t\t\t\t\t\t\t\t\t\t\t"
	b = append(b, tabs[:d]...)
	b = hfmt.Appendf(b, f, args...)
	return b
}
