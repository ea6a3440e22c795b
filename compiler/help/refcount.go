package help

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/helpgen/compiler/layout"
	"github.com/slowlang/helpgen/compiler/mono"
)

// GenerateProcs returns helper procs registered since the last call, in registration order.
// Generating a helper may register more of them, they are generated too.
func (h *CodeGenHelp) GenerateProcs(ctx context.Context, ids *mono.IdentIDs) []mono.Proc {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "help: generate procs", "home", h.home, "registered", len(h.procs))
	defer tr.Finish()

	var res []mono.Proc

	g := h.gen(ids)

	for h.pending.Len() != 0 {
		i := h.pending.Pop()

		if !h.emitted.Add(i) {
			continue
		}

		p := h.procs[i]

		if p.proc == nil {
			p.proc = g.refcountProc(p)
		}

		res = append(res, *p.proc)
	}

	if tr.If("dump_procs") {
		b, err := mono.Format(ctx, nil, h.in, ids, res)
		if err != nil {
			tr.Printw("format procs", "err", err)
		} else {
			tr.Printw("generated procs", "procs", string(b), "emitted", h.emitted)
		}
	}

	tr.Printw("generated", "procs", len(res), "emitted", h.emitted.Size(), "registered", len(h.procs))

	return res
}

func (g gen) refcountProc(p *helperProc) *mono.Proc {
	if !g.LayoutIsSupported(p.layout) {
		panic(errors.New("refcount helper for unsupported layout %v %v registered at %v", p.op, g.in.String(p.layout), p.from))
	}

	var body mono.Stmt

	switch x := g.in.Get(p.layout).(type) {
	case layout.Str:
		body = g.modifyStr(p.op)
	case layout.Struct:
		body = g.modifyStruct(p.op, x.Fields)
	default:
		panic(x)
	}

	return &mono.Proc{
		Name:      p.name,
		Args:      g.rcArgs(p.op, p.layout),
		Body:      body,
		RetLayout: layout.UNIT,
	}
}

func (g gen) rcArgs(op Op, l InLayout) []mono.Arg {
	value := mono.Arg{Layout: l, Symbol: mono.ARG_1}

	switch op {
	case OpInc:
		return []mono.Arg{value, {Layout: g.isize, Symbol: mono.ARG_2}}
	case OpDec:
		return []mono.Arg{value}
	default:
		panic(op)
	}
}

// modifyStr skips small strings, they have no heap allocation.
// len is treated as isize so the small string flag is the sign bit.
func (g gen) modifyStr(op Op) mono.Stmt {
	str := mono.ARG_1
	fields := []InLayout{layout.OPAQUE_PTR, g.isize}

	heap := func() mono.Stmt {
		return g.let("elements", layout.OPAQUE_PTR, mono.StructAtIndex{Index: 0, FieldLayouts: fields, Structure: str}, func(elements Symbol) mono.Stmt {
			return g.lowlevel("rc_ptr", layout.OPAQUE_PTR, mono.RefCountGetPtr, []Symbol{elements}, func(rc Symbol) mono.Stmt {
				return g.lit("alignment", layout.U32, int64(g.target.PtrWidth), func(align Symbol) mono.Stmt {
					var call mono.Expr

					switch op {
					case OpInc:
						call = mono.LowLevelExpr(mono.RefCountInc, rc, mono.ARG_2)
					case OpDec:
						call = mono.LowLevelExpr(mono.RefCountDec, rc, align)
					default:
						panic(op)
					}

					return g.let("rt_call_result", layout.UNIT, call, ret)
				})
			})
		})
	}

	return g.let("len", g.isize, mono.StructAtIndex{Index: 1, FieldLayouts: fields, Structure: str}, func(l Symbol) mono.Stmt {
		return g.lit("zero", g.isize, 0, func(zero Symbol) mono.Stmt {
			return g.lowlevel("is_big_str", layout.BOOL, mono.NumGte, []Symbol{l, zero}, func(big Symbol) mono.Stmt {
				return g.boolSwitch(big, layout.UNIT, heap(), g.returnUnit())
			})
		})
	})
}

// modifyStruct calls field helpers for the fields having refcounted content.
func (g gen) modifyStruct(op Op, fields []InLayout) mono.Stmt {
	var field func(i int) mono.Stmt

	field = func(i int) mono.Stmt {
		for i < len(fields) && !g.in.ContainsRefcounted(fields[i]) {
			i++
		}

		if i == len(fields) {
			return g.returnUnit()
		}

		fl := fields[i]

		return g.let("field", fl, mono.StructAtIndex{Index: i, FieldLayouts: fields, Structure: mono.ARG_1}, func(f Symbol) mono.Stmt {
			name, _ := g.Request(g.ids, fl, op)
			sig := g.procLayout(fl, op)

			args := []Symbol{f}
			if op == OpInc {
				args = append(args, mono.ARG_2)
			}

			return g.callByName("call_result_empty", name, sig, args, func(Symbol) mono.Stmt {
				return field(i + 1)
			})
		})
	}

	return field(0)
}

func ret(s Symbol) mono.Stmt {
	return mono.Ret{Symbol: s}
}
