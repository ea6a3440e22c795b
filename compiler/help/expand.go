package help

import (
	"tlog.app/go/errors"

	"github.com/slowlang/helpgen/compiler/layout"
	"github.com/slowlang/helpgen/compiler/mono"
)

// Scope maps symbols to their layouts.
type Scope map[Symbol]InLayout

// ExpandRefcountStmt replaces a Refcounting node on a value of layout l.
// Inc and Dec become calls to helpers to be generated by GenerateProcs.
// DecRef is expanded inline.
// If the helper is referenced for the first time, its signature is returned.
func (h *CodeGenHelp) ExpandRefcountStmt(ids *mono.IdentIDs, l InLayout, modify mono.ModifyRc, following mono.Stmt) (mono.Stmt, *NewProc) {
	g := h.gen(ids)

	switch m := modify.(type) {
	case mono.Inc:
		if !h.refcountable(l, OpInc, m.Structure) {
			return following, nil
		}

		name, isNew := h.Request(ids, l, OpInc)
		sig := h.procLayout(l, OpInc)

		st := g.lit("amount", h.isize, m.Amount, func(amount Symbol) mono.Stmt {
			return g.callByName("call_result_empty", name, sig, []Symbol{m.Structure, amount}, func(Symbol) mono.Stmt {
				return following
			})
		})

		return st, newProc(isNew, name, sig)
	case mono.Dec:
		if !h.refcountable(l, OpDec, m.Structure) {
			return following, nil
		}

		name, isNew := h.Request(ids, l, OpDec)
		sig := h.procLayout(l, OpDec)

		st := g.callByName("call_result_empty", name, sig, []Symbol{m.Structure}, func(Symbol) mono.Stmt {
			return following
		})

		return st, newProc(isNew, name, sig)
	case mono.DecRef:
		if !h.in.ContainsRefcounted(l) {
			return following, nil
		}

		if !h.decRefIsSupported(l) {
			h.leak(l, OpDecRef, m.Structure)
			return following, nil
		}

		return g.decRef(m.Structure, l, func() mono.Stmt { return following }), nil
	default:
		panic(m)
	}
}

func (h *CodeGenHelp) refcountable(l InLayout, op Op, s Symbol) bool {
	if !h.in.ContainsRefcounted(l) {
		return false
	}

	if !h.LayoutIsSupported(l) {
		h.leak(l, op, s)
		return false
	}

	return true
}

// decRefIsSupported reports l is a single heap payload behind a pointer.
func (h *CodeGenHelp) decRefIsSupported(l InLayout) bool {
	switch h.in.Get(l).(type) {
	case layout.Str, layout.List, layout.Boxed:
		return true
	}

	u, _, ok := h.in.UnionOf(l)

	return ok && layout.IsPointer(u)
}

// decRef drops one reference on the payload of value.
// Small strings, empty lists and null pointers have no payload.
func (g gen) decRef(value Symbol, l InLayout, k func() mono.Stmt) mono.Stmt {
	done := mono.JoinPointID(g.sym("decref_done"))

	cont := func(st mono.Stmt) mono.Stmt {
		return mono.Join{ID: done, Body: k(), Remainder: st}
	}

	dec := func(ptr Symbol) mono.Stmt {
		return g.lowlevel("rc_ptr", layout.OPAQUE_PTR, mono.RefCountGetPtr, []Symbol{ptr}, func(rc Symbol) mono.Stmt {
			return g.lit("alignment", layout.U32, int64(g.target.PtrWidth), func(align Symbol) mono.Stmt {
				return g.lowlevel("call_result_empty", layout.UNIT, mono.RefCountDec, []Symbol{rc, align}, func(Symbol) mono.Stmt {
					return jump(done)
				})
			})
		})
	}

	nonNull := func(ptr Symbol, st func(ptr Symbol) mono.Stmt) mono.Stmt {
		return g.lowlevel("is_null", layout.BOOL, mono.IsNull, []Symbol{ptr}, func(isNull Symbol) mono.Stmt {
			return g.boolSwitch(isNull, layout.UNIT, jump(done), st(ptr))
		})
	}

	switch x := g.in.Get(l).(type) {
	case layout.Boxed:
		return cont(dec(value))
	case layout.Str:
		fields := []InLayout{layout.OPAQUE_PTR, g.isize}

		return cont(g.let("elements", layout.OPAQUE_PTR, mono.StructAtIndex{Index: 0, FieldLayouts: fields, Structure: value}, func(elements Symbol) mono.Stmt {
			return g.let("len", g.isize, mono.StructAtIndex{Index: 1, FieldLayouts: fields, Structure: value}, func(n Symbol) mono.Stmt {
				return g.lit("zero", g.isize, 0, func(zero Symbol) mono.Stmt {
					return g.lowlevel("is_big_str", layout.BOOL, mono.NumGte, []Symbol{n, zero}, func(big Symbol) mono.Stmt {
						return g.boolSwitch(big, layout.UNIT, dec(elements), jump(done))
					})
				})
			})
		}))
	case layout.List:
		fields := []InLayout{layout.OPAQUE_PTR, g.isize, g.isize}

		return cont(g.let("elements", layout.OPAQUE_PTR, mono.StructAtIndex{Index: 0, FieldLayouts: fields, Structure: value}, func(elements Symbol) mono.Stmt {
			return nonNull(elements, dec)
		}))
	default:
		u, _, ok := g.in.UnionOf(l)
		if !ok || !layout.IsPointer(u) {
			panic(x)
		}

		payload := dec

		if layout.StoresTagIDInPointer(u, g.target) {
			payload = func(ptr Symbol) mono.Stmt {
				return g.clearTagID(ptr, dec)
			}
		}

		if !layout.HasNullSentinel(u) {
			return cont(payload(value))
		}

		return cont(nonNull(value, payload))
	}
}

// clearTagID masks out the tag id stored in the low bits of a pointer.
func (g gen) clearTagID(ptr Symbol, k next) mono.Stmt {
	return g.lowlevel("tagged", g.isize, mono.NumIntCast, []Symbol{ptr}, func(tagged Symbol) mono.Stmt {
		return g.lit("ptr_mask", g.isize, ^int64(g.target.TagMask()), func(mask Symbol) mono.Stmt {
			return g.lowlevel("addr", g.isize, mono.NumBitAnd, []Symbol{tagged, mask}, func(addr Symbol) mono.Stmt {
				return g.lowlevel("untagged", layout.OPAQUE_PTR, mono.NumIntCast, []Symbol{addr}, k)
			})
		})
	})
}

func newProc(isNew bool, name Symbol, sig mono.ProcLayout) *NewProc {
	if !isNew {
		return nil
	}

	return &NewProc{Name: name, Layout: sig}
}

// ExpandProc returns p with all Refcounting and Expect nodes expanded.
func (h *CodeGenHelp) ExpandProc(ids *mono.IdentIDs, p *mono.Proc) (_ mono.Proc, procs []NewProc, err error) {
	sc := make(Scope, len(p.Args))

	for _, a := range p.Args {
		sc[a.Symbol] = a.Layout
	}

	body, procs, err := h.ExpandStmt(ids, p.Body, sc)
	if err != nil {
		return mono.Proc{}, nil, errors.Wrap(err, "proc %v", p.Name)
	}

	r := *p
	r.Body = body

	return r, procs, nil
}

// ExpandStmt rewrites every Refcounting and Expect node in s.
// Layouts of refcounted symbols are taken from sc,
// which is extended by the bindings found on the way.
func (h *CodeGenHelp) ExpandStmt(ids *mono.IdentIDs, s mono.Stmt, sc Scope) (_ mono.Stmt, procs []NewProc, err error) {
	w := &walker{h: h, ids: ids, sc: sc}

	s, err = w.stmt(s)
	if err != nil {
		return nil, nil, err
	}

	return s, w.procs, nil
}

type walker struct {
	h   *CodeGenHelp
	ids *mono.IdentIDs
	sc  Scope

	procs []NewProc
}

func (w *walker) stmt(s mono.Stmt) (_ mono.Stmt, err error) {
	switch x := s.(type) {
	case mono.Let:
		w.sc[x.Symbol] = x.Layout

		x.Next, err = w.stmt(x.Next)
		if err != nil {
			return nil, err
		}

		return x, nil
	case mono.Switch:
		br := make([]mono.Branch, len(x.Branches))

		for i, b := range x.Branches {
			br[i].Value = b.Value

			br[i].Body, err = w.stmt(b.Body)
			if err != nil {
				return nil, errors.Wrap(err, "branch %d", b.Value)
			}
		}

		x.Branches = br

		x.Default, err = w.stmt(x.Default)
		if err != nil {
			return nil, errors.Wrap(err, "default branch")
		}

		return x, nil
	case mono.Join:
		for _, p := range x.Params {
			w.sc[p.Symbol] = p.Layout
		}

		x.Body, err = w.stmt(x.Body)
		if err != nil {
			return nil, errors.Wrap(err, "join %v", x.ID)
		}

		x.Remainder, err = w.stmt(x.Remainder)
		if err != nil {
			return nil, err
		}

		return x, nil
	case mono.Refcounting:
		sym := x.Modify.(interface{ Symbol() Symbol }).Symbol()

		l, ok := w.sc[sym]
		if !ok {
			return nil, errors.New("refcounting: unknown symbol %v", sym)
		}

		// helpers are registered in source order
		w.register(l, x.Modify)

		next, err := w.stmt(x.Next)
		if err != nil {
			return nil, err
		}

		st, _ := w.h.ExpandRefcountStmt(w.ids, l, x.Modify, next)

		return st, nil
	case mono.Expect:
		if len(x.Lookups) != len(x.LookupLayouts) || len(x.Lookups) != len(x.LookupVars) {
			return nil, errors.New("expect: %d lookups, %d layouts, %d vars", len(x.Lookups), len(x.LookupLayouts), len(x.LookupVars))
		}

		st, np := w.h.expandExpect(w.ids, x)
		w.procs = append(w.procs, np...)

		st.Body, err = w.stmt(x.Next)
		if err != nil {
			return nil, err
		}

		return st, nil
	case mono.Ret, mono.Jump, mono.Unreachable:
		return s, nil
	default:
		return nil, errors.New("unsupported stmt: %T", s)
	}
}

func (w *walker) register(l InLayout, m mono.ModifyRc) {
	var op Op

	switch m.(type) {
	case mono.Inc:
		op = OpInc
	case mono.Dec:
		op = OpDec
	default:
		return
	}

	h := w.h

	if !h.in.ContainsRefcounted(l) || !h.LayoutIsSupported(l) {
		return
	}

	name, isNew := h.Request(w.ids, l, op)
	if isNew {
		w.procs = append(w.procs, NewProc{Name: name, Layout: h.procLayout(l, op)})
	}
}
