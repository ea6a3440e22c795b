package help

import (
	"github.com/slowlang/helpgen/compiler/layout"
	"github.com/slowlang/helpgen/compiler/mono"
)

type (
	gen struct {
		*CodeGenHelp

		ids *mono.IdentIDs
	}

	next func(s Symbol) mono.Stmt
)

func (h *CodeGenHelp) gen(ids *mono.IdentIDs) gen {
	return gen{CodeGenHelp: h, ids: ids}
}

func (g gen) sym(name string) Symbol {
	return mono.NewSymbol(g.home, g.ids.Add(name))
}

func (g gen) let(name string, l InLayout, e mono.Expr, k next) mono.Stmt {
	s := g.sym(name)

	return mono.Let{Symbol: s, Expr: e, Layout: l, Next: k(s)}
}

func (g gen) lit(name string, l InLayout, x int64, k next) mono.Stmt {
	return g.let(name, l, mono.Literal{Int: x}, k)
}

func (g gen) lowlevel(name string, l InLayout, op mono.LowLevel, args []Symbol, k next) mono.Stmt {
	return g.let(name, l, mono.LowLevelExpr(op, args...), k)
}

func (g gen) add(name string, a, b Symbol, k next) mono.Stmt {
	return g.lowlevel(name, g.isize, mono.NumAdd, []Symbol{a, b}, k)
}

// addConst is a + c as isize. Adding zero is free.
func (g gen) addConst(name string, a Symbol, c int, k next) mono.Stmt {
	if c == 0 {
		return k(a)
	}

	return g.lit(name+"_width", g.isize, int64(c), func(w Symbol) mono.Stmt {
		return g.add(name, a, w, k)
	})
}

func (g gen) store(buf, off, val Symbol, k func() mono.Stmt) mono.Stmt {
	return g.lowlevel("store", layout.UNIT, mono.PtrStore, []Symbol{buf, off, val}, func(Symbol) mono.Stmt {
		return k()
	})
}

func (g gen) callByName(name string, proc Symbol, sig mono.ProcLayout, args []Symbol, k next) mono.Stmt {
	e := mono.Call{
		Type: mono.ByName{
			Name:       proc,
			RetLayout:  sig.Result,
			ArgLayouts: sig.Arguments,
		},
		Args: args,
	}

	return g.let(name, sig.Result, e, k)
}

func (g gen) returnUnit() mono.Stmt {
	return g.let("unit", layout.UNIT, mono.Struct{}, func(s Symbol) mono.Stmt {
		return mono.Ret{Symbol: s}
	})
}

// boolSwitch branches on cond: then if it's true, els otherwise.
func (g gen) boolSwitch(cond Symbol, ret InLayout, then, els mono.Stmt) mono.Stmt {
	return mono.Switch{
		Cond:       cond,
		CondLayout: layout.BOOL,
		Branches:   []mono.Branch{{Value: 1, Body: then}},
		Default:    els,
		RetLayout:  ret,
	}
}

// join defines a join point with one isize parameter.
// body is the continuation, rest is what jumps to it.
func (g gen) join(name string, body next, rest func(jp mono.JoinPointID) mono.Stmt) mono.Stmt {
	jp := mono.JoinPointID(g.sym(name))
	p := g.sym(name + "_extra")

	return mono.Join{
		ID:        jp,
		Params:    []mono.Param{{Symbol: p, Layout: g.isize}},
		Body:      body(p),
		Remainder: rest(jp),
	}
}

func jump(jp mono.JoinPointID, args ...Symbol) mono.Stmt {
	return mono.Jump{ID: jp, Args: args}
}
