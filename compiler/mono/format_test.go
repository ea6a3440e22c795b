package mono

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/helpgen/compiler/layout"
)

func TestFormatProc(t *testing.T) {
	in := layout.NewInterner(layout.X86_64)
	ids := NewIdentIDs()

	sym := func(name string) Symbol { return NewSymbol(1, ids.Add(name)) }

	x := sym("x")
	main := sym("#main")
	y := sym("y")

	p := Proc{
		Name:      main,
		Args:      []Arg{{Layout: layout.I64, Symbol: x}},
		RetLayout: layout.I64,
		Body: Let{
			Symbol: y,
			Expr:   LowLevelExpr(NumAdd, x, x),
			Layout: layout.I64,
			Next: Refcounting{
				Modify: Dec{Structure: x},
				Next:   Ret{Symbol: y},
			},
		},
	}

	b, err := Format(context.Background(), nil, in, ids, p)
	require.NoError(t, err)

	assert.Equal(t, `proc #main(x.1: I64) -> I64 {
	let y.3: I64 = lowlevel NumAdd (x.1, x.1);
	dec x.1;
	ret y.3;
}
`, string(b))
}

func TestFormatStmt(t *testing.T) {
	in := layout.NewInterner(layout.X86_64)
	ids := NewIdentIDs()

	sym := func(name string) Symbol { return NewSymbol(1, ids.Add(name)) }

	done := JoinPointID(sym("done"))
	p := sym("p")
	c := sym("c")

	s := Join{
		ID:     done,
		Params: []Param{{Symbol: p, Layout: layout.I64}},
		Body:   Ret{Symbol: p},
		Remainder: Switch{
			Cond:       c,
			CondLayout: layout.BOOL,
			Branches:   []Branch{{Value: 1, Body: Jump{ID: done, Args: []Symbol{ARG_1}}}},
			Default:    Unreachable{},
			RetLayout:  layout.I64,
		},
	}

	b, err := Format(context.Background(), nil, in, ids, s)
	require.NoError(t, err)

	assert.Equal(t, `joinpoint done.1(p.2: I64) {
	ret p.2;
} in
switch c.3: Bool {
	case 1:
		jump done.1 (#arg1);
	default:
		unreachable;
}
`, string(b))
}

func TestFormatErrors(t *testing.T) {
	in := layout.NewInterner(layout.X86_64)

	_, err := Format(context.Background(), nil, in, nil, 5)
	assert.Error(t, err)

	_, err = Format(context.Background(), nil, in, nil, Let{Symbol: ARG_1, Expr: Literal{Int: 1}, Layout: layout.I64})
	assert.Error(t, err, "nil next stmt")
}

func TestSymbolName(t *testing.T) {
	ids := NewIdentIDs()

	a := NewSymbol(2, ids.Add("a"))
	h := NewSymbol(2, ids.Add("#helper"))

	assert.Equal(t, "a.1", ids.SymbolName(a))
	assert.Equal(t, "#helper", ids.SymbolName(h))
	assert.Equal(t, "#arg2", ids.SymbolName(ARG_2))
	assert.Equal(t, "2.7", ids.SymbolName(NewSymbol(2, 7)))

	var none *IdentIDs
	assert.Equal(t, "2.1", none.SymbolName(a))

	assert.Equal(t, ModuleID(2), a.Module())
	assert.Equal(t, IdentID(1), a.Ident())
	assert.Equal(t, 2, ids.Len())
}

func TestLowLevel(t *testing.T) {
	for op := RefCountGetPtr; op <= ExpectNotifyParent; op++ {
		assert.NotEqual(t, "LowLevel(?)", op.String())
		assert.NotPanics(t, func() { op.Arity() }, "%v", op)
	}

	assert.Equal(t, 4, Memcpy.Arity())
	assert.Equal(t, 0, ExpectStartSharedBuffer.Arity())
	assert.Equal(t, "LowLevel(?)", LowLevel(0).String())

	x := ProcLayout{Arguments: []InLayout{layout.STR, layout.I64}, Result: layout.UNIT}

	assert.True(t, x.Equal(ProcLayout{Arguments: []InLayout{layout.STR, layout.I64}, Result: layout.UNIT}))
	assert.False(t, x.Equal(ProcLayout{Arguments: []InLayout{layout.STR}, Result: layout.UNIT}))
	assert.False(t, x.Equal(ProcLayout{Arguments: []InLayout{layout.STR, layout.I64}, Result: layout.I64}))
}
