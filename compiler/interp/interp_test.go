package interp

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/helpgen/compiler/layout"
	"github.com/slowlang/helpgen/compiler/mono"
)

func sym(id int) mono.Symbol { return mono.NewSymbol(1, mono.IdentID(id)) }

func parse(t *testing.T, in *layout.Interner, text string) layout.InLayout {
	t.Helper()

	l, err := layout.Parse(in, text)
	require.NoError(t, err)

	return l
}

func TestMemoryAlloc(t *testing.T) {
	in := layout.NewInterner(layout.X86_64)
	m := NewMemory(in)

	a := m.Alloc(10, 1)
	assert.Zero(t, a%8)

	rc, err := m.Refcount(a)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rc)

	b := m.Alloc(32, 16)
	assert.Zero(t, b%16)
	assert.Greater(t, b, a+10)

	require.NoError(t, m.Store(a, layout.I64, uint64(5)))

	v, err := m.Load(a, layout.I64)
	require.NoError(t, err)
	assert.Equal(t, Value(uint64(5)), v)

	s := parse(t, in, "{I32, Str, U8}")

	require.NoError(t, m.Store(b, s, []Value{uint64(1), []Value{uint64(2), uint64(3)}, uint64(4)}))

	v, err = m.Load(b, s)
	require.NoError(t, err)
	assert.Equal(t, Value([]Value{uint64(1), []Value{uint64(2), uint64(3)}, uint64(4)}), v)

	_, err = m.Load(0, layout.I64)
	assert.Error(t, err)

	_, err = m.Bytes(uint64(m.Len()), 1)
	assert.Error(t, err)

	assert.Error(t, m.Store(a, layout.I64, []Value{}))
	assert.Error(t, m.Copy(a, uint64(m.Len()), 8))
}

func TestMemoryUnion(t *testing.T) {
	in := layout.NewInterner(layout.X86_64)
	m := NewMemory(in)

	l := parse(t, in, "[(I64) | (U8, U8)]")
	a := m.Alloc(16, 8)

	require.NoError(t, m.Store(a, l, TagValue{Tag: 1, Fields: []Value{uint64(2), uint64(3)}}))

	v, err := m.Load(a, l)
	require.NoError(t, err)
	assert.Equal(t, Value(TagValue{Tag: 1, Fields: []Value{uint64(2), uint64(3)}}), v)

	id, err := m.TagID(l, v)
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	assert.Error(t, m.Store(a, l, TagValue{Tag: 2}))
}

func TestStr(t *testing.T) {
	for _, target := range []layout.Target{layout.X86_64, layout.Wasm32} {
		m := NewMemory(layout.NewInterner(target))
		p := target.PtrWidth

		for _, s := range []string{"", "abc", strings.Repeat("x", 2*p-1), strings.Repeat("y", 2*p), "this one goes to the heap for sure"} {
			v := m.NewStr(s)

			b, err := m.StrBytes(v)
			require.NoError(t, err)
			assert.Equal(t, s, string(b), "%v %q", target, s)

			ws := v.([]Value)
			small := len(s) < 2*p

			assert.Equal(t, small, signExtend(ws[1].(uint64), p) < 0, "%v %q", target, s)

			if !small {
				rc, err := m.Refcount(ws[0].(uint64))
				require.NoError(t, err)
				assert.Equal(t, int64(1), rc)
			}
		}

		_, err := m.StrBytes(uint64(1))
		assert.Error(t, err)
	}
}

func TestHost(t *testing.T) {
	in := layout.NewInterner(layout.X86_64)
	m := NewMemory(in)
	h := &Host{}

	a := m.Alloc(8, 8)
	rc := a - 8

	require.NoError(t, h.RefCountInc(m, rc, 2))
	require.NoError(t, h.RefCountDec(m, rc, 8))
	require.NoError(t, h.RefCountDec(m, rc, 8))
	assert.Equal(t, int64(0), h.Frees.Load())

	require.NoError(t, h.RefCountDec(m, rc, 8))
	assert.Equal(t, int64(1), h.Frees.Load())

	x, err := m.Refcount(a)
	require.NoError(t, err)
	assert.Equal(t, int64(Freed), x)

	assert.Error(t, h.RefCountDec(m, rc, 8), "use after free")
	assert.Error(t, h.RefCountDec(m, rc, 3), "bad alignment")

	assert.Equal(t, int64(1), h.Incs.Load())
	assert.Equal(t, int64(5), h.Decs.Load())

	_, err = h.ExpectStartSharedBuffer(m)
	assert.Error(t, err)

	h.Buffer = m.AllocBytes(make([]byte, 32))

	buf, err := h.ExpectStartSharedBuffer(m)
	require.NoError(t, err)
	assert.Equal(t, h.Buffer, buf)

	assert.NoError(t, h.ExpectNotifyParent(m, buf))
	assert.Error(t, h.ExpectNotifyParent(m, buf+8))
	assert.Equal(t, int64(2), h.Notifies.Load())
}

func TestHostConcurrentInc(t *testing.T) {
	m := NewMemory(layout.NewInterner(layout.X86_64))
	h := &Host{}

	a := m.Alloc(8, 8)

	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			assert.NoError(t, h.RefCountInc(m, a-8, 1))
		}()
	}

	wg.Wait()

	rc, err := m.Refcount(a)
	require.NoError(t, err)
	assert.Equal(t, int64(51), rc)
}

func TestTagged(t *testing.T) {
	in := layout.NewInterner(layout.X86_64)
	m := NewMemory(in)

	tree := parse(t, in, "rec[(I64) | (I64, *)]")

	leaf, err := m.NewTagged(tree, 0, uint64(3))
	require.NoError(t, err)

	node, err := m.NewTagged(tree, 1, uint64(4), leaf)
	require.NoError(t, err)

	ptr := node.(uint64)
	assert.Equal(t, uint64(1), ptr&7, "tag id in pointer")
	assert.Equal(t, ptr&^7, m.Payload(tree, ptr))

	id, err := m.TagID(tree, node)
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	f, err := m.VariantField(tree, node, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, leaf, f)

	f, err = m.VariantField(tree, f, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, Value(uint64(3)), f)

	_, err = m.VariantField(tree, node, 1, 2)
	assert.Error(t, err)

	wide := parse(t, in, "rec[(I64) | (I64) | (I64) | (I64) | (I64) | (I64) | (I64) | (I64, *)]")

	v, err := m.NewTagged(wide, 5, uint64(7))
	require.NoError(t, err)

	id, err = m.TagID(wide, v)
	require.NoError(t, err)
	assert.Equal(t, 5, id)

	f, err = m.VariantField(wide, v, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, Value(uint64(7)), f)

	list := parse(t, in, "rec[(I64, *) | ()]")

	null, err := m.NewTagged(list, 1)
	require.NoError(t, err)
	assert.Equal(t, Value(uint64(0)), null)

	id, err = m.TagID(list, null)
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	_, err = m.NewTagged(list, 1, uint64(1))
	assert.Error(t, err)

	_, err = m.NewTagged(list, 2)
	assert.Error(t, err)

	_, err = m.NewTagged(layout.I64, 0)
	assert.Error(t, err)

	_, err = m.TagID(tree, uint64(0))
	assert.Error(t, err, "null of non-nullable union")
}

// sum(n) = 0 + 1 + ... + n-1
func sumProc() mono.Proc {
	n, zero, one := sym(1), sym(2), sym(3)
	i, acc := sym(4), sym(5)
	more, acc2, i2 := sym(6), sym(7), sym(8)
	loop := mono.JoinPointID(sym(9))

	body := mono.Let{
		Symbol: more, Layout: layout.BOOL, Expr: mono.LowLevelExpr(mono.NumLt, i, n),
		Next: mono.Switch{
			Cond:       more,
			CondLayout: layout.BOOL,
			Branches: []mono.Branch{{Value: 1, Body: mono.Let{
				Symbol: acc2, Layout: layout.I64, Expr: mono.LowLevelExpr(mono.NumAdd, acc, i),
				Next: mono.Let{
					Symbol: i2, Layout: layout.I64, Expr: mono.LowLevelExpr(mono.NumAdd, i, one),
					Next: mono.Jump{ID: loop, Args: []mono.Symbol{i2, acc2}},
				},
			}}},
			Default:   mono.Ret{Symbol: acc},
			RetLayout: layout.I64,
		},
	}

	return mono.Proc{
		Name:      sym(100),
		Args:      []mono.Arg{{Layout: layout.I64, Symbol: n}},
		RetLayout: layout.I64,
		Body: mono.Let{
			Symbol: zero, Layout: layout.I64, Expr: mono.Literal{Int: 0},
			Next: mono.Let{
				Symbol: one, Layout: layout.I64, Expr: mono.Literal{Int: 1},
				Next: mono.Join{
					ID:        loop,
					Params:    []mono.Param{{Symbol: i, Layout: layout.I64}, {Symbol: acc, Layout: layout.I64}},
					Body:      body,
					Remainder: mono.Jump{ID: loop, Args: []mono.Symbol{zero, zero}},
				},
			},
		},
	}
}

func TestRuntimeLoop(t *testing.T) {
	ctx := context.Background()
	in := layout.NewInterner(layout.X86_64)

	p := sumProc()
	rt := NewRuntime(NewMemory(in), &Host{}, p)

	v, err := rt.Call(ctx, p.Name, uint64(10))
	require.NoError(t, err)
	assert.Equal(t, Value(uint64(45)), v)

	rt.MaxSteps = 20

	_, err = rt.Call(ctx, p.Name, uint64(1000))
	assert.Error(t, err)

	_, err = rt.Call(ctx, p.Name)
	assert.Error(t, err, "args count")

	_, err = rt.Call(ctx, sym(101))
	assert.Error(t, err, "unknown proc")
}

func TestRuntimeStmtErrors(t *testing.T) {
	ctx := context.Background()
	in := layout.NewInterner(layout.X86_64)
	rt := NewRuntime(NewMemory(in), &Host{})

	for _, s := range []mono.Stmt{
		mono.Unreachable{},
		mono.Refcounting{Modify: mono.Dec{Structure: sym(1)}, Next: mono.Ret{Symbol: sym(1)}},
		mono.Expect{Condition: sym(1), Next: mono.Ret{Symbol: sym(1)}},
		mono.Ret{Symbol: sym(2)},
		mono.Jump{ID: mono.JoinPointID(sym(3))},
		mono.Let{Symbol: sym(4), Layout: layout.I64, Expr: mono.Literal{Int: 1}},
	} {
		_, err := rt.Run(ctx, s, map[mono.Symbol]Value{sym(1): uint64(0)}, map[mono.Symbol]layout.InLayout{sym(1): layout.BOOL})
		assert.Error(t, err, "%T", s)
	}
}

func TestRuntimeLowLevel(t *testing.T) {
	ctx := context.Background()
	in := layout.NewInterner(layout.X86_64)
	m := NewMemory(in)

	var trace []StoreOp

	rt := NewRuntime(m, &Host{})
	rt.Trace = &trace

	buf := m.Alloc(16, 8)

	b, minus, one, off, lt, sum, res, loaded := sym(1), sym(2), sym(3), sym(4), sym(5), sym(6), sym(7), sym(8)

	s := mono.Let{
		Symbol: minus, Layout: layout.I8, Expr: mono.Literal{Int: -1},
		Next: mono.Let{
			Symbol: one, Layout: layout.I8, Expr: mono.Literal{Int: 1},
			Next: mono.Let{
				Symbol: lt, Layout: layout.BOOL, Expr: mono.LowLevelExpr(mono.NumLt, minus, one),
				Next: mono.Let{
					Symbol: sum, Layout: layout.I8, Expr: mono.LowLevelExpr(mono.NumAdd, minus, minus),
					Next: mono.Let{
						Symbol: off, Layout: layout.I64, Expr: mono.Literal{Int: 8},
						Next: mono.Let{
							Symbol: res, Layout: layout.UNIT, Expr: mono.LowLevelExpr(mono.PtrStore, b, off, sum),
							Next: mono.Let{
								Symbol: loaded, Layout: layout.I8, Expr: mono.LowLevelExpr(mono.PtrLoad, b, off),
								Next: mono.Ret{Symbol: mono.Symbol(0)},
							},
						},
					},
				},
			},
		},
	}

	vals := map[mono.Symbol]Value{b: buf, mono.Symbol(0): Unit}
	layouts := map[mono.Symbol]layout.InLayout{b: layout.OPAQUE_PTR, mono.Symbol(0): layout.UNIT}

	_, err := rt.Run(ctx, s, vals, layouts)
	require.NoError(t, err)

	assert.Equal(t, []StoreOp{{Op: mono.PtrStore, Ptr: buf, Offset: 8, Size: 1}}, trace)

	v, err := m.Load(buf+8, layout.I8)
	require.NoError(t, err)
	assert.Equal(t, Value(uint64(0xfe)), v)

	assert.Equal(t, Value([2]uint64{^uint64(0), ^uint64(0)}), literal(in, layout.I128, -1))
	assert.Equal(t, Value(uint64(0xffff)), literal(in, layout.U16, -1))
}

func TestRuntimeBitAnd(t *testing.T) {
	ctx := context.Background()

	for _, target := range []layout.Target{layout.X86_64, layout.Wasm32} {
		in := layout.NewInterner(target)
		m := NewMemory(in)
		rt := NewRuntime(m, &Host{})

		ptr, word, mask, addr, res := sym(1), sym(2), sym(3), sym(4), sym(5)

		s := mono.Let{
			Symbol: word, Layout: in.Isize(), Expr: mono.LowLevelExpr(mono.NumIntCast, ptr),
			Next: mono.Let{
				Symbol: mask, Layout: in.Isize(), Expr: mono.Literal{Int: ^int64(target.TagMask())},
				Next: mono.Let{
					Symbol: addr, Layout: in.Isize(), Expr: mono.LowLevelExpr(mono.NumBitAnd, word, mask),
					Next: mono.Let{
						Symbol: res, Layout: layout.OPAQUE_PTR, Expr: mono.LowLevelExpr(mono.NumIntCast, addr),
						Next:   mono.Ret{Symbol: res},
					},
				},
			},
		}

		v, err := rt.Run(ctx, s, map[mono.Symbol]Value{ptr: uint64(0x12345 | 3)}, map[mono.Symbol]layout.InLayout{ptr: layout.OPAQUE_PTR})
		require.NoError(t, err)
		assert.Equal(t, Value(uint64(0x12344)&^uint64(target.TagMask())), v, "%v", target)
	}
}
