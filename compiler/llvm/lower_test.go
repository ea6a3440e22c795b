package llvm

import (
	"context"
	"testing"

	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/helpgen/compiler/help"
	"github.com/slowlang/helpgen/compiler/layout"
	"github.com/slowlang/helpgen/compiler/mono"
)

const home mono.ModuleID = 2

func parse(t *testing.T, in *layout.Interner, text string) layout.InLayout {
	t.Helper()

	l, err := layout.Parse(in, text)
	require.NoError(t, err)

	return l
}

func TestLowerRefcountHelpers(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		target layout.Target
		isize  string
	}{
		{layout.X86_64, "i64"},
		{layout.Wasm32, "i32"},
	} {
		in := layout.NewInterner(tc.target)
		ids := mono.NewIdentIDs()
		h := help.New(home, in)

		h.Request(ids, layout.STR, help.OpDec)
		h.Request(ids, parse(t, in, "{Str, I64, Str}"), help.OpInc)

		procs := h.GenerateProcs(ctx, ids)

		m, err := Lower(ctx, in, ids, procs)
		require.NoError(t, err)

		text := m.String()

		for _, s := range []string{
			"#rcDec_str_0",
			"#rcInc_struct_1",
			"#rcInc_str_2",
			"@" + RefCountIncName,
			"@" + RefCountDecName,
			"icmp sge " + tc.isize,
			"getelementptr i8, i8* ",
		} {
			assert.Contains(t, text, s, "%v", tc.target)
		}

		assert.Len(t, m.Funcs, len(procs)+5, "helpers and runtime declarations")
	}
}

func TestLowerDecRef(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		target layout.Target
		isize  string
	}{
		{layout.X86_64, "i64"},
		{layout.Wasm32, "i32"},
	} {
		in := layout.NewInterner(tc.target)
		ids := mono.NewIdentIDs()
		h := help.New(home, in)

		sym := func(name string) mono.Symbol { return mono.NewSymbol(home, ids.Add(name)) }

		ls := []layout.InLayout{
			layout.STR,
			parse(t, in, "List(Str)"),
			parse(t, in, "Box(I64)"),
			parse(t, in, "rec[(I64) | (I64, *)]"),
			parse(t, in, "rec[(I64, *) | (Str) | ()]"),
			parse(t, in, "rec[(I64, *) | ()]"),
		}

		unit := sym("unit")

		var body mono.Stmt = mono.Let{
			Symbol: unit,
			Expr:   mono.Struct{},
			Layout: layout.UNIT,
			Next:   mono.Ret{Symbol: unit},
		}

		p := mono.Proc{
			Name:      sym("#drop"),
			RetLayout: layout.UNIT,
		}

		for _, l := range ls {
			a := sym("x")

			p.Args = append(p.Args, mono.Arg{Layout: l, Symbol: a})
			body = mono.Refcounting{Modify: mono.DecRef{Structure: a}, Next: body}
		}

		p.Body = body

		xp, procs, err := h.ExpandProc(ids, &p)
		require.NoError(t, err)
		assert.Empty(t, procs, "no helpers")
		assert.Empty(t, h.Leaks())

		m, err := Lower(ctx, in, ids, []mono.Proc{xp})
		require.NoError(t, err)

		text := m.String()

		for _, s := range []string{
			"@" + RefCountDecName,
			"icmp sge " + tc.isize,
			"icmp eq i8* ",
			"ptrtoint i8* ",
			"and " + tc.isize,
			"inttoptr " + tc.isize,
			"getelementptr i8, i8* ",
		} {
			assert.Contains(t, text, s, "%v", tc.target)
		}
	}
}

func TestLowerExpect(t *testing.T) {
	ctx := context.Background()
	in := layout.NewInterner(layout.X86_64)
	ids := mono.NewIdentIDs()
	h := help.New(home, in)

	sym := func(name string) mono.Symbol { return mono.NewSymbol(home, ids.Add(name)) }

	cond := sym("cond")
	unit := sym("unit")

	ls := []layout.InLayout{
		layout.STR,
		parse(t, in, "List(I64)"),
		parse(t, in, "List(Str)"),
		parse(t, in, "[(I64) | (Str)]"),
		parse(t, in, "rec[(I64) | (I64, *)]"),
		parse(t, in, "rec[(I64, *) | ()]"),
		parse(t, in, "Box(F64)"),
	}

	p := mono.Proc{
		Name:      sym("#expect"),
		Args:      []mono.Arg{{Layout: layout.BOOL, Symbol: cond}},
		RetLayout: layout.UNIT,
	}

	x := mono.Expect{
		Condition: cond,
		Region:    mono.Region{Start: 1, End: 2},
		Next: mono.Let{
			Symbol: unit,
			Expr:   mono.Struct{},
			Layout: layout.UNIT,
			Next:   mono.Ret{Symbol: unit},
		},
	}

	for i, l := range ls {
		a := sym("lookup")

		p.Args = append(p.Args, mono.Arg{Layout: l, Symbol: a})
		x.Lookups = append(x.Lookups, a)
		x.LookupLayouts = append(x.LookupLayouts, l)
		x.LookupVars = append(x.LookupVars, uint32(i))
	}

	p.Body = x

	xp, _, err := h.ExpandProc(ids, &p)
	require.NoError(t, err)

	procs := append([]mono.Proc{xp}, h.GenerateProcs(ctx, ids)...)

	m, err := Lower(ctx, in, ids, procs)
	require.NoError(t, err)

	text := m.String()

	for _, s := range []string{
		"store atomic i64",
		"release",
		"@llvm.memcpy.p0i8.p0i8.i64",
		"@" + ExpectStartSharedBufferName,
		"@" + ExpectNotifyParentName,
		"#clone_union_",
		"ptrtoint i8*",
		"icmp eq i8*",
	} {
		assert.Contains(t, text, s)
	}
}

func TestLowerErrors(t *testing.T) {
	ctx := context.Background()
	in := layout.NewInterner(layout.X86_64)
	ids := mono.NewIdentIDs()

	x := mono.NewSymbol(home, ids.Add("x"))
	y := mono.NewSymbol(home, ids.Add("y"))
	name := mono.NewSymbol(home, ids.Add("#p"))
	other := mono.NewSymbol(home, ids.Add("#other"))

	proc := func(body mono.Stmt) mono.Proc {
		return mono.Proc{
			Name:      name,
			Args:      []mono.Arg{{Layout: layout.STR, Symbol: x}},
			RetLayout: layout.STR,
			Body:      body,
		}
	}

	for _, tc := range []struct {
		what  string
		procs []mono.Proc
	}{
		{"refcounting", []mono.Proc{proc(mono.Refcounting{Modify: mono.Dec{Structure: x}, Next: mono.Ret{Symbol: x}})}},
		{"undefined symbol", []mono.Proc{proc(mono.Ret{Symbol: y})}},
		{"duplicated proc", []mono.Proc{proc(mono.Ret{Symbol: x}), proc(mono.Ret{Symbol: x})}},
		{"unknown join point", []mono.Proc{proc(mono.Jump{ID: mono.JoinPointID(y)})}},
		{"unknown proc", []mono.Proc{proc(mono.Let{
			Symbol: y,
			Layout: layout.STR,
			Expr:   mono.Call{Type: mono.ByName{Name: other, RetLayout: layout.STR}, Args: []mono.Symbol{x}},
			Next:   mono.Ret{Symbol: y},
		})}},
	} {
		_, err := Lower(ctx, in, ids, tc.procs)
		assert.Error(t, err, tc.what)
	}

	m, err := Lower(ctx, in, ids, []mono.Proc{proc(mono.Ret{Symbol: x})})
	require.NoError(t, err)
	assert.Contains(t, m.String(), "ret { i8*, i64 } %arg1")
}

func TestTypes(t *testing.T) {
	in := layout.NewInterner(layout.X86_64)
	tp := newTyper(in)

	for _, tc := range []struct {
		layout string
		exp    types.Type
	}{
		{"I64", types.I64},
		{"U8", types.I8},
		{"Bool", types.I1},
		{"F32", types.Float},
		{"Dec", types.I128},
		{"Str", types.NewStruct(types.I8Ptr, types.I64)},
		{"List(Str)", types.NewStruct(types.I8Ptr, types.I64, types.I64)},
		{"{U8, Str}", types.NewStruct(types.I8, types.NewStruct(types.I8Ptr, types.I64))},
		{"{}", types.NewStruct()},
		{"Box(I64)", types.I8Ptr},
		{"Fn(I32)", types.I32},
		{"[(I64) | (U8)]", types.NewStruct(types.NewArray(1, types.I64), types.I8)},
		{"[(U16, U16, U16)]", types.NewStruct(types.NewArray(3, types.I16), types.I8)},
		{"[]", types.NewStruct()},
		{"rec[(I64, *) | ()]", types.I8Ptr},
	} {
		got := tp.Type(parse(t, in, tc.layout))

		assert.True(t, tc.exp.Equal(got), "%v: %v != %v", tc.layout, got, tc.exp)
	}
}
