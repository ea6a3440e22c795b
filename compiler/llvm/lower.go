// Package llvm lowers mono procs to LLVM IR.
package llvm

import (
	"context"
	"strconv"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/helpgen/compiler/layout"
	"github.com/slowlang/helpgen/compiler/mono"
)

type (
	lowerer struct {
		in  *layout.Interner
		ids *mono.IdentIDs
		t   *typer

		m     *ir.Module
		funcs map[mono.Symbol]*ir.Func

		rcInc, rcDec *ir.Func
		startBuf     *ir.Func
		notifyParent *ir.Func
		memcpy       *ir.Func
	}

	fn struct {
		*lowerer

		f     *ir.Func
		entry *ir.Block

		vals    map[mono.Symbol]value.Value
		layouts map[mono.Symbol]layout.InLayout
		joins   map[mono.JoinPointID]*joinPoint

		blocks int
	}

	joinPoint struct {
		b      *ir.Block
		params []mono.Param
		slots  []*ir.InstAlloca
	}
)

// Runtime routines the lowered code links against.
const (
	RefCountIncName             = "rt.refcount_inc"
	RefCountDecName             = "rt.refcount_dec"
	ExpectStartSharedBufferName = "rt.expect_start_shared_buffer"
	ExpectNotifyParentName      = "rt.notify_parent_expect"
)

// Lower translates procs into a new module.
// Procs may call each other in any order.
func Lower(ctx context.Context, in *layout.Interner, ids *mono.IdentIDs, procs []mono.Proc) (m *ir.Module, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "llvm: lower", "procs", len(procs), "target", in.Target())
	defer tr.Finish("err", &err)

	l := &lowerer{
		in:    in,
		ids:   ids,
		t:     newTyper(in),
		m:     ir.NewModule(),
		funcs: make(map[mono.Symbol]*ir.Func, len(procs)),
	}

	l.declareRuntime()

	for i := range procs {
		p := &procs[i]

		if _, ok := l.funcs[p.Name]; ok {
			return nil, errors.New("duplicated proc: %v", ids.SymbolName(p.Name))
		}

		params := make([]*ir.Param, len(p.Args))

		for j, a := range p.Args {
			params[j] = ir.NewParam("arg"+strconv.Itoa(j+1), l.t.Type(a.Layout))
		}

		f := l.m.NewFunc(ids.SymbolName(p.Name), l.t.Type(p.RetLayout), params...)

		l.funcs[p.Name] = f
	}

	for i := range procs {
		p := &procs[i]

		err = l.proc(ctx, p)
		if err != nil {
			return nil, errors.Wrap(err, "proc %v", ids.SymbolName(p.Name))
		}
	}

	if tr.If("dump_llvm") {
		tr.Printw("module", "llvm", l.m.String())
	}

	return l.m, nil
}

func (l *lowerer) declareRuntime() {
	isize := l.t.isize

	l.rcInc = l.m.NewFunc(RefCountIncName, types.Void, ir.NewParam("rc", types.I8Ptr), ir.NewParam("amount", isize))
	l.rcDec = l.m.NewFunc(RefCountDecName, types.Void, ir.NewParam("rc", types.I8Ptr), ir.NewParam("alignment", types.I32))
	l.startBuf = l.m.NewFunc(ExpectStartSharedBufferName, types.I8Ptr)
	l.notifyParent = l.m.NewFunc(ExpectNotifyParentName, types.Void, ir.NewParam("buf", types.I8Ptr))

	name := "llvm.memcpy.p0i8.p0i8.i64"
	if isize.BitSize == 32 {
		name = "llvm.memcpy.p0i8.p0i8.i32"
	}

	l.memcpy = l.m.NewFunc(name, types.Void,
		ir.NewParam("dest", types.I8Ptr),
		ir.NewParam("src", types.I8Ptr),
		ir.NewParam("len", isize),
		ir.NewParam("isvolatile", types.I1),
	)

	for _, f := range []*ir.Func{l.rcInc, l.rcDec, l.startBuf, l.notifyParent, l.memcpy} {
		f.Linkage = enum.LinkageExternal
	}
}

func (l *lowerer) proc(ctx context.Context, p *mono.Proc) (err error) {
	f := &fn{
		lowerer: l,
		f:       l.funcs[p.Name],
		vals:    make(map[mono.Symbol]value.Value),
		layouts: make(map[mono.Symbol]layout.InLayout),
		joins:   make(map[mono.JoinPointID]*joinPoint),
	}

	f.entry = f.f.NewBlock("entry")
	start := f.f.NewBlock("start")

	for i, a := range p.Args {
		f.vals[a.Symbol] = f.f.Params[i]
		f.layouts[a.Symbol] = a.Layout
	}

	err = f.stmt(ctx, start, p.Body)
	if err != nil {
		return err
	}

	// allocas are appended to entry while lowering
	f.entry.NewBr(start)

	return nil
}

func (f *fn) stmt(ctx context.Context, b *ir.Block, s mono.Stmt) (err error) {
	for {
		switch x := s.(type) {
		case mono.Let:
			v, err := f.expr(b, x.Expr, x.Layout)
			if err != nil {
				return errors.Wrap(err, "let %v", f.ids.SymbolName(x.Symbol))
			}

			f.vals[x.Symbol] = v
			f.layouts[x.Symbol] = x.Layout

			s = x.Next
		case mono.Ret:
			v, err := f.get(x.Symbol)
			if err != nil {
				return err
			}

			b.NewRet(v)

			return nil
		case mono.Switch:
			return f.switchStmt(ctx, b, x)
		case mono.Join:
			jp := &joinPoint{
				b:      f.block("join_" + f.ids.SymbolName(mono.Symbol(x.ID))),
				params: x.Params,
			}

			for _, p := range x.Params {
				jp.slots = append(jp.slots, f.entry.NewAlloca(f.t.Type(p.Layout)))
			}

			f.joins[x.ID] = jp

			err = f.stmt(ctx, b, x.Remainder)
			if err != nil {
				return err
			}

			for i, p := range jp.params {
				f.vals[p.Symbol] = jp.b.NewLoad(f.t.Type(p.Layout), jp.slots[i])
				f.layouts[p.Symbol] = p.Layout
			}

			return f.stmt(ctx, jp.b, x.Body)
		case mono.Jump:
			jp, ok := f.joins[x.ID]
			if !ok {
				return errors.New("jump to unknown join point %v", x.ID)
			}

			if len(x.Args) != len(jp.params) {
				return errors.New("jump %v: %d args expected, got %d", x.ID, len(jp.params), len(x.Args))
			}

			for i, a := range x.Args {
				v, err := f.get(a)
				if err != nil {
					return err
				}

				b.NewStore(v, jp.slots[i])
			}

			b.NewBr(jp.b)

			return nil
		case mono.Unreachable:
			b.NewUnreachable()

			return nil
		case mono.Refcounting, mono.Expect:
			return errors.New("%T must be expanded before lowering", x)
		default:
			return errors.New("unsupported stmt: %T", x)
		}
	}
}

func (f *fn) switchStmt(ctx context.Context, b *ir.Block, x mono.Switch) (err error) {
	c, err := f.get(x.Cond)
	if err != nil {
		return errors.Wrap(err, "switch")
	}

	ct, ok := c.Type().(*types.IntType)
	if !ok {
		return errors.New("switch on %v", c.Type())
	}

	def := f.block("default")

	cases := make([]*ir.Case, len(x.Branches))
	blocks := make([]*ir.Block, len(x.Branches))

	for i, br := range x.Branches {
		blocks[i] = f.block("case")
		cases[i] = ir.NewCase(constant.NewInt(ct, int64(br.Value)), blocks[i])
	}

	b.NewSwitch(c, def, cases...)

	for i, br := range x.Branches {
		err = f.stmt(ctx, blocks[i], br.Body)
		if err != nil {
			return errors.Wrap(err, "case %d", br.Value)
		}
	}

	err = f.stmt(ctx, def, x.Default)
	if err != nil {
		return errors.Wrap(err, "default")
	}

	return nil
}

func (f *fn) expr(b *ir.Block, e mono.Expr, l layout.InLayout) (value.Value, error) {
	switch x := e.(type) {
	case mono.Literal:
		return f.literal(l, x.Int), nil
	case mono.Struct:
		t := f.t.Type(l)

		if len(x.Fields) == 0 {
			return constant.NewZeroInitializer(t), nil
		}

		var v value.Value = constant.NewUndef(t)

		for i, s := range x.Fields {
			fv, err := f.get(s)
			if err != nil {
				return nil, err
			}

			v = b.NewInsertValue(v, fv, uint64(i))
		}

		return v, nil
	case mono.StructAtIndex:
		v, err := f.get(x.Structure)
		if err != nil {
			return nil, err
		}

		return b.NewExtractValue(v, uint64(x.Index)), nil
	case mono.GetTagID:
		v, err := f.get(x.Structure)
		if err != nil {
			return nil, err
		}

		return f.tagID(b, x.Union, v, l)
	case mono.UnionAtIndex:
		v, err := f.get(x.Structure)
		if err != nil {
			return nil, err
		}

		return f.unionAtIndex(b, x, v, l)
	case mono.Call:
		args := make([]value.Value, len(x.Args))

		for i, a := range x.Args {
			v, err := f.get(a)
			if err != nil {
				return nil, err
			}

			args[i] = v
		}

		switch t := x.Type.(type) {
		case mono.ByName:
			callee, ok := f.funcs[t.Name]
			if !ok {
				return nil, errors.New("call to unknown proc %v", f.ids.SymbolName(t.Name))
			}

			return b.NewCall(callee, args...), nil
		case mono.LowLevelCall:
			v, err := f.lowlevel(b, t.Op, x.Args, args, l)
			if err != nil {
				return nil, errors.Wrap(err, "%v", t.Op)
			}

			return v, nil
		default:
			return nil, errors.New("unsupported call type: %T", t)
		}
	default:
		return nil, errors.New("unsupported expr: %T", x)
	}
}

func (f *fn) lowlevel(b *ir.Block, op mono.LowLevel, syms []mono.Symbol, args []value.Value, l layout.InLayout) (value.Value, error) {
	if len(args) != op.Arity() {
		return nil, errors.New("%d args expected, got %d", op.Arity(), len(args))
	}

	isize := f.t.isize
	unit := constant.NewZeroInitializer(f.t.unit)

	switch op {
	case mono.RefCountGetPtr:
		return b.NewGetElementPtr(types.I8, args[0], constant.NewInt(isize, -int64(f.in.Target().PtrWidth))), nil
	case mono.RefCountInc:
		b.NewCall(f.rcInc, args[0], f.cast(b, args[1], isize, true))

		return unit, nil
	case mono.RefCountDec:
		b.NewCall(f.rcDec, args[0], f.cast(b, args[1], types.I32, false))

		return unit, nil
	case mono.NumGte, mono.NumLt:
		signed := f.signed(syms[0])

		x, y := args[0], f.cast(b, args[1], args[0].Type(), signed)

		pred := enum.IPredUGE

		switch {
		case op == mono.NumGte && signed:
			pred = enum.IPredSGE
		case op == mono.NumLt && signed:
			pred = enum.IPredSLT
		case op == mono.NumLt:
			pred = enum.IPredULT
		}

		return b.NewICmp(pred, x, y), nil
	case mono.NumAdd, mono.NumMul:
		t := f.t.Type(l)
		signed := f.signed(syms[0])

		x, y := f.cast(b, args[0], t, signed), f.cast(b, args[1], t, signed)

		if op == mono.NumAdd {
			return b.NewAdd(x, y), nil
		}

		return b.NewMul(x, y), nil
	case mono.NumIntCast:
		return f.cast(b, args[0], f.t.Type(l), f.signed(syms[0])), nil
	case mono.NumBitAnd:
		t := f.t.Type(l)

		return b.NewAnd(f.cast(b, args[0], t, false), f.cast(b, args[1], t, false)), nil
	case mono.Eq:
		return b.NewICmp(enum.IPredEQ, args[0], f.cast(b, args[1], args[0].Type(), false)), nil
	case mono.IsNull:
		return b.NewICmp(enum.IPredEQ, args[0], constant.NewNull(types.I8Ptr)), nil
	case mono.PtrLoad:
		t := f.t.Type(l)

		return b.NewLoad(t, f.at(b, args[0], args[1], t)), nil
	case mono.PtrStore:
		b.NewStore(args[2], f.at(b, args[0], args[1], args[2].Type()))

		return unit, nil
	case mono.PtrStoreAtomic:
		st := b.NewStore(args[2], f.at(b, args[0], args[1], args[2].Type()))
		st.Atomic = true
		st.Ordering = enum.AtomicOrderingRelease
		st.Align = ir.Align(f.in.Alignment(f.layouts[syms[2]]))

		return unit, nil
	case mono.Memcpy:
		dst := b.NewGetElementPtr(types.I8, args[0], f.cast(b, args[1], isize, true))

		b.NewCall(f.memcpy, dst, args[2], f.cast(b, args[3], isize, false), constant.False)

		return unit, nil
	case mono.ExpectStartSharedBuffer:
		return b.NewCall(f.startBuf), nil
	case mono.ExpectNotifyParent:
		b.NewCall(f.notifyParent, args[0])

		return unit, nil
	default:
		return nil, errors.New("unsupported lowlevel")
	}
}

func (f *fn) tagID(b *ir.Block, ul layout.InLayout, v value.Value, l layout.InLayout) (value.Value, error) {
	u, _, ok := f.in.UnionOf(ul)
	if !ok {
		return nil, errors.New("not a union: %v", f.in.String(ul))
	}

	rt := f.t.Type(l)
	tl := layout.TagIDLayout(u)
	tt := f.t.Type(tl)
	t := f.in.Target()

	switch layout.Discriminant(u, t) {
	case layout.TagExternal:
		return f.cast(b, b.NewExtractValue(v, 1), rt, false), nil
	case layout.TagNone:
		return f.literal(l, 0), nil
	case layout.TagNullOnly:
		null := b.NewICmp(enum.IPredEQ, v, constant.NewNull(types.I8Ptr))
		id := int64(layout.NullID(u))

		return b.NewSelect(null, f.literal(l, id), f.literal(l, 1-id)), nil
	case layout.TagInPointer:
		x := b.NewPtrToInt(v, f.t.isize)
		m := b.NewAnd(x, constant.NewInt(f.t.isize, int64(t.TagMask())))

		return f.cast(b, m, rt, false), nil
	case layout.TagInPointee:
		x := b.NewLoad(tt, f.at(b, v, constant.NewInt(f.t.isize, int64(f.in.PointeeTagOffset(u))), tt))

		return f.cast(b, x, rt, false), nil
	default:
		panic(u)
	}
}

func (f *fn) unionAtIndex(b *ir.Block, x mono.UnionAtIndex, v value.Value, l layout.InLayout) (value.Value, error) {
	u, _, ok := f.in.UnionOf(x.Union)
	if !ok {
		return nil, errors.New("not a union: %v", f.in.String(x.Union))
	}

	fields := layout.VariantFields(u, x.TagID)
	if x.Index >= len(fields) {
		return nil, errors.New("variant %d has %d fields, %d requested", x.TagID, len(fields), x.Index)
	}

	offs, _, _ := f.in.FieldOffsets(fields)
	off := constant.NewInt(f.t.isize, int64(offs[x.Index]))
	ft := f.t.Type(fields[x.Index])

	var ptr value.Value = v

	if _, ok := u.(layout.NonRecursive); ok {
		slot := f.entry.NewAlloca(v.Type())
		b.NewStore(v, slot)

		ptr = b.NewBitCast(slot, types.I8Ptr)
	} else if layout.StoresTagIDInPointer(u, f.in.Target()) {
		mask := constant.NewInt(f.t.isize, ^int64(f.in.Target().TagMask()))
		addr := b.NewAnd(b.NewPtrToInt(v, f.t.isize), mask)

		ptr = b.NewIntToPtr(addr, types.I8Ptr)
	}

	return b.NewLoad(ft, f.at(b, ptr, off, ft)), nil
}

// at is a typed pointer to ptr+off.
func (f *fn) at(b *ir.Block, ptr, off value.Value, t types.Type) value.Value {
	p := b.NewGetElementPtr(types.I8, ptr, f.cast(b, off, f.t.isize, true))

	return b.NewBitCast(p, types.NewPointer(t))
}

// cast converts integers and pointers to t.
func (f *fn) cast(b *ir.Block, v value.Value, t types.Type, signed bool) value.Value {
	if v.Type().Equal(t) {
		return v
	}

	from, fok := v.Type().(*types.IntType)
	to, tok := t.(*types.IntType)

	switch {
	case fok && tok && from.BitSize > to.BitSize:
		return b.NewTrunc(v, to)
	case fok && tok && signed:
		return b.NewSExt(v, to)
	case fok && tok:
		return b.NewZExt(v, to)
	case fok:
		return b.NewIntToPtr(v, t)
	case tok:
		return b.NewPtrToInt(v, to)
	default:
		return b.NewBitCast(v, t)
	}
}

func (f *fn) literal(l layout.InLayout, x int64) constant.Constant {
	switch t := f.t.Type(l).(type) {
	case *types.IntType:
		return constant.NewInt(t, x)
	case *types.FloatType:
		return constant.NewFloat(t, float64(x))
	case *types.PointerType:
		if x == 0 {
			return constant.NewNull(t)
		}

		return constant.NewIntToPtr(constant.NewInt(f.t.isize, x), t)
	default:
		return constant.NewZeroInitializer(t)
	}
}

func (f *fn) signed(s mono.Symbol) bool {
	x, ok := f.in.Get(f.layouts[s]).(layout.Int)

	return ok && x.Width.Signed()
}

func (f *fn) get(s mono.Symbol) (value.Value, error) {
	v, ok := f.vals[s]
	if !ok {
		return nil, errors.New("undefined symbol %v", f.ids.SymbolName(s))
	}

	return v, nil
}

func (f *fn) block(name string) *ir.Block {
	f.blocks++

	return f.f.NewBlock(name + "." + strconv.Itoa(f.blocks))
}
