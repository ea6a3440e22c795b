// Package interp executes mono IR over a simulated heap.
package interp

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/helpgen/compiler/layout"
	"github.com/slowlang/helpgen/compiler/mono"
)

type (
	Runtime struct {
		Mem        *Memory
		Primitives Primitives

		Procs map[mono.Symbol]*mono.Proc

		// Trace records stores if not nil.
		Trace *[]StoreOp

		// MaxSteps limits the number of statements executed by one call. 0 is no limit.
		MaxSteps int
	}

	// StoreOp is a PtrStore, PtrStoreAtomic or Memcpy.
	StoreOp struct {
		Op     mono.LowLevel
		Ptr    uint64
		Offset int64
		Size   int
	}

	frame struct {
		r *Runtime
		p *mono.Proc

		vals    map[mono.Symbol]Value
		layouts map[mono.Symbol]layout.InLayout
		joins   map[mono.JoinPointID]mono.Join

		steps int
	}
)

func NewRuntime(m *Memory, prims Primitives, procs ...mono.Proc) *Runtime {
	r := &Runtime{
		Mem:        m,
		Primitives: prims,
		Procs:      make(map[mono.Symbol]*mono.Proc, len(procs)),
	}

	r.Add(procs...)

	return r
}

func (r *Runtime) Add(procs ...mono.Proc) {
	for i := range procs {
		r.Procs[procs[i].Name] = &procs[i]
	}
}

func (r *Runtime) Call(ctx context.Context, name mono.Symbol, args ...Value) (_ Value, err error) {
	p, ok := r.Procs[name]
	if !ok {
		return nil, errors.New("unknown proc: %v", name)
	}

	return r.run(ctx, p, args)
}

// Run executes a statement with the given symbols bound.
func (r *Runtime) Run(ctx context.Context, s mono.Stmt, vals map[mono.Symbol]Value, layouts map[mono.Symbol]layout.InLayout) (Value, error) {
	p := &mono.Proc{Body: s}

	f := r.newFrame(p)

	for s, v := range vals {
		f.vals[s] = v
		f.layouts[s] = layouts[s]
	}

	return f.exec(ctx)
}

func (r *Runtime) run(ctx context.Context, p *mono.Proc, args []Value) (_ Value, err error) {
	if len(args) != len(p.Args) {
		return nil, errors.New("proc %v: %d args expected, got %d", p.Name, len(p.Args), len(args))
	}

	f := r.newFrame(p)

	for i, a := range p.Args {
		f.vals[a.Symbol] = args[i]
		f.layouts[a.Symbol] = a.Layout
	}

	if tlog.If("interp_call") {
		tlog.Printw("call", "proc", p.Name, "args", len(args))
	}

	v, err := f.exec(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "proc %v", p.Name)
	}

	return v, nil
}

func (r *Runtime) newFrame(p *mono.Proc) *frame {
	return &frame{
		r:       r,
		p:       p,
		vals:    make(map[mono.Symbol]Value),
		layouts: make(map[mono.Symbol]layout.InLayout),
		joins:   make(map[mono.JoinPointID]mono.Join),
	}
}

func (f *frame) exec(ctx context.Context) (_ Value, err error) {
	s := f.p.Body

	for {
		f.steps++

		if f.r.MaxSteps != 0 && f.steps > f.r.MaxSteps {
			return nil, errors.New("too many steps")
		}

		switch x := s.(type) {
		case mono.Let:
			v, err := f.expr(ctx, x.Expr, x.Layout)
			if err != nil {
				return nil, errors.Wrap(err, "let %v", x.Symbol)
			}

			f.vals[x.Symbol] = v
			f.layouts[x.Symbol] = x.Layout

			s = x.Next
		case mono.Ret:
			return f.get(x.Symbol)
		case mono.Switch:
			c, err := f.word(x.Cond)
			if err != nil {
				return nil, errors.Wrap(err, "switch")
			}

			s = x.Default

			for _, b := range x.Branches {
				if b.Value == c {
					s = b.Body
					break
				}
			}
		case mono.Join:
			f.joins[x.ID] = x
			s = x.Remainder
		case mono.Jump:
			j, ok := f.joins[x.ID]
			if !ok {
				return nil, errors.New("jump to unknown join point %v", x.ID)
			}

			if len(x.Args) != len(j.Params) {
				return nil, errors.New("jump %v: %d args expected, got %d", x.ID, len(j.Params), len(x.Args))
			}

			args := make([]Value, len(x.Args))

			for i, a := range x.Args {
				args[i], err = f.get(a)
				if err != nil {
					return nil, errors.Wrap(err, "jump %v", x.ID)
				}
			}

			for i, p := range j.Params {
				f.vals[p.Symbol] = args[i]
				f.layouts[p.Symbol] = p.Layout
			}

			s = j.Body
		case mono.Unreachable:
			return nil, errors.New("unreachable reached")
		case mono.Refcounting, mono.Expect:
			return nil, errors.New("%T must be expanded before execution", x)
		case nil:
			return nil, errors.New("nil stmt")
		default:
			return nil, errors.New("unsupported stmt: %T", x)
		}
	}
}

func (f *frame) expr(ctx context.Context, e mono.Expr, l layout.InLayout) (Value, error) {
	m := f.r.Mem

	switch x := e.(type) {
	case mono.Literal:
		return literal(m.in, l, x.Int), nil
	case mono.Struct:
		r := make([]Value, len(x.Fields))

		for i, s := range x.Fields {
			v, err := f.get(s)
			if err != nil {
				return nil, err
			}

			r[i] = v
		}

		return r, nil
	case mono.StructAtIndex:
		v, err := f.get(x.Structure)
		if err != nil {
			return nil, err
		}

		fs, ok := v.([]Value)
		if !ok || x.Index >= len(fs) {
			return nil, errors.New("struct at index %d: bad value %v", x.Index, v)
		}

		return fs[x.Index], nil
	case mono.GetTagID:
		v, err := f.get(x.Structure)
		if err != nil {
			return nil, err
		}

		id, err := m.TagID(x.Union, v)
		if err != nil {
			return nil, err
		}

		return uint64(id), nil
	case mono.UnionAtIndex:
		v, err := f.get(x.Structure)
		if err != nil {
			return nil, err
		}

		return m.VariantField(x.Union, v, x.TagID, x.Index)
	case mono.Call:
		args := make([]Value, len(x.Args))

		for i, a := range x.Args {
			v, err := f.get(a)
			if err != nil {
				return nil, err
			}

			args[i] = v
		}

		switch t := x.Type.(type) {
		case mono.ByName:
			return f.r.Call(ctx, t.Name, args...)
		case mono.LowLevelCall:
			v, err := f.lowlevel(t.Op, x.Args, args, l)
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

func (f *frame) lowlevel(op mono.LowLevel, syms []mono.Symbol, args []Value, l layout.InLayout) (_ Value, err error) {
	m := f.r.Mem
	in := m.in
	p := m.p

	if len(args) != op.Arity() {
		return nil, errors.New("%d args expected, got %d", op.Arity(), len(args))
	}

	word := func(i int) (uint64, error) {
		x, ok := args[i].(uint64)
		if !ok {
			return 0, errors.New("arg %d: scalar expected, got %T", i, args[i])
		}

		return x, nil
	}

	words := make([]uint64, len(args))

	switch op {
	case mono.PtrStore, mono.PtrStoreAtomic:
		words = words[:2]
	}

	for i := range words {
		words[i], err = word(i)
		if err != nil {
			return nil, err
		}
	}

	switch op {
	case mono.RefCountGetPtr:
		return words[0] - uint64(p), nil
	case mono.RefCountInc:
		return Unit, f.r.Primitives.RefCountInc(m, words[0], signExtend(words[1], p))
	case mono.RefCountDec:
		return Unit, f.r.Primitives.RefCountDec(m, words[0], uint32(words[1]))
	case mono.NumGte, mono.NumLt:
		a, b := words[0], words[1]
		al := f.layouts[syms[0]]

		var lt bool

		if signed(in, al) {
			size := in.StackSize(al)
			lt = signExtend(a, size) < signExtend(b, size)
		} else {
			lt = a < b
		}

		if op == mono.NumGte {
			lt = !lt
		}

		return boolValue(lt), nil
	case mono.NumAdd:
		return truncate(words[0]+words[1], in.StackSize(l)), nil
	case mono.NumMul:
		return truncate(words[0]*words[1], in.StackSize(l)), nil
	case mono.NumIntCast:
		return truncate(words[0], in.StackSize(l)), nil
	case mono.NumBitAnd:
		return truncate(words[0]&words[1], in.StackSize(l)), nil
	case mono.Eq:
		return boolValue(words[0] == words[1]), nil
	case mono.IsNull:
		return boolValue(words[0] == 0), nil
	case mono.PtrLoad:
		return m.Load(addr(words[0], words[1], p), l)
	case mono.PtrStore, mono.PtrStoreAtomic:
		vl, ok := f.layouts[syms[2]]
		if !ok {
			return nil, errors.New("unknown layout of %v", syms[2])
		}

		a := addr(words[0], words[1], p)

		if err = m.Store(a, vl, args[2]); err != nil {
			return nil, err
		}

		f.trace(op, words[0], words[1], in.StackSize(vl))

		return Unit, nil
	case mono.Memcpy:
		n := int(signExtend(words[3], p))
		if n < 0 {
			return nil, errors.New("negative length: %d", n)
		}

		if err = m.Copy(addr(words[0], words[1], p), words[2], n); err != nil {
			return nil, err
		}

		f.trace(op, words[0], words[1], n)

		return Unit, nil
	case mono.ExpectStartSharedBuffer:
		return f.r.Primitives.ExpectStartSharedBuffer(m)
	case mono.ExpectNotifyParent:
		return Unit, f.r.Primitives.ExpectNotifyParent(m, words[0])
	default:
		return nil, errors.New("unsupported lowlevel")
	}
}

func (f *frame) trace(op mono.LowLevel, ptr, off uint64, size int) {
	if f.r.Trace == nil {
		return
	}

	*f.r.Trace = append(*f.r.Trace, StoreOp{
		Op:     op,
		Ptr:    ptr,
		Offset: signExtend(off, f.r.Mem.p),
		Size:   size,
	})
}

func (f *frame) get(s mono.Symbol) (Value, error) {
	v, ok := f.vals[s]
	if !ok {
		return nil, errors.New("undefined symbol %v", s)
	}

	return v, nil
}

func (f *frame) word(s mono.Symbol) (uint64, error) {
	v, err := f.get(s)
	if err != nil {
		return 0, err
	}

	x, ok := v.(uint64)
	if !ok {
		return 0, errors.New("%v: scalar expected, got %T", s, v)
	}

	return x, nil
}

func literal(in *layout.Interner, l layout.InLayout, x int64) Value {
	size := in.StackSize(l)

	if size == 16 {
		hi := uint64(0)
		if x < 0 {
			hi = ^hi
		}

		return [2]uint64{uint64(x), hi}
	}

	return truncate(uint64(x), size)
}

func signed(in *layout.Interner, l layout.InLayout) bool {
	x, ok := in.Get(l).(layout.Int)

	return ok && x.Width.Signed()
}

func boolValue(x bool) Value {
	if x {
		return uint64(1)
	}

	return uint64(0)
}

func addr(ptr, off uint64, p int) uint64 {
	return ptr + uint64(signExtend(off, p))
}
