// Package help generates mono IR helper procs specialized to layouts.
//
// Some operations need to traverse data structures at runtime:
// changing refcounts of a value and everything it holds,
// or copying a value into a flat snapshot buffer.
// The logic is the same for all targets, so it's implemented once, in mono IR.
//
// The backend drives the process in two steps.
// First, for each Refcounting or Expect node, it asks CodeGenHelp for the replacement IR.
// Calls to not yet existing helpers are emitted and the helpers are remembered.
// Second, after all user procs are done, it asks for helper procs with GenerateProcs.
package help

import (
	"strconv"

	"nikand.dev/go/heap"
	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slowlang/helpgen/compiler/layout"
	"github.com/slowlang/helpgen/compiler/mono"
	"github.com/slowlang/helpgen/compiler/set"
)

type (
	InLayout = layout.InLayout
	Symbol   = mono.Symbol

	Op int

	// CodeGenHelp is created once per compiled module.
	// It's not safe for concurrent use.
	CodeGenHelp struct {
		home   mono.ModuleID
		in     *layout.Interner
		target layout.Target
		isize  InLayout

		// registration order is preserved, some backends depend on it
		procs   []*helperProc
		index   map[procKey]int
		pending heap.Heap[int]
		emitted set.Bits[int]

		leaks []Leak
		onLeak func(Leak)
	}

	Option func(h *CodeGenHelp)

	helperProc struct {
		layout InLayout
		op     Op
		name   Symbol
		sig    mono.ProcLayout

		proc *mono.Proc

		from loc.PC
	}

	procKey struct {
		layout InLayout
		op     Op
	}

	// NewProc is a helper first referenced by an expansion.
	// The backend needs its signature to link a call emitted before the body exists.
	NewProc struct {
		Name   Symbol
		Layout mono.ProcLayout
	}

	// Leak is a refcount change dropped because the layout is not supported yet.
	Leak struct {
		Layout InLayout
		Op     Op
		Symbol Symbol
	}
)

const (
	OpInc Op = iota
	OpDec
	OpDecRef
	OpClone
)

func WithLeakHandler(f func(Leak)) Option {
	return func(h *CodeGenHelp) {
		h.onLeak = f
	}
}

func New(home mono.ModuleID, in *layout.Interner, opts ...Option) *CodeGenHelp {
	h := &CodeGenHelp{
		home:   home,
		in:     in,
		target: in.Target(),
		isize:  in.Isize(),
		index:  make(map[procKey]int),
	}

	h.pending = heap.Heap[int]{Less: registeredEarlier}

	for _, o := range opts {
		o(h)
	}

	return h
}

// Request finds the helper proc for the layout and operation, registering it if needed.
// isNew means the caller must record the helper signature for linking.
// Clone helpers are made for unions only, other layouts panic before anything is registered.
func (h *CodeGenHelp) Request(ids *mono.IdentIDs, l InLayout, op Op) (name Symbol, isNew bool) {
	switch op {
	case OpDecRef:
		panic("DecRef never has a helper")
	case OpClone:
		return h.gen(ids).cloneProc(l)
	}

	return h.request(ids, l, op, h.procLayout(l, op))
}

func (h *CodeGenHelp) request(ids *mono.IdentIDs, l InLayout, op Op, sig mono.ProcLayout) (Symbol, bool) {
	k := procKey{layout: l, op: op}

	if i, ok := h.index[k]; ok {
		p := h.procs[i]

		if !p.sig.Equal(sig) {
			panic(errors.New("helper %v for %v %v signature mismatch: registered at %v", p.name, op, h.in.String(l), p.from))
		}

		return p.name, false
	}

	idx := len(h.procs)

	var debugName string

	if op == OpClone {
		debugName = "#clone_" + h.in.DebugName(l) + "_" + strconv.Itoa(idx)
	} else {
		debugName = "#rc" + op.String() + "_" + h.in.DebugName(l) + "_" + strconv.Itoa(idx)
	}

	name := mono.NewSymbol(h.home, ids.Add(debugName))

	h.procs = append(h.procs, &helperProc{
		layout: l,
		op:     op,
		name:   name,
		sig:    sig,
		from:   loc.Caller(2),
	})

	h.index[k] = idx
	h.pending.Push(idx)

	tlog.V("helpers").Printw("register helper", "name", debugName, "layout", l, "op", op, "from", loc.Callers(2, 3))

	return name, true
}

func (h *CodeGenHelp) procLayout(l InLayout, op Op) mono.ProcLayout {
	switch op {
	case OpInc:
		return mono.ProcLayout{Arguments: []InLayout{l, h.isize}, Result: layout.UNIT}
	case OpDec:
		return mono.ProcLayout{Arguments: []InLayout{l}, Result: layout.UNIT}
	case OpClone:
		return mono.ProcLayout{Arguments: []InLayout{layout.OPAQUE_PTR, h.isize, h.isize, l}, Result: h.isize}
	default:
		panic(op)
	}
}

// LayoutIsSupported reports refcount helpers can be generated for l.
// It's Str and structs of supported layouts.
func (h *CodeGenHelp) LayoutIsSupported(l InLayout) bool {
	switch x := h.in.Get(l).(type) {
	case layout.Str:
		return true
	case layout.Struct:
		for _, f := range x.Fields {
			if h.in.ContainsRefcounted(f) && !h.LayoutIsSupported(f) {
				return false
			}
		}

		return true
	default:
		return false
	}
}

// Leaks returns refcount changes dropped so far.
func (h *CodeGenHelp) Leaks() []Leak { return h.leaks }

// Len is the number of registered helpers.
func (h *CodeGenHelp) Len() int { return len(h.procs) }

func (h *CodeGenHelp) leak(l InLayout, op Op, s Symbol) {
	lk := Leak{Layout: l, Op: op, Symbol: s}
	h.leaks = append(h.leaks, lk)

	tlog.Printw("WARNING! MEMORY LEAK! refcounting not yet implemented", "layout", h.in.String(l), "op", op, "symbol", s)

	if h.onLeak != nil {
		h.onLeak(lk)
	}
}

func (op Op) String() string {
	switch op {
	case OpInc:
		return "Inc"
	case OpDec:
		return "Dec"
	case OpDecRef:
		return "DecRef"
	case OpClone:
		return "Clone"
	default:
		return "Op(" + strconv.Itoa(int(op)) + ")"
	}
}

func registeredEarlier(d []int, i, j int) bool { return d[i] < d[j] }
