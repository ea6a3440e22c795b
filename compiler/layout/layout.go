package layout

import (
	"strconv"

	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/helpgen/compiler/set"
)

type (
	// InLayout is an interned layout.
	// Two InLayouts are the same layout iff they are equal.
	InLayout int

	Layout interface {
		isLayout()
	}

	IntWidth   uint8
	FloatWidth uint8

	Int struct {
		Width IntWidth
	}

	Float struct {
		Width FloatWidth
	}

	Bool    struct{}
	Decimal struct{}

	// Str is {elements ptr, len isize}.
	// Negative len (sign bit set) means the bytes are stored inline.
	Str struct{}

	// List is {elements ptr, len isize, capacity isize}.
	List struct {
		Elem InLayout
	}

	OpaquePtr struct{}

	Struct struct {
		Fields []InLayout
	}

	Union struct {
		Union UnionLayout
	}

	Boxed struct {
		Inner InLayout
	}

	// LambdaSet is a closure environment. It's never displayed.
	LambdaSet struct {
		Runtime InLayout
	}

	// RecursivePointer refers back to the enclosing recursive union.
	RecursivePointer struct {
		Union InLayout
	}

	reserved struct{}

	Interner struct {
		target Target

		layouts []Layout
		index   map[string]InLayout

		// ContainsRefcounted memo
		rcKnown set.Bits[InLayout]
		rcYes   set.Bits[InLayout]
	}
)

const (
	IntU8 IntWidth = iota
	IntU16
	IntU32
	IntU64
	IntU128
	IntI8
	IntI16
	IntI32
	IntI64
	IntI128
)

const (
	FloatF32 FloatWidth = iota
	FloatF64
)

// Predefined layouts. They have the same ids in every Interner.
const (
	BOOL InLayout = iota
	U8
	U16
	U32
	U64
	U128
	I8
	I16
	I32
	I64
	I128
	F32
	F64
	DEC
	STR
	UNIT
	OPAQUE_PTR

	numPredefined
)

const Nowhere InLayout = -1

func (Int) isLayout()              {}
func (Float) isLayout()            {}
func (Bool) isLayout()             {}
func (Decimal) isLayout()          {}
func (Str) isLayout()              {}
func (List) isLayout()             {}
func (OpaquePtr) isLayout()        {}
func (Struct) isLayout()           {}
func (Union) isLayout()            {}
func (Boxed) isLayout()            {}
func (LambdaSet) isLayout()        {}
func (RecursivePointer) isLayout() {}
func (reserved) isLayout()         {}

func NewInterner(t Target) *Interner {
	in := &Interner{
		target: t,
		index:  make(map[string]InLayout),
	}

	for _, l := range []Layout{
		Bool{},
		Int{Width: IntU8}, Int{Width: IntU16}, Int{Width: IntU32}, Int{Width: IntU64}, Int{Width: IntU128},
		Int{Width: IntI8}, Int{Width: IntI16}, Int{Width: IntI32}, Int{Width: IntI64}, Int{Width: IntI128},
		Float{Width: FloatF32}, Float{Width: FloatF64},
		Decimal{},
		Str{},
		Struct{},
		OpaquePtr{},
	} {
		in.Insert(l)
	}

	if len(in.layouts) != int(numPredefined) {
		panic("predefined layouts mismatch")
	}

	return in
}

func (in *Interner) Target() Target { return in.target }

// Isize is the pointer-sized signed integer.
func (in *Interner) Isize() InLayout {
	if in.target.PtrWidth == 4 {
		return I32
	}

	return I64
}

func (in *Interner) Len() int { return len(in.layouts) }

func (in *Interner) Get(l InLayout) Layout {
	if l < 0 || int(l) >= len(in.layouts) {
		panic("layout out of range: " + strconv.Itoa(int(l)))
	}

	x := in.layouts[l]
	if _, ok := x.(reserved); ok {
		panic("layout is not finished yet: " + strconv.Itoa(int(l)))
	}

	return x
}

// Insert returns the canonical id of the layout, adding it if new.
func (in *Interner) Insert(l Layout) InLayout {
	k := key(l)

	if id, ok := in.index[k]; ok {
		return id
	}

	id := InLayout(len(in.layouts))
	in.layouts = append(in.layouts, l)
	in.index[k] = id

	return id
}

func (in *Interner) InsertStruct(fields ...InLayout) InLayout {
	return in.Insert(Struct{Fields: fields})
}

func (in *Interner) InsertUnion(u UnionLayout) InLayout {
	return in.Insert(Union{Union: u})
}

// InsertRecursive ties the knot for a recursive union.
// build gets the id the union will have and must refer to itself
// through RecursivePointerTo(self).
func (in *Interner) InsertRecursive(build func(self InLayout) (UnionLayout, error)) (InLayout, error) {
	self := InLayout(len(in.layouts))
	in.layouts = append(in.layouts, reserved{})

	u, err := build(self)
	if err != nil {
		return Nowhere, err
	}

	if !IsPointer(u) {
		panic("recursive union must use a pointer encoding")
	}

	l := Union{Union: u}
	in.layouts[self] = l
	in.index[key(l)] = self

	return self, nil
}

func (in *Interner) RecursivePointerTo(union InLayout) InLayout {
	return in.Insert(RecursivePointer{Union: union})
}

// UnionOf resolves l to a union layout, following a recursive pointer.
func (in *Interner) UnionOf(l InLayout) (UnionLayout, InLayout, bool) {
	switch x := in.Get(l).(type) {
	case Union:
		return x.Union, l, true
	case RecursivePointer:
		u, ok := in.Get(x.Union).(Union)
		if !ok {
			return nil, Nowhere, false
		}

		return u.Union, x.Union, true
	default:
		return nil, Nowhere, false
	}
}

func (w IntWidth) Size() int {
	switch w {
	case IntU8, IntI8:
		return 1
	case IntU16, IntI16:
		return 2
	case IntU32, IntI32:
		return 4
	case IntU64, IntI64:
		return 8
	case IntU128, IntI128:
		return 16
	default:
		panic(w)
	}
}

func (w IntWidth) Signed() bool { return w >= IntI8 }

func (w IntWidth) String() string {
	if w.Signed() {
		return "I" + strconv.Itoa(w.Size()*8)
	}

	return "U" + strconv.Itoa(w.Size()*8)
}

func (w FloatWidth) Size() int {
	if w == FloatF32 {
		return 4
	}

	return 8
}

func (w FloatWidth) String() string {
	return "F" + strconv.Itoa(w.Size()*8)
}

func (l InLayout) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	if l == Nowhere {
		return e.AppendNil(b)
	}

	return e.AppendFormat(b, "L%d", int(l))
}

func key(l Layout) string {
	b := make([]byte, 0, 32)

	ids := func(b []byte, l []InLayout) []byte {
		for i, x := range l {
			if i != 0 {
				b = append(b, ',')
			}

			b = strconv.AppendInt(b, int64(x), 10)
		}

		return b
	}

	tags := func(b []byte, t [][]InLayout) []byte {
		for _, f := range t {
			b = append(b, '(')
			b = ids(b, f)
			b = append(b, ')')
		}

		return b
	}

	switch x := l.(type) {
	case Int:
		b = append(b, "int:"...)
		b = strconv.AppendInt(b, int64(x.Width), 10)
	case Float:
		b = append(b, "float:"...)
		b = strconv.AppendInt(b, int64(x.Width), 10)
	case Bool:
		b = append(b, "bool"...)
	case Decimal:
		b = append(b, "dec"...)
	case Str:
		b = append(b, "str"...)
	case OpaquePtr:
		b = append(b, "ptr"...)
	case List:
		b = append(b, "list:"...)
		b = strconv.AppendInt(b, int64(x.Elem), 10)
	case Struct:
		b = append(b, "struct:"...)
		b = ids(b, x.Fields)
	case Boxed:
		b = append(b, "box:"...)
		b = strconv.AppendInt(b, int64(x.Inner), 10)
	case LambdaSet:
		b = append(b, "lambda:"...)
		b = strconv.AppendInt(b, int64(x.Runtime), 10)
	case RecursivePointer:
		b = append(b, "recptr:"...)
		b = strconv.AppendInt(b, int64(x.Union), 10)
	case Union:
		switch u := x.Union.(type) {
		case NonRecursive:
			b = append(b, "nonrec:"...)
			b = tags(b, u.Tags)
		case Recursive:
			b = append(b, "rec:"...)
			b = tags(b, u.Tags)
		case NonNullableUnwrapped:
			b = append(b, "nnu:"...)
			b = ids(b, u.Fields)
		case NullableWrapped:
			b = append(b, "nw:"...)
			b = strconv.AppendInt(b, int64(u.NullableID), 10)
			b = append(b, ':')
			b = tags(b, u.OtherTags)
		case NullableUnwrapped:
			b = append(b, "nu:"...)
			b = strconv.AppendBool(b, u.NullableID)
			b = append(b, ':')
			b = ids(b, u.OtherFields)
		default:
			panic(u)
		}
	default:
		panic(l)
	}

	return string(b)
}
