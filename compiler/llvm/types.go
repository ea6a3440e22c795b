package llvm

import (
	"github.com/llir/llvm/ir/types"

	"github.com/slowlang/helpgen/compiler/layout"
)

type typer struct {
	in *layout.Interner

	isize *types.IntType
	unit  *types.StructType

	cache map[layout.InLayout]types.Type
}

func newTyper(in *layout.Interner) *typer {
	return &typer{
		in:    in,
		isize: types.NewInt(uint64(8 * in.Target().PtrWidth)),
		unit:  types.NewStruct(),
		cache: make(map[layout.InLayout]types.Type),
	}
}

// Type is the LLVM type of a value of layout l held in a register.
// All pointers are i8*.
func (t *typer) Type(l layout.InLayout) types.Type {
	if x, ok := t.cache[l]; ok {
		return x
	}

	x := t.typ(l)
	t.cache[l] = x

	return x
}

func (t *typer) typ(l layout.InLayout) types.Type {
	switch x := t.in.Get(l).(type) {
	case layout.Int:
		return types.NewInt(uint64(8 * x.Width.Size()))
	case layout.Float:
		if x.Width == layout.FloatF32 {
			return types.Float
		}

		return types.Double
	case layout.Bool:
		return types.I1
	case layout.Decimal:
		return types.I128
	case layout.Str:
		return types.NewStruct(types.I8Ptr, t.isize)
	case layout.List:
		return types.NewStruct(types.I8Ptr, t.isize, t.isize)
	case layout.OpaquePtr, layout.Boxed, layout.RecursivePointer:
		return types.I8Ptr
	case layout.Struct:
		if len(x.Fields) == 0 {
			return t.unit
		}

		fs := make([]types.Type, len(x.Fields))
		for i, f := range x.Fields {
			fs[i] = t.Type(f)
		}

		return types.NewStruct(fs...)
	case layout.LambdaSet:
		return t.Type(x.Runtime)
	case layout.Union:
		u, ok := x.Union.(layout.NonRecursive)
		if !ok {
			return types.I8Ptr
		}

		if len(u.Tags) == 0 {
			return t.unit
		}

		// data area as an array of alignment sized words, then the tag id
		data, align := t.dataArea(u)
		word := types.NewInt(uint64(8 * align))

		return types.NewStruct(types.NewArray(uint64(data/align), word), t.Type(layout.TagIDLayout(u)))
	default:
		panic(x)
	}
}

func (t *typer) dataArea(u layout.NonRecursive) (size, align int) {
	align = 1

	for _, tag := range u.Tags {
		_, s, a := t.in.FieldOffsets(tag)

		size = max(size, s)
		align = max(align, a)
	}

	return (size + align - 1) / align * align, align
}
