package layout

func (in *Interner) StackSize(l InLayout) int {
	s, _ := in.StackSizeAndAlignment(l)
	return s
}

func (in *Interner) Alignment(l InLayout) int {
	_, a := in.StackSizeAndAlignment(l)
	return a
}

// StackSizeAndAlignment is the size of a value held in a variable or a field.
// It's always a multiple of the alignment.
func (in *Interner) StackSizeAndAlignment(l InLayout) (size, align int) {
	p := in.target.PtrWidth

	switch x := in.Get(l).(type) {
	case Int:
		s := x.Width.Size()
		return s, s
	case Float:
		s := x.Width.Size()
		return s, s
	case Bool:
		return 1, 1
	case Decimal:
		return 16, 16
	case Str:
		return 2 * p, p
	case List:
		return 3 * p, p
	case OpaquePtr, Boxed, RecursivePointer:
		return p, p
	case Struct:
		_, size, align = in.FieldOffsets(x.Fields)
		return size, align
	case LambdaSet:
		return in.StackSizeAndAlignment(x.Runtime)
	case Union:
		u, ok := x.Union.(NonRecursive)
		if !ok {
			return p, p
		}

		if len(u.Tags) == 0 {
			return 0, 1
		}

		_, da := in.unionData(u.Tags)
		ts, ta := in.StackSizeAndAlignment(TagIDLayout(u))

		align = max(da, ta)

		return alignUp(in.NonRecursiveTagOffset(u)+ts, align), align
	default:
		panic(x)
	}
}

// FieldOffsets lays fields out in declaration order with natural alignment.
func (in *Interner) FieldOffsets(fields []InLayout) (offsets []int, size, align int) {
	align = 1
	offsets = make([]int, len(fields))

	off := 0

	for i, f := range fields {
		s, a := in.StackSizeAndAlignment(f)

		off = alignUp(off, a)
		offsets[i] = off
		off += s

		align = max(align, a)
	}

	return offsets, alignUp(off, align), align
}

// unionData is the area all variants share: the largest of them,
// aligned to the strictest alignment.
func (in *Interner) unionData(tags [][]InLayout) (size, align int) {
	align = 1

	for _, t := range tags {
		_, s, a := in.FieldOffsets(t)

		size = max(size, s)
		align = max(align, a)
	}

	return alignUp(size, align), align
}

func (in *Interner) NonRecursiveTagOffset(u NonRecursive) int {
	data, _ := in.unionData(u.Tags)
	ta := in.Alignment(TagIDLayout(u))

	return alignUp(data, ta)
}

// PointeeSizeAndAlignment is the heap payload of a pointer encoded union.
func (in *Interner) PointeeSizeAndAlignment(u UnionLayout) (size, align int) {
	data, da := in.unionData(unionTags(u))

	if Discriminant(u, in.target) != TagInPointee {
		return data, da
	}

	ts, ta := in.StackSizeAndAlignment(TagIDLayout(u))
	align = max(da, ta)

	return alignUp(alignUp(data, ta)+ts, align), align
}

// PointeeTagOffset is where the tag id is stored in the payload when it's not in the pointer.
func (in *Interner) PointeeTagOffset(u UnionLayout) int {
	data, _ := in.unionData(unionTags(u))
	ta := in.Alignment(TagIDLayout(u))

	return alignUp(data, ta)
}

// SafeToMemcpy reports the value has no pointers, so copying its bytes is a full copy.
func (in *Interner) SafeToMemcpy(l InLayout) bool {
	switch x := in.Get(l).(type) {
	case Int, Float, Bool, Decimal:
		return true
	case Str, List, OpaquePtr, Boxed, RecursivePointer:
		return false
	case Struct:
		return in.allSafe(x.Fields)
	case LambdaSet:
		return in.SafeToMemcpy(x.Runtime)
	case Union:
		u, ok := x.Union.(NonRecursive)
		if !ok {
			return false
		}

		for _, t := range u.Tags {
			if !in.allSafe(t) {
				return false
			}
		}

		return true
	default:
		panic(x)
	}
}

func (in *Interner) allSafe(fields []InLayout) bool {
	for _, f := range fields {
		if !in.SafeToMemcpy(f) {
			return false
		}
	}

	return true
}

// IsRefcounted reports the value itself points to a refcounted heap allocation.
func (in *Interner) IsRefcounted(l InLayout) bool {
	switch x := in.Get(l).(type) {
	case Str, List, Boxed, RecursivePointer:
		return true
	case Union:
		return IsPointer(x.Union)
	default:
		return false
	}
}

// ContainsRefcounted reports some refcount must change when the value is duplicated or dropped.
func (in *Interner) ContainsRefcounted(l InLayout) bool {
	if in.rcKnown.IsSet(l) {
		return in.rcYes.IsSet(l)
	}

	r := in.containsRefcounted(l)

	in.rcKnown.Set(l)
	if r {
		in.rcYes.Set(l)
	}

	return r
}

func (in *Interner) containsRefcounted(l InLayout) bool {
	switch x := in.Get(l).(type) {
	case Int, Float, Bool, Decimal, OpaquePtr:
		return false
	case Str, List, Boxed, RecursivePointer:
		return true
	case Struct:
		return in.anyRefcounted(x.Fields)
	case LambdaSet:
		return in.ContainsRefcounted(x.Runtime)
	case Union:
		u, ok := x.Union.(NonRecursive)
		if !ok {
			return true
		}

		for _, t := range u.Tags {
			if in.anyRefcounted(t) {
				return true
			}
		}

		return false
	default:
		panic(x)
	}
}

func (in *Interner) anyRefcounted(fields []InLayout) bool {
	for _, f := range fields {
		if in.ContainsRefcounted(f) {
			return true
		}
	}

	return false
}

// DebugName is the shape tag used in generated helper names.
func (in *Interner) DebugName(l InLayout) string {
	switch in.Get(l).(type) {
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Decimal:
		return "dec"
	case Str:
		return "str"
	case List:
		return "list"
	case OpaquePtr:
		return "ptr"
	case Struct:
		return "struct"
	case Union:
		return "union"
	case Boxed:
		return "boxed"
	case LambdaSet:
		return "lambdaset"
	case RecursivePointer:
		return "recursive_pointer"
	default:
		panic(l)
	}
}

func alignUp(x, a int) int {
	if a <= 1 {
		return x
	}

	return (x + a - 1) / a * a
}
