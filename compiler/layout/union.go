package layout

type (
	// UnionLayout is one of the five physical tag union encodings.
	UnionLayout interface {
		isUnion()
	}

	// NonRecursive is stored by value: variant data followed by the tag id.
	NonRecursive struct {
		Tags [][]InLayout
	}

	// Recursive is a pointer; the tag id is in the low pointer bits or in the pointee.
	Recursive struct {
		Tags [][]InLayout
	}

	// NonNullableUnwrapped is a pointer to the only variant.
	NonNullableUnwrapped struct {
		Fields []InLayout
	}

	// NullableWrapped is Recursive where the NullableID variant is the null pointer.
	NullableWrapped struct {
		NullableID uint16
		OtherTags  [][]InLayout
	}

	// NullableUnwrapped has exactly two variants, one of them is the null pointer.
	// NullableID is the tag id of the null variant: false is 0, true is 1.
	NullableUnwrapped struct {
		NullableID  bool
		OtherFields []InLayout
	}

	// TagStorage tells where the discriminant lives.
	TagStorage int
)

const (
	TagNone TagStorage = iota
	TagExternal
	TagInPointer
	TagInPointee
	TagNullOnly
)

func (NonRecursive) isUnion()         {}
func (Recursive) isUnion()            {}
func (NonNullableUnwrapped) isUnion() {}
func (NullableWrapped) isUnion()      {}
func (NullableUnwrapped) isUnion()    {}

func (s TagStorage) String() string {
	switch s {
	case TagNone:
		return "none"
	case TagExternal:
		return "external"
	case TagInPointer:
		return "in_pointer"
	case TagInPointee:
		return "in_pointee"
	case TagNullOnly:
		return "null_only"
	default:
		return "unknown"
	}
}

// ChooseRecursiveEncoding picks the pointer encoding for a recursive union from its variants.
func ChooseRecursiveEncoding(tags [][]InLayout) UnionLayout {
	if len(tags) == 1 {
		return NonNullableUnwrapped{Fields: tags[0]}
	}

	empty := -1

	for i, t := range tags {
		if len(t) == 0 {
			empty = i
			break
		}
	}

	switch {
	case empty < 0:
		return Recursive{Tags: tags}
	case len(tags) == 2:
		return NullableUnwrapped{
			NullableID:  empty == 1,
			OtherFields: tags[1-empty],
		}
	default:
		other := make([][]InLayout, 0, len(tags)-1)
		other = append(other, tags[:empty]...)
		other = append(other, tags[empty+1:]...)

		return NullableWrapped{
			NullableID: uint16(empty),
			OtherTags:  other,
		}
	}
}

func IsPointer(u UnionLayout) bool {
	_, ok := u.(NonRecursive)
	return !ok
}

func HasNullSentinel(u UnionLayout) bool {
	switch u.(type) {
	case NullableWrapped, NullableUnwrapped:
		return true
	default:
		return false
	}
}

func TagCount(u UnionLayout) int {
	switch u := u.(type) {
	case NonRecursive:
		return len(u.Tags)
	case Recursive:
		return len(u.Tags)
	case NonNullableUnwrapped:
		return 1
	case NullableWrapped:
		return len(u.OtherTags) + 1
	case NullableUnwrapped:
		return 2
	default:
		panic(u)
	}
}

// NullID is the tag id represented by the null pointer, -1 if none.
func NullID(u UnionLayout) int {
	switch u := u.(type) {
	case NullableWrapped:
		return int(u.NullableID)
	case NullableUnwrapped:
		if u.NullableID {
			return 1
		}

		return 0
	default:
		return -1
	}
}

// VariantFields returns the fields of tag id. The null variant has none.
func VariantFields(u UnionLayout, id int) []InLayout {
	switch u := u.(type) {
	case NonRecursive:
		return u.Tags[id]
	case Recursive:
		return u.Tags[id]
	case NonNullableUnwrapped:
		if id != 0 {
			panic(id)
		}

		return u.Fields
	case NullableWrapped:
		switch n := int(u.NullableID); {
		case id == n:
			return nil
		case id < n:
			return u.OtherTags[id]
		default:
			return u.OtherTags[id-1]
		}
	case NullableUnwrapped:
		if id == NullID(u) {
			return nil
		}

		return u.OtherFields
	default:
		panic(u)
	}
}

// NonNullTagIDs lists tag ids having a non-null representation, in order.
func NonNullTagIDs(u UnionLayout) []int {
	n := TagCount(u)
	null := NullID(u)

	ids := make([]int, 0, n)

	for id := 0; id < n; id++ {
		if id == null {
			continue
		}

		ids = append(ids, id)
	}

	return ids
}

func TagIDLayout(u UnionLayout) InLayout {
	if TagCount(u) < 256 {
		return U8
	}

	return U16
}

func StoresTagIDInPointer(u UnionLayout, t Target) bool {
	switch u := u.(type) {
	case Recursive:
		return len(u.Tags) < t.PtrWidth
	case NullableWrapped:
		return len(u.OtherTags) < t.PtrWidth
	default:
		return false
	}
}

// Discriminant tells how the tag id of a value is found.
func Discriminant(u UnionLayout, t Target) TagStorage {
	switch u.(type) {
	case NonRecursive:
		return TagExternal
	case Recursive, NullableWrapped:
		if StoresTagIDInPointer(u, t) {
			return TagInPointer
		}

		return TagInPointee
	case NonNullableUnwrapped:
		return TagNone
	case NullableUnwrapped:
		return TagNullOnly
	default:
		panic(u)
	}
}

func unionTags(u UnionLayout) [][]InLayout {
	switch u := u.(type) {
	case NonRecursive:
		return u.Tags
	case Recursive:
		return u.Tags
	case NonNullableUnwrapped:
		return [][]InLayout{u.Fields}
	case NullableWrapped:
		return u.OtherTags
	case NullableUnwrapped:
		return [][]InLayout{u.OtherFields}
	default:
		panic(u)
	}
}
