package mono

type LowLevel int

const (
	_ LowLevel = iota

	// RefCountGetPtr(elements ptr) -> refcount word ptr
	RefCountGetPtr
	// RefCountInc(rc ptr, amount isize)
	RefCountInc
	// RefCountDec(rc ptr, alignment u32)
	RefCountDec

	NumGte
	NumLt
	NumAdd
	NumMul
	// NumIntCast(x) converts to the let layout.
	NumIntCast
	NumBitAnd
	Eq
	IsNull

	// PtrLoad(ptr, offset isize) reads the let layout at ptr+offset.
	PtrLoad
	// PtrStore(ptr, offset isize, value) -> unit
	PtrStore
	// PtrStoreAtomic is PtrStore with release ordering.
	PtrStoreAtomic
	// Memcpy(dst ptr, dst offset isize, src ptr, len isize) -> unit
	Memcpy

	// ExpectStartSharedBuffer() -> buffer ptr
	ExpectStartSharedBuffer
	// ExpectNotifyParent(buffer ptr) -> unit
	ExpectNotifyParent
)

var lowLevelNames = []string{
	RefCountGetPtr:          "RefCountGetPtr",
	RefCountInc:             "RefCountInc",
	RefCountDec:             "RefCountDec",
	NumGte:                  "NumGte",
	NumLt:                   "NumLt",
	NumAdd:                  "NumAdd",
	NumMul:                  "NumMul",
	NumIntCast:              "NumIntCast",
	NumBitAnd:               "NumBitAnd",
	Eq:                      "Eq",
	IsNull:                  "IsNull",
	PtrLoad:                 "PtrLoad",
	PtrStore:                "PtrStore",
	PtrStoreAtomic:          "PtrStoreAtomic",
	Memcpy:                  "Memcpy",
	ExpectStartSharedBuffer: "ExpectStartSharedBuffer",
	ExpectNotifyParent:      "ExpectNotifyParent",
}

func (op LowLevel) String() string {
	if op <= 0 || int(op) >= len(lowLevelNames) {
		return "LowLevel(?)"
	}

	return lowLevelNames[op]
}

// Arity is the number of arguments op takes.
func (op LowLevel) Arity() int {
	switch op {
	case ExpectStartSharedBuffer:
		return 0
	case RefCountGetPtr, NumIntCast, IsNull, ExpectNotifyParent:
		return 1
	case RefCountInc, RefCountDec, NumGte, NumLt, NumAdd, NumMul, NumBitAnd, Eq, PtrLoad:
		return 2
	case PtrStore, PtrStoreAtomic:
		return 3
	case Memcpy:
		return 4
	default:
		panic(op)
	}
}
