package snapshot

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/helpgen/compiler/layout"
)

type writer struct {
	b []byte
}

func (w *writer) u32(off int, x uint32) { binary.LittleEndian.PutUint32(w.b[off:], x) }
func (w *writer) u64(off int, x uint64) { binary.LittleEndian.PutUint64(w.b[off:], x) }

func parse(t *testing.T, in *layout.Interner, text string) layout.InLayout {
	t.Helper()

	l, err := layout.Parse(in, text)
	require.NoError(t, err)

	return l
}

// frame writes a frame with one I64 lookup at 16 and returns its end.
func (w *writer) frame(v int64) int {
	w.u32(16, 1)
	w.u32(20, 2)
	w.u32(24, 7)
	w.u64(28, 40)
	w.u32(36, 9)
	w.u64(40, uint64(v))

	return 48
}

func TestNewBuffer(t *testing.T) {
	in := layout.NewInterner(layout.X86_64)

	b := NewBuffer(64, in.Target())
	require.Len(t, b, 64)

	count, next, err := NewReader(in, b).State()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 16, next)

	fs, err := NewReader(in, b).ReadFrames(nil)
	require.NoError(t, err)
	assert.Empty(t, fs)

	w32 := layout.NewInterner(layout.Wasm32)

	b = NewBuffer(0, w32.Target())
	require.Len(t, b, 8)

	_, next, err = NewReader(w32, b).State()
	require.NoError(t, err)
	assert.Equal(t, 8, next)
}

func TestReadFrames(t *testing.T) {
	in := layout.NewInterner(layout.X86_64)
	w := &writer{b: NewBuffer(64, in.Target())}

	end := w.frame(-5)
	w.u64(8, uint64(end))
	w.u64(0, 1)

	fs, err := NewReader(in, w.b).ReadFrames([][]layout.InLayout{{layout.I64}})
	require.NoError(t, err)

	exp := []Frame{{
		Offset: 16,
		End:    48,
		Region: Region{Start: 1, End: 2},
		Module: 7,
		Lookups: []Lookup{{
			Offset: 40,
			Var:    9,
			Layout: layout.I64,
			Value:  int64(-5),
		}},
	}}

	if diff := cmp.Diff(exp, fs); diff != "" {
		t.Errorf("frames (-want +got):\n%s", diff)
	}

	_, err = NewReader(in, w.b).ReadFrames(nil)
	assert.Error(t, err, "no layouts for the frame")

	w.u64(8, 56)

	_, err = NewReader(in, w.b).ReadFrames([][]layout.InLayout{{layout.I64}})
	assert.Error(t, err, "frames don't end at next offset")

	w.u64(8, 48)
	w.u64(28, 44)

	_, err = NewReader(in, w.b).ReadFrames([][]layout.InLayout{{layout.I64}})
	assert.Error(t, err, "lookup offset")

	w.u64(28, 40)
	w.u64(8, 40)

	_, err = NewReader(in, w.b).ReadFrames([][]layout.InLayout{{layout.I64}})
	assert.Error(t, err, "frame ends after next offset")
}

func TestBadState(t *testing.T) {
	in := layout.NewInterner(layout.X86_64)
	w := &writer{b: NewBuffer(64, in.Target())}

	for _, next := range []uint64{0, 8, 65, math.MaxUint64} {
		w.u64(8, next)

		_, _, err := NewReader(in, w.b).State()
		assert.Error(t, err, "next %d", next)
	}

	_, _, err := NewReader(in, w.b[:4]).State()
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	in := layout.NewInterner(layout.X86_64)

	w := &writer{b: make([]byte, 128)}

	// small string at 0: "hi"
	copy(w.b[0:], "hi")
	w.b[15] = 0x80 | 2

	// big string at 16 pointing to 32
	w.u64(16, 32)
	w.u64(24, 5)
	copy(w.b[32:], "hello")

	// box at 40 pointing to a F64 at 48
	w.u64(40, 48)
	w.u64(48, math.Float64bits(1.5))

	// list at 56 of 2 U32 at 80
	w.u64(56, 80)
	w.u64(64, 2)
	w.u64(72, 2)
	w.u32(80, 10)
	w.u32(84, 20)

	for _, tc := range []struct {
		off    int
		layout string
		exp    Value
		end    int
	}{
		{0, "Str", "hi", 16},
		{16, "Str", "hello", 37},
		{40, "Box(F64)", Box{Value: 1.5}, 56},
		{56, "List(U32)", List{uint64(10), uint64(20)}, 88},
		{80, "{U32, I32}", Struct{uint64(10), int64(20)}, 88},
		{80, "Bool", true, 81},
		{80, "F32", math.Float32frombits(10), 84},
		{0, "Fn(I64)", Fn{}, 8},
		{104, "rec[(I64, *) | ()]", Tag{ID: 1}, 112},
	} {
		l := parse(t, in, tc.layout)
		d := NewReader(in, w.b).Decoder()

		v, err := d.Decode(tc.off, l)
		require.NoError(t, err, "%v", tc.layout)

		if diff := cmp.Diff(tc.exp, v); diff != "" {
			t.Errorf("%v (-want +got):\n%s", tc.layout, diff)
		}

		assert.Equal(t, tc.end, d.End(), "%v", tc.layout)
	}
}

func TestDecodeErrors(t *testing.T) {
	in := layout.NewInterner(layout.X86_64)

	w := &writer{b: make([]byte, 64)}

	// list with cap != len
	w.u64(0, 32)
	w.u64(8, 1)
	w.u64(16, 2)

	// list out of the buffer
	w.u64(24, 56)
	w.u64(32, 2)
	w.u64(40, 2)

	// small string with a bad len
	w.b[63] = 0x80 | 20

	for _, tc := range []struct {
		off    int
		layout string
	}{
		{0, "List(I64)"},
		{24, "List(I64)"},
		{48, "Str"},
		{60, "I64"},
		{56, "rec[(I64) | (I64, *)]"},
		{48, "[]"},
	} {
		_, err := DecodeValue(in, w.b, tc.off, parse(t, in, tc.layout))
		assert.Error(t, err, "%v at %d", tc.layout, tc.off)
	}
}

func TestDecodeTagInPointer(t *testing.T) {
	for _, target := range []layout.Target{layout.X86_64, layout.Wasm32} {
		in := layout.NewInterner(target)
		l := parse(t, in, "rec[(I64) | (I64, *)]")

		w := &writer{b: make([]byte, 64)}

		// node at 0 -> pointee at 16: (I64 4, ptr -> leaf at 32)
		// leaf pointee at 32: (I64 3)
		ptr := func(off int, tag, at uint64) {
			x := at | tag

			if target.PtrWidth == 4 {
				w.u32(off, uint32(x))
			} else {
				w.u64(off, x)
			}
		}

		ptr(0, 1, 16)
		w.u64(16, 4)
		ptr(24, 0, 32)
		w.u64(32, 3)

		v, err := DecodeValue(in, w.b, 0, l)
		require.NoError(t, err)

		exp := Tag{ID: 1, Fields: []Value{int64(4), Tag{ID: 0, Fields: []Value{int64(3)}}}}

		offs, _, _ := in.FieldOffsets([]layout.InLayout{layout.I64, in.RecursivePointerTo(l)})
		require.Equal(t, []int{0, 8}, offs)

		if diff := cmp.Diff(Value(exp), v); diff != "" {
			t.Errorf("%v (-want +got):\n%s", target, diff)
		}

		// offsets above 16 bits
		w = &writer{b: make([]byte, 70032)}

		ptr(0, 1, 70000)
		w.u64(70000, 4)
		ptr(70008, 0, 70016)
		w.u64(70016, 3)

		v, err = DecodeValue(in, w.b, 0, l)
		require.NoError(t, err)

		if diff := cmp.Diff(Value(exp), v); diff != "" {
			t.Errorf("%v far (-want +got):\n%s", target, diff)
		}
	}
}
