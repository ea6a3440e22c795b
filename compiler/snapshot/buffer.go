// Package snapshot reads frames appended to a shared buffer by expect helpers.
//
// Buffer words 0 and 1 are the frame count and the next free offset.
// Frames follow one another starting at offset 2 words.
package snapshot

import (
	"encoding/binary"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/helpgen/compiler/layout"
)

type (
	Frame struct {
		Offset int
		End    int

		Region Region
		Module uint32

		Lookups []Lookup
	}

	Region struct {
		Start, End uint32
	}

	Lookup struct {
		Offset int
		Var    uint32

		Layout layout.InLayout
		Value  Value
	}

	Reader struct {
		b  []byte
		p  int
		in *layout.Interner
	}
)

const headerSize = 3 * 4

// NewBuffer returns an empty buffer.
func NewBuffer(size int, t layout.Target) []byte {
	b := make([]byte, max(size, 2*t.PtrWidth))

	r := Reader{b: b, p: t.PtrWidth}
	r.putWord(t.PtrWidth, uint64(2*t.PtrWidth))

	return b
}

func NewReader(in *layout.Interner, b []byte) *Reader {
	return &Reader{b: b, p: in.Target().PtrWidth, in: in}
}

// State returns the frame count and the next free offset.
func (r *Reader) State() (count, next int, err error) {
	c, err := r.word(0)
	if err != nil {
		return 0, 0, errors.Wrap(err, "count")
	}

	n, err := r.word(r.p)
	if err != nil {
		return 0, 0, errors.Wrap(err, "next offset")
	}

	if n < uint64(2*r.p) || n > uint64(len(r.b)) {
		return 0, 0, errors.New("bad next offset: %d, buffer size %d", n, len(r.b))
	}

	return int(c), int(n), nil
}

// ReadFrames reads committed frames.
// The buffer doesn't say what lookups a frame has, so layouts[i] are the lookup layouts of frame i.
func (r *Reader) ReadFrames(layouts [][]layout.InLayout) (fs []Frame, err error) {
	count, next, err := r.State()
	if err != nil {
		return nil, err
	}

	if count > len(layouts) {
		return nil, errors.New("%d frames in buffer, layouts for %d", count, len(layouts))
	}

	off := 2 * r.p

	for i := 0; i < count; i++ {
		f, err := r.readFrame(off, layouts[i])
		if err != nil {
			return nil, errors.Wrap(err, "frame %d", i)
		}

		if f.End > next {
			return nil, errors.New("frame %d ends at %d after next free offset %d", i, f.End, next)
		}

		tlog.V("snapshot").Printw("frame", "i", i, "offset", f.Offset, "end", f.End, "module", f.Module, "lookups", len(f.Lookups))

		fs = append(fs, f)
		off = f.End
	}

	if off != next {
		return nil, errors.New("frames end at %d, next free offset %d", off, next)
	}

	return fs, nil
}

func (r *Reader) readFrame(off int, layouts []layout.InLayout) (f Frame, err error) {
	f.Offset = off

	f.Region.Start, err = r.u32(off)
	if err == nil {
		f.Region.End, err = r.u32(off + 4)
	}
	if err == nil {
		f.Module, err = r.u32(off + 8)
	}
	if err != nil {
		return f, errors.Wrap(err, "header")
	}

	off += headerSize

	f.End = off + len(layouts)*(r.p+4)

	for j, l := range layouts {
		lo, err := r.word(off)
		if err != nil {
			return f, errors.Wrap(err, "lookup %d", j)
		}

		v, err := r.u32(off + r.p)
		if err != nil {
			return f, errors.Wrap(err, "lookup %d", j)
		}

		off += r.p + 4

		if int(lo) != f.End {
			return f, errors.New("lookup %d: value at %d, expected %d", j, lo, f.End)
		}

		d := r.Decoder()

		val, err := d.Decode(int(lo), l)
		if err != nil {
			return f, errors.Wrap(err, "lookup %d", j)
		}

		f.Lookups = append(f.Lookups, Lookup{
			Offset: int(lo),
			Var:    v,
			Layout: l,
			Value:  val,
		})

		f.End = d.End()
	}

	return f, nil
}

func (r *Reader) word(off int) (uint64, error) {
	return r.uint(off, r.p)
}

func (r *Reader) putWord(off int, x uint64) {
	if r.p == 4 {
		binary.LittleEndian.PutUint32(r.b[off:], uint32(x))
		return
	}

	binary.LittleEndian.PutUint64(r.b[off:], x)
}

func (r *Reader) u32(off int) (uint32, error) {
	x, err := r.uint(off, 4)

	return uint32(x), err
}

func (r *Reader) uint(off, size int) (uint64, error) {
	if err := r.check(off, size); err != nil {
		return 0, err
	}

	b := r.b[off:]

	switch size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case 8:
		return binary.LittleEndian.Uint64(b), nil
	default:
		return 0, errors.New("unsupported int size: %d", size)
	}
}

func (r *Reader) check(off, n int) error {
	if off < 0 || n < 0 || off > len(r.b) || n > len(r.b)-off {
		return errors.New("out of bounds: %d+%d, buffer size %d", off, n, len(r.b))
	}

	return nil
}
