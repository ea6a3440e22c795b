package snapshot

import (
	"math"

	"tlog.app/go/errors"

	"github.com/slowlang/helpgen/compiler/layout"
)

type (
	// Value is a decoded value.
	// Ints are int64 or uint64, 128 bit numbers and Dec are [2]uint64,
	// floats are float32 or float64, Bool is bool, OpaquePtr is uint64.
	Value any

	List   []Value
	Struct []Value

	Tag struct {
		ID     int
		Fields []Value
	}

	Box struct {
		Value Value
	}

	// Fn is a closure, it's never written to the buffer.
	Fn struct{}

	Decoder struct {
		r   *Reader
		end int
	}
)

func (r *Reader) Decoder() *Decoder {
	return &Decoder{r: r}
}

// DecodeValue decodes the value of layout l written at off.
func DecodeValue(in *layout.Interner, b []byte, off int, l layout.InLayout) (Value, error) {
	return NewReader(in, b).Decoder().Decode(off, l)
}

// End is the end of the last decoded value including the data it points to.
func (d *Decoder) End() int { return d.end }

func (d *Decoder) Decode(off int, l layout.InLayout) (Value, error) {
	return d.decode(off, l, 0)
}

const maxDepth = 1000

func (d *Decoder) decode(off int, l layout.InLayout, depth int) (_ Value, err error) {
	if depth > maxDepth {
		return nil, errors.New("value is too deep")
	}

	in := d.r.in
	size := in.StackSize(l)

	if err := d.reserve(off, size); err != nil {
		return nil, errors.Wrap(err, "%v", in.String(l))
	}

	switch x := in.Get(l).(type) {
	case layout.Int:
		if size == 16 {
			return d.u128(off)
		}

		v, err := d.r.uint(off, size)
		if err != nil {
			return nil, err
		}

		if x.Width.Signed() {
			sh := 64 - 8*size
			return int64(v<<sh) >> sh, nil
		}

		return v, nil
	case layout.Float:
		v, err := d.r.uint(off, size)
		if err != nil {
			return nil, err
		}

		if x.Width == layout.FloatF32 {
			return math.Float32frombits(uint32(v)), nil
		}

		return math.Float64frombits(v), nil
	case layout.Bool:
		v, err := d.r.uint(off, 1)

		return v != 0, err
	case layout.Decimal:
		return d.u128(off)
	case layout.OpaquePtr:
		return d.r.word(off)
	case layout.Str:
		return d.str(off)
	case layout.List:
		return d.list(off, x.Elem, depth)
	case layout.Struct:
		fs, err := d.fields(off, x.Fields, depth)
		if err != nil {
			return nil, err
		}

		return Struct(fs), nil
	case layout.LambdaSet:
		return Fn{}, nil
	case layout.Boxed:
		at, err := d.r.word(off)
		if err != nil {
			return nil, err
		}

		v, err := d.decode(int(at), x.Inner, depth+1)
		if err != nil {
			return nil, errors.Wrap(err, "box")
		}

		return Box{Value: v}, nil
	case layout.RecursivePointer:
		return d.union(off, x.Union, depth)
	case layout.Union:
		return d.union(off, l, depth)
	default:
		panic(x)
	}
}

func (d *Decoder) str(off int) (Value, error) {
	p := d.r.p

	w0, err := d.r.word(off)
	if err != nil {
		return nil, err
	}

	w1, err := d.r.word(off + p)
	if err != nil {
		return nil, err
	}

	if w1>>(8*p-1) != 0 {
		b := d.r.b[off : off+2*p]
		n := int(b[len(b)-1] & 0x7f)

		if n >= len(b) {
			return nil, errors.New("bad small string len: %d", n)
		}

		return string(b[:n]), nil
	}

	if err = d.reserve(int(w0), int(w1)); err != nil {
		return nil, errors.Wrap(err, "str bytes")
	}

	return string(d.r.b[w0 : w0+w1]), nil
}

func (d *Decoder) list(off int, elem layout.InLayout, depth int) (Value, error) {
	p := d.r.p

	at, err := d.r.word(off)
	if err != nil {
		return nil, err
	}

	n, err := d.r.word(off + p)
	if err != nil {
		return nil, err
	}

	c, err := d.r.word(off + 2*p)
	if err != nil {
		return nil, err
	}

	if c != n {
		return nil, errors.New("list capacity %d != len %d", c, n)
	}

	esize := d.r.in.StackSize(elem)

	if err = d.reserve(int(at), int(n)*esize); err != nil {
		return nil, errors.Wrap(err, "list elements")
	}

	l := make(List, n)

	for i := range l {
		l[i], err = d.decode(int(at)+i*esize, elem, depth+1)
		if err != nil {
			return nil, errors.Wrap(err, "elem %d", i)
		}
	}

	return l, nil
}

func (d *Decoder) fields(off int, fields []layout.InLayout, depth int) ([]Value, error) {
	offs, _, _ := d.r.in.FieldOffsets(fields)
	r := make([]Value, len(fields))

	for i, f := range fields {
		v, err := d.decode(off+offs[i], f, depth+1)
		if err != nil {
			return nil, errors.Wrap(err, "field %d", i)
		}

		r[i] = v
	}

	return r, nil
}

func (d *Decoder) union(off int, l layout.InLayout, depth int) (Value, error) {
	in := d.r.in
	t := in.Target()

	u, _, ok := in.UnionOf(l)
	if !ok {
		return nil, errors.New("not a union: %v", in.String(l))
	}

	if nr, ok := u.(layout.NonRecursive); ok {
		if len(nr.Tags) == 0 {
			return nil, errors.New("value of empty union")
		}

		id, err := d.r.uint(off+in.NonRecursiveTagOffset(nr), in.StackSize(layout.TagIDLayout(u)))
		if err != nil {
			return nil, err
		}

		if int(id) >= len(nr.Tags) {
			return nil, errors.New("bad tag id: %d", id)
		}

		fs, err := d.fields(off, nr.Tags[id], depth)
		if err != nil {
			return nil, errors.Wrap(err, "variant %d", id)
		}

		return Tag{ID: int(id), Fields: fs}, nil
	}

	w, err := d.r.word(off)
	if err != nil {
		return nil, err
	}

	if w == 0 {
		if !layout.HasNullSentinel(u) {
			return nil, errors.New("null of non-nullable union")
		}

		return Tag{ID: layout.NullID(u)}, nil
	}

	var id int
	at := int(w)

	switch layout.Discriminant(u, t) {
	case layout.TagNone:
	case layout.TagNullOnly:
		id = 1 - layout.NullID(u)
	case layout.TagInPointer:
		id = int(w & t.TagMask())
		at = int(w &^ t.TagMask())
	case layout.TagInPointee:
		x, err := d.r.uint(at+in.PointeeTagOffset(u), in.StackSize(layout.TagIDLayout(u)))
		if err != nil {
			return nil, err
		}

		id = int(x)
	}

	if id >= layout.TagCount(u) || id == layout.NullID(u) {
		return nil, errors.New("bad tag id: %d", id)
	}

	size, _ := in.PointeeSizeAndAlignment(u)

	if err = d.reserve(at, size); err != nil {
		return nil, errors.Wrap(err, "pointee")
	}

	fs, err := d.fields(at, layout.VariantFields(u, id), depth+1)
	if err != nil {
		return nil, errors.Wrap(err, "variant %d", id)
	}

	return Tag{ID: id, Fields: fs}, nil
}

func (d *Decoder) u128(off int) (Value, error) {
	lo, err := d.r.uint(off, 8)
	if err != nil {
		return nil, err
	}

	hi, err := d.r.uint(off+8, 8)
	if err != nil {
		return nil, err
	}

	return [2]uint64{lo, hi}, nil
}

func (d *Decoder) reserve(off, n int) error {
	if err := d.r.check(off, n); err != nil {
		return err
	}

	d.end = max(d.end, off+n)

	return nil
}
