package interp

import (
	"tlog.app/go/errors"

	"github.com/slowlang/helpgen/compiler/layout"
)

// NewStr makes a Str value. Short strings are stored inline
// with the last byte being 0x80 | len, which is the sign bit of the len word.
func (m *Memory) NewStr(s string) Value {
	if len(s) < 2*m.p {
		b := make([]byte, 2*m.p)
		copy(b, s)
		b[len(b)-1] = 0x80 | byte(len(s))

		return []Value{leUint(b[:m.p]), leUint(b[m.p:])}
	}

	addr := m.AllocBytes([]byte(s))

	return []Value{addr, uint64(len(s))}
}

// StrBytes returns the contents of a Str value.
func (m *Memory) StrBytes(v Value) ([]byte, error) {
	ws, ok := v.([]Value)
	if !ok || len(ws) != 2 {
		return nil, errors.New("str expected, got %v", v)
	}

	w0, _ := ws[0].(uint64)
	w1, _ := ws[1].(uint64)

	if signExtend(w1, m.p) < 0 {
		b := make([]byte, 2*m.p)
		putLeUint(b[:m.p], w0)
		putLeUint(b[m.p:], w1)

		n := int(b[len(b)-1] & 0x7f)

		return b[:n], nil
	}

	return m.Bytes(w0, int(w1))
}

// NewList allocates elements of layout elem.
func (m *Memory) NewList(elem layout.InLayout, elems ...Value) (Value, error) {
	size, align := m.in.StackSizeAndAlignment(elem)

	addr := m.Alloc(size*len(elems), align)

	for i, e := range elems {
		if err := m.Store(addr+uint64(i*size), elem, e); err != nil {
			return nil, errors.Wrap(err, "elem %d", i)
		}
	}

	n := uint64(len(elems))

	return []Value{addr, n, n}, nil
}

func (m *Memory) NewBox(inner layout.InLayout, v Value) (Value, error) {
	size, align := m.in.StackSizeAndAlignment(inner)

	addr := m.Alloc(size, align)

	if err := m.Store(addr, inner, v); err != nil {
		return nil, err
	}

	return addr, nil
}

// NewTagged makes a value of union layout l with the tag id and variant fields.
func (m *Memory) NewTagged(l layout.InLayout, tag int, fields ...Value) (Value, error) {
	u, _, ok := m.in.UnionOf(l)
	if !ok {
		return nil, errors.New("not a union: %v", m.in.String(l))
	}

	if tag < 0 || tag >= layout.TagCount(u) {
		return nil, errors.New("tag id %d out of range", tag)
	}

	if !layout.IsPointer(u) {
		return TagValue{Tag: tag, Fields: fields}, nil
	}

	if tag == layout.NullID(u) {
		if len(fields) != 0 {
			return nil, errors.New("null variant has no fields")
		}

		return uint64(0), nil
	}

	size, align := m.in.PointeeSizeAndAlignment(u)
	addr := m.Alloc(size, align)

	if err := m.storeVariant(addr, layout.VariantFields(u, tag), fields); err != nil {
		return nil, errors.Wrap(err, "variant %d", tag)
	}

	t := m.in.Target()

	switch layout.Discriminant(u, t) {
	case layout.TagInPointer:
		return addr | uint64(tag), nil
	case layout.TagInPointee:
		tl := layout.TagIDLayout(u)

		if err := m.Store(addr+uint64(m.in.PointeeTagOffset(u)), tl, uint64(tag)); err != nil {
			return nil, err
		}
	}

	return addr, nil
}

func (m *Memory) storeVariant(addr uint64, fields []layout.InLayout, vals []Value) error {
	defer m.lock()()

	return m.storeFields(addr, fields, vals)
}

// TagID reads the tag id of a union value.
func (m *Memory) TagID(l layout.InLayout, v Value) (int, error) {
	u, _, ok := m.in.UnionOf(l)
	if !ok {
		return 0, errors.New("not a union: %v", m.in.String(l))
	}

	if tv, ok := v.(TagValue); ok {
		return tv.Tag, nil
	}

	ptr, ok := v.(uint64)
	if !ok {
		return 0, errors.New("pointer expected, got %T", v)
	}

	t := m.in.Target()

	if ptr == 0 {
		if !layout.HasNullSentinel(u) {
			return 0, errors.New("null pointer of non-nullable union")
		}

		return layout.NullID(u), nil
	}

	switch layout.Discriminant(u, t) {
	case layout.TagNone:
		return 0, nil
	case layout.TagNullOnly:
		return 1 - layout.NullID(u), nil
	case layout.TagInPointer:
		return int(ptr & uint64(t.TagMask())), nil
	case layout.TagInPointee:
		tl := layout.TagIDLayout(u)

		x, err := m.Load(ptr+uint64(m.in.PointeeTagOffset(u)), tl)
		if err != nil {
			return 0, err
		}

		return int(x.(uint64)), nil
	default:
		return 0, errors.New("unexpected tag storage")
	}
}

// VariantField loads field i of the tag id variant.
func (m *Memory) VariantField(l layout.InLayout, v Value, tag, i int) (Value, error) {
	u, _, ok := m.in.UnionOf(l)
	if !ok {
		return nil, errors.New("not a union: %v", m.in.String(l))
	}

	if tv, ok := v.(TagValue); ok {
		if tv.Tag != tag || i >= len(tv.Fields) {
			return nil, errors.New("variant %d field %d of %v", tag, i, tv)
		}

		return tv.Fields[i], nil
	}

	ptr, ok := v.(uint64)
	if !ok {
		return nil, errors.New("pointer expected, got %T", v)
	}

	t := m.in.Target()

	if layout.StoresTagIDInPointer(u, t) {
		ptr &^= uint64(t.TagMask())
	}

	fields := layout.VariantFields(u, tag)
	if i >= len(fields) {
		return nil, errors.New("variant %d has %d fields, %d requested", tag, len(fields), i)
	}

	offs, _, _ := m.in.FieldOffsets(fields)

	return m.Load(ptr+uint64(offs[i]), fields[i])
}

// Payload returns the allocation address of a pointer value.
func (m *Memory) Payload(l layout.InLayout, v uint64) uint64 {
	u, _, ok := m.in.UnionOf(l)
	if ok && layout.StoresTagIDInPointer(u, m.in.Target()) {
		return v &^ uint64(m.in.Target().TagMask())
	}

	return v
}

func leUint(b []byte) uint64 {
	var x uint64

	for i := len(b) - 1; i >= 0; i-- {
		x = x<<8 | uint64(b[i])
	}

	return x
}

func putLeUint(b []byte, x uint64) {
	for i := range b {
		b[i] = byte(x)
		x >>= 8
	}
}
