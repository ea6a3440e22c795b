package interp

import (
	"encoding/binary"
	"sync"

	"tlog.app/go/errors"

	"github.com/slowlang/helpgen/compiler/layout"
)

type (
	// Value is uint64 for scalars and pointers, [2]uint64 for 128 bit numbers,
	// []Value for structs, strings and lists, TagValue for non-recursive unions.
	Value any

	TagValue struct {
		Tag    int
		Fields []Value
	}

	// Memory is a little-endian byte addressed heap.
	// Every allocation is preceded by a refcount word.
	// Address 0 is never allocated.
	Memory struct {
		mu sync.Mutex

		in *layout.Interner
		p  int

		b []byte
	}
)

var Unit Value = []Value{}

func NewMemory(in *layout.Interner) *Memory {
	p := in.Target().PtrWidth

	return &Memory{
		in: in,
		p:  p,
		b:  make([]byte, 4*p),
	}
}

func (m *Memory) Interner() *layout.Interner { return m.in }

func (m *Memory) Len() int {
	defer m.lock()()

	return len(m.b)
}

// Alloc returns a zeroed payload with refcount 1.
func (m *Memory) Alloc(size, align int) uint64 {
	defer m.lock()()

	align = max(align, m.p)

	payload := alignUp(len(m.b)+m.p, align)
	m.grow(payload + size)

	m.putUint(payload-m.p, m.p, 1)

	return uint64(payload)
}

// AllocBytes allocates a copy of b.
func (m *Memory) AllocBytes(b []byte) uint64 {
	addr := m.Alloc(len(b), 1)

	defer m.lock()()

	copy(m.b[addr:], b)

	return addr
}

// Bytes returns a copy of the memory range.
func (m *Memory) Bytes(addr uint64, n int) ([]byte, error) {
	defer m.lock()()

	if err := m.check(addr, n); err != nil {
		return nil, err
	}

	return append([]byte{}, m.b[addr:addr+uint64(n)]...), nil
}

// Refcount is the count of the allocation payload points to.
func (m *Memory) Refcount(payload uint64) (int64, error) {
	defer m.lock()()

	rc := payload - uint64(m.p)

	if err := m.check(rc, m.p); err != nil {
		return 0, err
	}

	return signExtend(m.uint(int(rc), m.p), m.p), nil
}

// AddWord adds delta to the pointer sized word at addr and returns the new value.
// It's atomic with respect to other Memory operations.
func (m *Memory) AddWord(addr uint64, delta int64) (int64, error) {
	defer m.lock()()

	if err := m.check(addr, m.p); err != nil {
		return 0, err
	}

	x := signExtend(m.uint(int(addr), m.p), m.p) + delta
	m.putUint(int(addr), m.p, uint64(x))

	return x, nil
}

func (m *Memory) Load(addr uint64, l layout.InLayout) (v Value, err error) {
	defer m.lock()()

	return m.load(addr, l)
}

func (m *Memory) Store(addr uint64, l layout.InLayout, v Value) error {
	defer m.lock()()

	return m.store(addr, l, v)
}

func (m *Memory) Copy(dst, src uint64, n int) error {
	defer m.lock()()

	if err := m.check(dst, n); err != nil {
		return errors.Wrap(err, "dst")
	}

	if err := m.check(src, n); err != nil {
		return errors.Wrap(err, "src")
	}

	copy(m.b[dst:dst+uint64(n)], m.b[src:src+uint64(n)])

	return nil
}

func (m *Memory) load(addr uint64, l layout.InLayout) (Value, error) {
	size, _ := m.in.StackSizeAndAlignment(l)

	if err := m.check(addr, size); err != nil {
		return nil, errors.Wrap(err, "load %v", m.in.String(l))
	}

	a := int(addr)

	switch x := m.in.Get(l).(type) {
	case layout.Int, layout.Float, layout.Bool, layout.Decimal:
		if size == 16 {
			return [2]uint64{m.uint(a, 8), m.uint(a+8, 8)}, nil
		}

		return m.uint(a, size), nil
	case layout.OpaquePtr, layout.Boxed, layout.RecursivePointer:
		return m.uint(a, m.p), nil
	case layout.Str:
		return []Value{m.uint(a, m.p), m.uint(a+m.p, m.p)}, nil
	case layout.List:
		return []Value{m.uint(a, m.p), m.uint(a+m.p, m.p), m.uint(a+2*m.p, m.p)}, nil
	case layout.Struct:
		return m.loadFields(addr, x.Fields)
	case layout.LambdaSet:
		return m.load(addr, x.Runtime)
	case layout.Union:
		u, ok := x.Union.(layout.NonRecursive)
		if !ok {
			return m.uint(a, m.p), nil
		}

		if len(u.Tags) == 0 {
			return TagValue{}, nil
		}

		tl := layout.TagIDLayout(u)
		tag := int(m.uint(a+m.in.NonRecursiveTagOffset(u), m.in.StackSize(tl)))

		if tag >= len(u.Tags) {
			return nil, errors.New("bad tag id %d of %v", tag, m.in.String(l))
		}

		fs, err := m.loadFields(addr, u.Tags[tag])
		if err != nil {
			return nil, err
		}

		return TagValue{Tag: tag, Fields: fs}, nil
	default:
		panic(x)
	}
}

func (m *Memory) loadFields(addr uint64, fields []layout.InLayout) ([]Value, error) {
	offs, _, _ := m.in.FieldOffsets(fields)
	r := make([]Value, len(fields))

	for i, f := range fields {
		v, err := m.load(addr+uint64(offs[i]), f)
		if err != nil {
			return nil, errors.Wrap(err, "field %d", i)
		}

		r[i] = v
	}

	return r, nil
}

func (m *Memory) store(addr uint64, l layout.InLayout, v Value) (err error) {
	size, _ := m.in.StackSizeAndAlignment(l)

	if err := m.check(addr, size); err != nil {
		return errors.Wrap(err, "store %v", m.in.String(l))
	}

	a := int(addr)

	words := func(v Value, n int) error {
		ws, ok := v.([]Value)
		if !ok || len(ws) != n {
			return errors.New("%d words expected, got %T", n, v)
		}

		for i, w := range ws {
			x, ok := w.(uint64)
			if !ok {
				return errors.New("word %d: %T", i, w)
			}

			m.putUint(a+i*m.p, m.p, x)
		}

		return nil
	}

	switch x := m.in.Get(l).(type) {
	case layout.Int, layout.Float, layout.Bool, layout.Decimal:
		if size == 16 {
			w, ok := v.([2]uint64)
			if !ok {
				return errors.New("128 bit value expected, got %T", v)
			}

			m.putUint(a, 8, w[0])
			m.putUint(a+8, 8, w[1])

			return nil
		}

		w, ok := v.(uint64)
		if !ok {
			return errors.New("scalar expected, got %T", v)
		}

		m.putUint(a, size, w)

		return nil
	case layout.OpaquePtr, layout.Boxed, layout.RecursivePointer:
		w, ok := v.(uint64)
		if !ok {
			return errors.New("pointer expected, got %T", v)
		}

		m.putUint(a, m.p, w)

		return nil
	case layout.Str:
		return words(v, 2)
	case layout.List:
		return words(v, 3)
	case layout.Struct:
		fs, ok := v.([]Value)
		if !ok || len(fs) != len(x.Fields) {
			return errors.New("struct of %d fields expected, got %T", len(x.Fields), v)
		}

		return m.storeFields(addr, x.Fields, fs)
	case layout.LambdaSet:
		return m.store(addr, x.Runtime, v)
	case layout.Union:
		u, ok := x.Union.(layout.NonRecursive)
		if !ok {
			w, ok := v.(uint64)
			if !ok {
				return errors.New("pointer expected, got %T", v)
			}

			m.putUint(a, m.p, w)

			return nil
		}

		if len(u.Tags) == 0 {
			return nil
		}

		tv, ok := v.(TagValue)
		if !ok || tv.Tag < 0 || tv.Tag >= len(u.Tags) {
			return errors.New("tag value expected, got %v", v)
		}

		if err = m.storeFields(addr, u.Tags[tv.Tag], tv.Fields); err != nil {
			return errors.Wrap(err, "variant %d", tv.Tag)
		}

		tl := layout.TagIDLayout(u)
		m.putUint(a+m.in.NonRecursiveTagOffset(u), m.in.StackSize(tl), uint64(tv.Tag))

		return nil
	default:
		panic(x)
	}
}

func (m *Memory) storeFields(addr uint64, fields []layout.InLayout, vals []Value) error {
	if len(vals) != len(fields) {
		return errors.New("%d fields expected, got %d", len(fields), len(vals))
	}

	offs, _, _ := m.in.FieldOffsets(fields)

	for i, f := range fields {
		if err := m.store(addr+uint64(offs[i]), f, vals[i]); err != nil {
			return errors.Wrap(err, "field %d", i)
		}
	}

	return nil
}

func (m *Memory) check(addr uint64, n int) error {
	if addr == 0 && n != 0 {
		return errors.New("null pointer access")
	}

	if addr > uint64(len(m.b)) || uint64(n) > uint64(len(m.b))-addr {
		return errors.New("out of bounds: %#x+%d, memory size %#x", addr, n, len(m.b))
	}

	return nil
}

func (m *Memory) grow(n int) {
	if n <= len(m.b) {
		return
	}

	m.b = append(m.b, make([]byte, n-len(m.b))...)
}

func (m *Memory) uint(a, size int) uint64 {
	b := m.b[a:]

	switch size {
	case 0:
		return 0
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	default:
		panic(size)
	}
}

func (m *Memory) putUint(a, size int, x uint64) {
	b := m.b[a:]

	switch size {
	case 0:
	case 1:
		b[0] = byte(x)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(x))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(x))
	case 8:
		binary.LittleEndian.PutUint64(b, x)
	default:
		panic(size)
	}
}

func (m *Memory) lock() func() {
	m.mu.Lock()
	return m.mu.Unlock
}

func signExtend(x uint64, size int) int64 {
	if size >= 8 {
		return int64(x)
	}

	sh := 64 - 8*size

	return int64(x<<sh) >> sh
}

func truncate(x uint64, size int) uint64 {
	if size >= 8 {
		return x
	}

	return x & (1<<(8*size) - 1)
}

func alignUp(x, a int) int {
	return (x + a - 1) / a * a
}
