package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"tlog.app/go/tlog/tlwire"
)

func elems[K Key](s *Bits[K]) (r []K) {
	s.Range(func(k K) bool {
		r = append(r, k)
		return true
	})

	return r
}

func TestBits(t *testing.T) {
	var s Bits[int]

	assert.False(t, s.IsSet(3))
	assert.Equal(t, 0, s.Size())

	s.Set(3)
	s.Set(64)
	s.Set(200)

	assert.True(t, s.IsSet(3))
	assert.True(t, s.IsSet(64))
	assert.True(t, s.IsSet(200))
	assert.False(t, s.IsSet(4))
	assert.False(t, s.IsSet(1000))

	assert.Equal(t, []int{3, 64, 200}, elems(&s))
	assert.Equal(t, 3, s.Size())

	assert.True(t, s.Add(7))
	assert.False(t, s.Add(7))

	assert.Equal(t, []int{3, 7, 64, 200}, elems(&s))
}

func TestBitsTlogAppend(t *testing.T) {
	var s Bits[int64]

	var e tlwire.LowEncoder

	assert.Equal(t, e.AppendNil(nil), s.TlogAppend(nil))

	s.Set(2)
	s.Set(130)

	exp := e.AppendTag(nil, tlwire.Array, -1)
	exp = e.AppendInt(exp, 2)
	exp = e.AppendInt(exp, 130)
	exp = e.AppendBreak(exp)

	assert.Equal(t, exp, s.TlogAppend(nil))
}

func TestBitsRangeStop(t *testing.T) {
	var s Bits[int]

	for i := 0; i < 10; i++ {
		s.Set(i * 10)
	}

	var r []int

	s.Range(func(k int) bool {
		r = append(r, k)
		return len(r) < 3
	})

	assert.Equal(t, []int{0, 10, 20}, r)
}
