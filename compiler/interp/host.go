package interp

import (
	"sync/atomic"

	"tlog.app/go/errors"
)

type (
	// Primitives are routines linked from the runtime.
	Primitives interface {
		RefCountInc(m *Memory, rc uint64, amount int64) error
		RefCountDec(m *Memory, rc uint64, alignment uint32) error
		ExpectStartSharedBuffer(m *Memory) (uint64, error)
		ExpectNotifyParent(m *Memory, buf uint64) error
	}

	// Host is a Primitives implementation counting calls.
	// Refcount words are plain counts. Dropping the last reference marks the word with Freed.
	// It's safe for concurrent use.
	Host struct {
		// Buffer is returned by ExpectStartSharedBuffer.
		Buffer uint64

		Incs     atomic.Int64
		Decs     atomic.Int64
		Frees    atomic.Int64
		Notifies atomic.Int64
	}
)

const Freed = -1 << 31

func (h *Host) RefCountInc(m *Memory, rc uint64, amount int64) error {
	h.Incs.Add(1)

	_, err := m.AddWord(rc, amount)

	return err
}

func (h *Host) RefCountDec(m *Memory, rc uint64, alignment uint32) error {
	h.Decs.Add(1)

	if alignment == 0 || alignment&(alignment-1) != 0 {
		return errors.New("bad alignment: %d", alignment)
	}

	x, err := m.AddWord(rc, -1)
	if err != nil {
		return err
	}

	switch {
	case x == 0:
		h.Frees.Add(1)

		_, err = m.AddWord(rc, Freed)

		return err
	case x < 0:
		return errors.New("refcount underflow at %#x: %d", rc, x)
	}

	return nil
}

func (h *Host) ExpectStartSharedBuffer(m *Memory) (uint64, error) {
	if h.Buffer == 0 {
		return 0, errors.New("no shared buffer")
	}

	return h.Buffer, nil
}

func (h *Host) ExpectNotifyParent(m *Memory, buf uint64) error {
	h.Notifies.Add(1)

	if buf != h.Buffer {
		return errors.New("notify with unexpected buffer %#x", buf)
	}

	return nil
}
