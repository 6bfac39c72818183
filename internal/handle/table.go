package handle

import (
	"fmt"
	"sync"
)

// ID is an opaque handle to a value owned by a Table.
//
// Layout (most significant first):
//
//	bit 63      always zero (IDs are positive)
//	bits 56-62  kind tag of the issuing table
//	bits 32-55  slot generation
//	bits 0-31   slot index
//
// The zero ID is never issued.
type ID int64

const (
	indexBits = 32
	genBits   = 24
	kindShift = indexBits + genBits

	indexMask = 1<<indexBits - 1
	genMask   = 1<<genBits - 1
	kindMask  = 1<<7 - 1

	// maxGen is the last generation a slot may carry. A slot that reaches
	// it is retired instead of recycled.
	maxGen = genMask
)

func makeID(kind uint8, gen uint32, index uint32) ID {
	return ID(int64(kind)<<kindShift | int64(gen)<<indexBits | int64(index))
}

func (id ID) kind() uint8   { return uint8(int64(id) >> kindShift & kindMask) }
func (id ID) gen() uint32   { return uint32(int64(id) >> indexBits & genMask) }
func (id ID) index() uint32 { return uint32(int64(id) & indexMask) }

// String renders the handle as kind:index.gen for logs.
func (id ID) String() string {
	return fmt.Sprintf("%d:%d.%d", id.kind(), id.index(), id.gen())
}

type slot[T any] struct {
	gen  uint32
	live bool
	val  T
}

// Table is an arena mapping generated IDs to owned values.
//
// A slot is recycled after Remove, but with its generation bumped, so a
// stale ID held by a careless caller misses instead of aliasing the new
// occupant. IDs carry the table's kind tag, which makes an ID issued by
// one table invalid in any table with a different kind.
//
// Thread-safety: all methods are safe for concurrent use.
type Table[T any] struct {
	mu    sync.Mutex
	kind  uint8
	slots []slot[T]
	free  []uint32
	live  int
}

// New creates an empty table whose IDs are tagged with kind.
// Kind must fit in 7 bits; it panics otherwise.
func New[T any](kind uint8) *Table[T] {
	if kind > kindMask {
		panic(fmt.Sprintf("handle: kind %d out of range", kind))
	}
	return &Table[T]{kind: kind}
}

// Insert stores v and returns a fresh ID for it.
// The returned ID is never equal to any ID that is currently live.
func (t *Table[T]) Insert(v T) ID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		if uint64(len(t.slots)) > indexMask {
			panic("handle: table exhausted")
		}
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, slot[T]{})
	}

	s := &t.slots[idx]
	s.gen++
	s.live = true
	s.val = v
	t.live++

	return makeID(t.kind, s.gen, idx)
}

// Get returns the value for id if it is live.
func (t *Table[T]) Get(id ID) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.lookup(id)
	if s == nil {
		var zero T
		return zero, false
	}
	return s.val, true
}

// Remove invalidates id and returns the value it referenced.
// Removing a stale or unknown ID reports false and changes nothing.
func (t *Table[T]) Remove(id ID) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	s := t.lookup(id)
	if s == nil {
		return zero, false
	}

	v := s.val
	s.val = zero
	s.live = false
	t.live--

	if s.gen < maxGen {
		t.free = append(t.free, id.index())
	}
	return v, true
}

// Len returns the number of live entries.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// Range calls fn for each live entry in slot order until fn returns false.
// The table is locked for the duration; fn must not call back into it.
func (t *Table[T]) Range(fn func(ID, T) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		s := &t.slots[i]
		if !s.live {
			continue
		}
		if !fn(makeID(t.kind, s.gen, uint32(i)), s.val) {
			return
		}
	}
}

// lookup returns the live slot addressed by id, or nil.
// Caller must hold t.mu.
func (t *Table[T]) lookup(id ID) *slot[T] {
	if id <= 0 || id.kind() != t.kind {
		return nil
	}
	idx := id.index()
	if uint64(idx) >= uint64(len(t.slots)) {
		return nil
	}
	s := &t.slots[idx]
	if !s.live || s.gen != id.gen() {
		return nil
	}
	return s
}
