// Package slotmap provides a generation-checked arena for live in-process
// objects (e.g. active proxy sessions). Slot ids stay cheap to copy and are
// safe to hold across removal: a reused slot always carries a new generation,
// so stale ids never alias a later entry.
package slotmap

import (
    "container/heap"
    "math"
    "sync"
)

// SlotID references an entry in a Table. The zero value (generation 0) is the
// permanent invalid sentinel and never matches a live entry.
type SlotID struct {
    Index      uint32
    Generation uint32
}

// Invalid returns the reserved invalid id.
func Invalid() SlotID { return SlotID{} }

// IsValid reports whether the id can possibly reference a live entry.
func (id SlotID) IsValid() bool { return id.Generation != 0 }

type slot[T any] struct {
    value      T
    generation uint32
    occupied   bool
}

// Table is an extensible arena of T indexed by SlotID. All operations are
// serialized on one internal mutex; values are owned exclusively by the table.
type Table[T any] struct {
    mu    sync.Mutex
    slots []slot[T]
    free  freeHeap
}

// New returns an empty table.
func New[T any]() *Table[T] { return &Table[T]{} }

// Insert stores v and returns its id. The numerically largest free index is
// reused first; when none is free the table grows by one slot. The slot
// generation is bumped on every insert, wrapping from u32 max to 1 so that 0
// stays invalid forever.
func (t *Table[T]) Insert(v T) SlotID {
    t.mu.Lock()
    defer t.mu.Unlock()

    var idx uint32
    if t.free.Len() > 0 {
        idx = heap.Pop(&t.free).(uint32)
    } else {
        idx = uint32(len(t.slots))
        t.slots = append(t.slots, slot[T]{})
    }
    s := &t.slots[idx]
    if s.generation == math.MaxUint32 {
        s.generation = 1
    } else {
        s.generation++
    }
    s.value = v
    s.occupied = true
    return SlotID{Index: idx, Generation: s.generation}
}

// Get returns a pointer to the entry for id, or nil when the id is invalid,
// out of range, stale, or removed. No side effects on mismatch. The pointer
// stays valid until the next Insert (the backing array may move on growth);
// callers inside the table's mutual-exclusion domain use it immediately.
func (t *Table[T]) Get(id SlotID) (*T, bool) {
    t.mu.Lock()
    defer t.mu.Unlock()
    s := t.lookup(id)
    if s == nil {
        return nil, false
    }
    return &s.value, true
}

// Remove clears the entry for id and makes its index immediately eligible for
// reuse. Returns whether a value was actually present; removing an invalid or
// stale id is a no-op.
func (t *Table[T]) Remove(id SlotID) bool {
    t.mu.Lock()
    defer t.mu.Unlock()
    s := t.lookup(id)
    if s == nil {
        return false
    }
    var zero T
    s.value = zero
    s.occupied = false
    heap.Push(&t.free, id.Index)
    return true
}

// Len returns the number of live entries.
func (t *Table[T]) Len() int {
    t.mu.Lock()
    defer t.mu.Unlock()
    return len(t.slots) - t.free.Len()
}

func (t *Table[T]) lookup(id SlotID) *slot[T] {
    if !id.IsValid() || int(id.Index) >= len(t.slots) {
        return nil
    }
    s := &t.slots[id.Index]
    if !s.occupied || s.generation != id.Generation {
        return nil
    }
    return s
}

// freeHeap is a max-heap of free indices: reuse is biased toward the most
// recently allocated region of the table.
type freeHeap []uint32

func (h freeHeap) Len() int            { return len(h) }
func (h freeHeap) Less(i, j int) bool  { return h[i] > h[j] }
func (h freeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *freeHeap) Push(x interface{}) { *h = append(*h, x.(uint32)) }
func (h *freeHeap) Pop() interface{} {
    old := *h
    n := len(old)
    x := old[n-1]
    *h = old[:n-1]
    return x
}
