package slotmap

import (
	"sync"
	"sync/atomic"

	"github.com/llxisdsh/slotmap/internal/opt"
)

// ============================================================================
// Table Reclamation
// ============================================================================
//
// Every operation pins the table it works on. A table replaced by a
// migration is retired, and its slot array is handed to the free list only
// once no pin on it remains. Either the retiring goroutine or the last one
// to unpin performs the release; released guarantees it happens once.
//
// A pin taken on a table that is no longer current is dropped at once, so
// the pin count of a retired table can only fall.

// pin returns the current table with one pin stripe incremented.
// The caller must call unpin with the same table and stripe.
func (m *Map[K, V]) pin(hash uintptr) (*table[K, V], *opt.CounterStripe_) {
	for {
		t := m.table.Load()
		p := &t.pins[hash&t.pinMask]
		atomic.AddUintptr(&p.C, 1)
		if m.table.Load() == t {
			return t, p
		}
		m.unpin(t, p)
	}
}

func (m *Map[K, V]) unpin(t *table[K, V], p *opt.CounterStripe_) {
	if atomic.AddUintptr(&p.C, ^uintptr(0)) == 0 && t.retired.Load() {
		m.tryRelease(t)
	}
}

// retire marks a superseded table. It must be called after the
// replacement table has been published.
func (m *Map[K, V]) retire(t *table[K, V]) {
	m.retiredTables.Add(1)
	t.retired.Store(true)
	m.tryRelease(t)
}

func (m *Map[K, V]) tryRelease(t *table[K, V]) {
	if !t.drained() || !t.released.CompareAndSwap(false, true) {
		return
	}
	clear(t.slots)
	t.pool.Put(t.slots)
	m.retiredTables.Add(-1)
	m.releasedTables.Add(1)
}

// drained reports whether no pin on t is held.
func (t *table[K, V]) drained() bool {
	for i := range t.pins {
		if atomic.LoadUintptr(&t.pins[i].C) != 0 {
			return false
		}
	}
	return true
}

func (m *Map[K, V]) freeList(capacity int) *sync.Pool {
	if p, ok := m.freeSlots.Load(capacity); ok {
		return p
	}
	p, _ := m.freeSlots.LoadOrStore(capacity, &sync.Pool{})
	return p
}

// allocTable builds a table of the given capacity on a zeroed slot array,
// reusing a released one of the same capacity when available.
//
// The free list itself is only consulted here, under resizeMu or before the
// map is shared. The table keeps its pool, so a release never looks it up.
func (m *Map[K, V]) allocTable(capacity int) *table[K, V] {
	pool := m.freeList(capacity)
	slots, ok := pool.Get().([]slot[K, V])
	if ok {
		m.reusedSlots.Add(1)
	} else {
		slots = make([]slot[K, V], capacity)
	}
	t := newTable(slots)
	t.pool = pool
	return t
}
