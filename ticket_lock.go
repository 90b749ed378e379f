package slotmap

import (
	"sync/atomic"
)

// TicketLock is the resize lock of a Map.
//
// Goroutines that find a table over its load threshold, or a probe
// sequence without an Empty slot, queue here in arrival order. The first
// one migrates; the ones behind it re-check the current table when their
// ticket is served and usually leave without migrating again. Serving in
// order keeps a steady stream of inserters from starving a Clear or Grow.
//
// Waiters, which counts the holder plus the queue, is reported by
// Map.Stats as ResizeWaiters.
type TicketLock struct {
	_       noCopy
	next    atomic.Uint32
	serving atomic.Uint32
}

// Lock acquires the lock. Blocks until the lock is available.
func (m *TicketLock) Lock() {
	my := m.next.Add(1) - 1
	var spins int
	for m.serving.Load() != my {
		delay(&spins)
	}
}

// TryLock acquires the lock only if nobody holds it or waits for it.
func (m *TicketLock) TryLock() bool {
	serving := m.serving.Load()
	return m.next.CompareAndSwap(serving, serving+1)
}

// Unlock releases the lock.
func (m *TicketLock) Unlock() {
	m.serving.Add(1)
}

// Waiters returns the number of goroutines holding or queued for the lock.
func (m *TicketLock) Waiters() int {
	return int(m.next.Load() - m.serving.Load())
}
