package slotmap

import (
	"github.com/llxisdsh/slotmap/internal/opt"
)

// Guard is exclusive access to one key of a Map, obtained from Map.Lock.
//
// While a Guard is held, every other operation on the same key waits, and
// so does any migration of the table. Release it with Unlock as soon as
// possible, typically with defer. A Guard is single-use: calling Unlock a
// second time panics, so a Guard can never release a slot that has since
// been handed to someone else.
//
// The goroutine holding a Guard must not call other methods of the same
// Map before releasing it.
type Guard[K comparable, V any] struct {
	m   *Map[K, V]
	t   *table[K, V]
	pin *opt.CounterStripe_
	s   *slot[K, V]
}

// Key returns the guarded key.
func (g *Guard[K, V]) Key() K {
	g.check()
	return g.s.key
}

// Value returns a pointer to the stored value. The pointer is valid only
// until Unlock.
func (g *Guard[K, V]) Value() *V {
	g.check()
	return &g.s.value
}

// Set replaces the stored value.
func (g *Guard[K, V]) Set(value V) {
	g.check()
	g.s.value = value
}

// Unlock releases the key. It panics if the Guard was already released.
func (g *Guard[K, V]) Unlock() {
	g.check()
	s, t, p := g.s, g.t, g.pin
	g.s, g.t, g.pin = nil, nil, nil
	s.lock.Unlock()
	g.m.unpin(t, p)
}

func (g *Guard[K, V]) check() {
	if g.s == nil {
		panic("slotmap: use of released Guard")
	}
}
