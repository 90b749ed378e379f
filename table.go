package slotmap

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/llxisdsh/slotmap/internal/opt"
)

// slot is one cell of a table. hash holds either a slot tag (tagEmpty,
// tagTombstone, tagRelocating) or the reduced hash of the live key stored in
// the slot. All fields except lock are guarded by lock.
type slot[K comparable, V any] struct {
	lock  SpinLock
	hash  uintptr
	key   K
	value V
}

//go:nosplit
func (s *slot[K, V]) occupied() bool {
	return s.hash >= reservedTags
}

// clearPayload drops the key and value so the GC does not retain them.
//
//go:nosplit
func (s *slot[K, V]) clearPayload() {
	s.key = *new(K)
	s.value = *new(V)
}

// table is the slot array of a Map together with its advisory counters.
//
// live and tombstones are updated with atomic adds outside of any table-wide
// lock. They only decide when a migration is attempted; lookups never rely
// on them.
type table[K comparable, V any] struct {
	slots   []slot[K, V]
	mask    uintptr
	maxLoad int

	live       opt.CounterStripe_
	tombstones opt.CounterStripe_

	// reclamation state, see reclaim.go
	pins     []opt.CounterStripe_
	pinMask  uintptr
	retired  atomic.Bool
	released atomic.Bool
	// receives slots on release
	pool *sync.Pool
}

func newTable[K comparable, V any](slots []slot[K, V]) *table[K, V] {
	pinLen := calcPinLen(len(slots), runtime.GOMAXPROCS(0))
	return &table[K, V]{
		slots:   slots,
		mask:    uintptr(len(slots) - 1),
		maxLoad: maxLoad(len(slots)),
		pins:    make([]opt.CounterStripe_, pinLen),
		pinMask: uintptr(pinLen - 1),
	}
}

// calcPinLen computes the number of pin stripes for the table
// return value must be a power of 2
//
//go:nosplit
func calcPinLen(tableLen, cpus int) int {
	return nextPowOf2(min(cpus, max(tableLen>>6, 1)))
}

//go:nosplit
func (t *table[K, V]) capacity() int {
	return len(t.slots)
}

//go:nosplit
func (t *table[K, V]) addLive(delta int) {
	atomic.AddUintptr(&t.live.C, uintptr(delta))
}

//go:nosplit
func (t *table[K, V]) addTombstones(delta int) {
	atomic.AddUintptr(&t.tombstones.C, uintptr(delta))
}

//go:nosplit
func (t *table[K, V]) liveCount() int {
	return max(int(atomic.LoadUintptr(&t.live.C)), 0)
}

//go:nosplit
func (t *table[K, V]) tombstoneCount() int {
	return max(int(atomic.LoadUintptr(&t.tombstones.C)), 0)
}

// reserve accounts for one more occupied slot if that keeps occupied plus
// tombstoned slots within maxLoad. The counters never undercount: inserts
// reserve before writing the slot and removals add the tombstone before
// dropping the live entry.
//
//go:nosplit
func (t *table[K, V]) reserve() bool {
	live := int(atomic.AddUintptr(&t.live.C, 1))
	if live+t.tombstoneCount() > t.maxLoad {
		t.addLive(-1)
		return false
	}
	return true
}

// overloaded is the advisory load check: it reports whether adding extra
// entries would push occupied plus tombstoned slots past maxLoad.
//
//go:nosplit
func (t *table[K, V]) overloaded(extra int) bool {
	return extra > t.maxLoad-t.liveCount()-t.tombstoneCount()
}

type probeResult uint8

const (
	// probeFound: the returned slot holds the key and is locked
	probeFound probeResult = iota
	// probeEmpty: the key is absent; the returned slot is the first Empty
	// slot of its probe sequence and is locked
	probeEmpty
	// probeRelocated: the table was superseded; retry on the current one
	probeRelocated
	// probeExhausted: every slot was visited and none was Empty
	probeExhausted
)

// locate walks the probe sequence of hash, locking one slot at a time.
// Only the returned slot (if any) is still locked when it returns.
func (t *table[K, V]) locate(hash uintptr, key *K) (*slot[K, V], probeResult) {
	seq := makeProbeSeq(hash, t.mask)
	for range len(t.slots) {
		s := &t.slots[seq.offset]
		s.lock.Lock()
		switch s.hash {
		case tagRelocating:
			s.lock.Unlock()
			return nil, probeRelocated
		case tagEmpty:
			return s, probeEmpty
		case hash:
			if s.key == *key {
				return s, probeFound
			}
		}
		s.lock.Unlock()
		seq = seq.next()
	}
	return nil, probeExhausted
}

// insertUnlocked places an entry into a table that is not yet published.
// The table must have an Empty slot on the probe sequence of hash.
func (t *table[K, V]) insertUnlocked(hash uintptr, key *K, value *V) {
	seq := makeProbeSeq(hash, t.mask)
	for {
		s := &t.slots[seq.offset]
		if s.hash == tagEmpty {
			s.hash = hash
			s.key = *key
			s.value = *value
			return
		}
		seq = seq.next()
	}
}

// lockAll acquires every slot lock in index order.
func (t *table[K, V]) lockAll() {
	for i := range t.slots {
		t.slots[i].lock.Lock()
	}
}

func (t *table[K, V]) unlockAll() {
	for i := range t.slots {
		t.slots[i].lock.Unlock()
	}
}
