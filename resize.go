package slotmap

import (
	"time"

	"github.com/pkg/errors"
)

type migrateMode uint8

const (
	// migrateGrow rebuilds the table large enough for the live entries plus
	// the requested extra, dropping tombstones
	migrateGrow migrateMode = iota
	// migrateClear replaces the table with an empty one of the minimum
	// capacity
	migrateClear
)

// grow is entered by an operation whose advisory check found t over its
// load threshold (or, with force, found no Empty slot at all). The check is
// repeated under resizeMu: if another goroutine migrated t in the meantime,
// or the counters no longer call for it, grow returns and the caller
// retries on the current table.
func (m *Map[K, V]) grow(t *table[K, V], extra int, force bool) error {
	m.resizeMu.Lock()
	defer m.resizeMu.Unlock()
	if m.table.Load() != t {
		return nil
	}
	if !force && !t.overloaded(extra) {
		return nil
	}
	return m.migrate(t, extra, migrateGrow)
}

// migrate replaces old with a new table. It must be called with resizeMu
// held and old being the current table.
//
// Every slot of old is locked in index order, which waits out any
// operation or Guard in progress on it. While all slots are held the live
// entries are copied into the new table by plain probing, every old slot is
// tagged Relocating, and the new table is published. Operations blocked on
// an old slot then observe the tag and retry on the new table.
func (m *Map[K, V]) migrate(old *table[K, V], extra int, mode migrateMode) error {
	start := time.Now()
	old.lockAll()

	live := 0
	if mode == migrateGrow {
		for i := range old.slots {
			if old.slots[i].occupied() {
				live++
			}
		}
	}
	newLen, ok := m.resizeLen(old.capacity(), live, extra, mode)
	if !ok {
		old.unlockAll()
		m.logger.Warn("slotmap: table growth refused",
			"capacity", old.capacity(),
			"live", live,
			"extra", extra,
			"maxCapacity", m.maxLen)
		return errors.Wrapf(ErrCapacityExceeded,
			"%d entries plus %d more do not fit in %d slots", live, extra, m.maxLen)
	}

	nt := m.allocTable(newLen)
	for i := range old.slots {
		s := &old.slots[i]
		if mode == migrateGrow && s.occupied() {
			nt.insertUnlocked(s.hash, &s.key, &s.value)
		}
		s.hash = tagRelocating
		s.clearPayload()
	}
	nt.addLive(live)
	tombstones := old.tombstoneCount()

	m.table.Store(nt)
	old.unlockAll()

	event := "slotmap: table grown"
	switch {
	case mode == migrateClear:
		m.clears.Add(1)
		event = "slotmap: table cleared"
	case newLen == old.capacity():
		m.compactions.Add(1)
		event = "slotmap: table compacted"
	default:
		m.growths.Add(1)
	}
	m.logger.Debug(event,
		"from", old.capacity(),
		"to", newLen,
		"live", live,
		"tombstones", tombstones,
		"elapsed", time.Since(start))

	m.retire(old)
	return nil
}

// resizeLen picks the capacity of the table that replaces one of capacity
// cur holding live entries, with room for extra more: the next power of two
// of at least twice the total, never below cur nor the minimum capacity,
// and never above maxLen.
func (m *Map[K, V]) resizeLen(cur, live, extra int, mode migrateMode) (int, bool) {
	if mode == migrateClear {
		return m.minLen, true
	}
	// live never exceeds maxLen, so the subtraction cannot overflow
	if extra > m.maxLen-live {
		return 0, false
	}
	need := live + extra
	n := max(nextPowOf2(need), cur, m.minLen)
	if need <= m.maxLen/2 {
		n = max(n, nextPowOf2(2*need))
	}
	for maxLoad(n) < need && n < m.maxLen {
		n <<= 1
	}
	n = min(n, m.maxLen)
	return n, maxLoad(n) >= need
}
