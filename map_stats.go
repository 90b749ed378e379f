package slotmap

import (
	"fmt"
	"strings"
)

// MapStats is Map statistics.
//
// Notes:
//   - map statistics are intended to be used for diagnostic
//     purposes, not for production code. This means that breaking changes
//     may be introduced into this struct even between minor releases.
type MapStats struct {
	// Capacity is the number of slots in the current table.
	Capacity int
	// MaxLoad is the number of occupied plus tombstoned slots the current
	// table admits before it is migrated.
	MaxLoad int
	// Size is the exact number of entries stored in the map.
	Size int
	// Counter is the number of entries stored in the map according
	// to the advisory live counter. In the case of concurrent map
	// modifications, this number may be different from Size.
	Counter int
	// Tombstones is the exact number of tombstoned slots.
	Tombstones int
	// TombstoneCounter is the advisory tombstone counter.
	TombstoneCounter int
	// PinStripes is the number of pin counter stripes of the current table.
	PinStripes int
	// TotalGrowths is the number of migrations to a larger table.
	TotalGrowths uint32
	// TotalCompactions is the number of migrations that kept the capacity
	// and only dropped tombstones.
	TotalCompactions uint32
	// TotalClears is the number of calls to Clear.
	TotalClears uint32
	// RetiredTables is the number of superseded tables still pinned by an
	// operation.
	RetiredTables int64
	// ReleasedTables is the number of superseded tables whose slot arrays
	// went to the free list.
	ReleasedTables uint64
	// ReusedSlots is the number of tables built on a released slot array.
	ReusedSlots uint64
	// ResizeWaiters is the number of goroutines holding or queued for the
	// resize lock.
	ResizeWaiters int
}

// String returns string representation of map stats.
func (s *MapStats) String() string {
	var sb strings.Builder
	sb.WriteString("MapStats{\n")
	sb.WriteString(fmt.Sprintf("Capacity:         %d\n", s.Capacity))
	sb.WriteString(fmt.Sprintf("MaxLoad:          %d\n", s.MaxLoad))
	sb.WriteString(fmt.Sprintf("Size:             %d\n", s.Size))
	sb.WriteString(fmt.Sprintf("Counter:          %d\n", s.Counter))
	sb.WriteString(fmt.Sprintf("Tombstones:       %d\n", s.Tombstones))
	sb.WriteString(fmt.Sprintf("TombstoneCounter: %d\n", s.TombstoneCounter))
	sb.WriteString(fmt.Sprintf("PinStripes:       %d\n", s.PinStripes))
	sb.WriteString(fmt.Sprintf("TotalGrowths:     %d\n", s.TotalGrowths))
	sb.WriteString(fmt.Sprintf("TotalCompactions: %d\n", s.TotalCompactions))
	sb.WriteString(fmt.Sprintf("TotalClears:      %d\n", s.TotalClears))
	sb.WriteString(fmt.Sprintf("RetiredTables:    %d\n", s.RetiredTables))
	sb.WriteString(fmt.Sprintf("ReleasedTables:   %d\n", s.ReleasedTables))
	sb.WriteString(fmt.Sprintf("ReusedSlots:      %d\n", s.ReusedSlots))
	sb.WriteString(fmt.Sprintf("ResizeWaiters:    %d\n", s.ResizeWaiters))
	sb.WriteString("}\n")
	return sb.String()
}

// Stats returns statistics for the Map. Just like other map
// methods, this one is thread-safe. Yet it's an O(N) operation,
// so it should be used only for diagnostics or debugging purposes.
func (m *Map[K, V]) Stats() *MapStats {
	stats := &MapStats{
		TotalGrowths:     m.growths.Load(),
		TotalCompactions: m.compactions.Load(),
		TotalClears:      m.clears.Load(),
		RetiredTables:    m.retiredTables.Load(),
		ReleasedTables:   m.releasedTables.Load(),
		ReusedSlots:      m.reusedSlots.Load(),
		ResizeWaiters:    m.resizeMu.Waiters(),
	}
	if m.table.Load() == nil {
		return stats
	}
	t, p := m.pin(0)
	defer m.unpin(t, p)

	stats.Capacity = t.capacity()
	stats.MaxLoad = t.maxLoad
	stats.Counter = t.liveCount()
	stats.TombstoneCounter = t.tombstoneCount()
	stats.PinStripes = len(t.pins)
	for i := range t.slots {
		s := &t.slots[i]
		s.lock.Lock()
		switch {
		case s.occupied():
			stats.Size++
		case s.hash == tagTombstone:
			stats.Tombstones++
		}
		s.lock.Unlock()
	}
	return stats
}
