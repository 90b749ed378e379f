package slotmap

import (
	"log/slog"
	"unsafe"
)

// ============================================================================
// Configuration
// ============================================================================

// MapConfig defines configurable options for Map initialization.
// This structure contains all the configuration parameters that can be used
// to customize the behavior and performance characteristics of a Map
// instance.
type MapConfig struct {
	// keyHash specifies a custom hash function for keys.
	// If nil, the built-in hash function will be used.
	keyHash HashFunc

	// newValue is the func() V that constructs the value stored for a key
	// inserted by Get or Lock. If nil, the zero value is stored.
	newValue any

	// capacity provides an estimate of the expected number of entries.
	// The initial table is sized so that capacity entries fit under the
	// load threshold. The table never becomes smaller than that.
	capacity int

	// maxCapacity bounds the number of slots a table may grow to.
	// Zero means the platform limit.
	maxCapacity int

	// logger receives resize events. If nil, events are discarded.
	logger *slog.Logger
}

// WithCapacity configuring new Map instance with capacity enough
// to hold cap entries. The capacity is treated as the minimal
// capacity, meaning that Clear never resets the table to a smaller
// capacity. If cap is zero or negative, the value is ignored.
func WithCapacity(cap int) func(*MapConfig) {
	return func(c *MapConfig) {
		c.capacity = cap
	}
}

// WithMaxCapacity limits the number of slots the table may grow to. The
// limit is rounded up to a power of two. An insertion that would need a
// larger table fails with ErrCapacityExceeded.
func WithMaxCapacity(slots int) func(*MapConfig) {
	return func(c *MapConfig) {
		c.maxCapacity = slots
	}
}

// WithLogger sets the logger that receives growth, compaction and clear
// events (Debug) and refused growths (Warn).
func WithLogger(logger *slog.Logger) func(*MapConfig) {
	return func(c *MapConfig) {
		c.logger = logger
	}
}

// WithValueFactory sets the constructor for values created by Get and Lock
// when the key is absent. The factory runs while the key's slot is locked,
// so it must be short and must not touch the map. If it panics, the key
// stays absent and the panic reaches the caller of Get or Lock. V must be the value type
// of the map, otherwise the map panics on initialization.
//
// Usage:
//
//	m := NewMap[string, *stats](WithValueFactory(func() *stats { return new(stats) }))
func WithValueFactory[V any](newValue func() V) func(*MapConfig) {
	return func(c *MapConfig) {
		if newValue != nil {
			c.newValue = newValue
		}
	}
}

// WithKeyHasher sets a custom key hashing function for the map.
// This allows you to optimize hash distribution for specific key types
// or implement custom hashing strategies.
//
// Usage:
//
//	m := NewMap[string, int](WithKeyHasher(func(key string, seed uintptr) uintptr {
//		return uintptr(len(key)) ^ seed
//	}))
//
// Hashes are only ever compared for equality and reduced modulo the table
// capacity, so the low bits should be well distributed.
func WithKeyHasher[K comparable](
	keyHash func(key K, seed uintptr) uintptr,
) func(*MapConfig) {
	return func(c *MapConfig) {
		if keyHash != nil {
			c.keyHash = func(pointer unsafe.Pointer, u uintptr) uintptr {
				return keyHash(*(*K)(pointer), u)
			}
		}
	}
}

// WithKeyHasherUnsafe sets a low-level unsafe key hashing function.
// The pointer passed to hs points to the key in memory.
//
// Notes:
//   - You must correctly cast unsafe.Pointer to the actual key type
//   - Incorrect pointer operations will cause crashes or memory corruption
func WithKeyHasherUnsafe(hs HashFunc) func(*MapConfig) {
	return func(c *MapConfig) {
		c.keyHash = hs
	}
}

// WithComparableHasher forces hash/maphash.Comparable for the key type,
// bypassing the integer and string fast paths.
func WithComparableHasher[K comparable]() func(*MapConfig) {
	return func(c *MapConfig) {
		c.keyHash = hashComparable[K]
	}
}

// IHashFunc defines a custom hash function interface for key types.
// Key types implementing this interface provide their own hash computation,
// serving as an alternative to WithKeyHasher.
//
// The interface is detected during Map initialization, takes precedence over
// the built-in hasher and is overridden by an explicit WithKeyHasher.
//
// Usage:
//
//	type UserID struct {
//		ID     int64
//		Tenant string
//	}
//
//	func (u *UserID) HashFunc(seed uintptr) uintptr {
//		return uintptr(u.ID) ^ seed
//	}
type IHashFunc interface {
	HashFunc(seed uintptr) uintptr
}

func parseKeyInterface[K comparable]() (keyHash HashFunc) {
	var k *K
	if _, ok := any(k).(IHashFunc); ok {
		keyHash = func(ptr unsafe.Pointer, seed uintptr) uintptr {
			return any((*K)(ptr)).(IHashFunc).HashFunc(seed)
		}
	}
	return
}
