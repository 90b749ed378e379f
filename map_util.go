package slotmap

import (
	"hash/maphash"
	"reflect"
	"time"
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

// ============================================================================
// Private Constants
// ============================================================================

// Sizing and load configuration
const (
	// minCapacity: minimum number of slots in a table
	minCapacity = 32
	// loadNum/loadDen: occupied plus tombstoned slots may not exceed 70% of
	// the capacity before an insertion
	loadNum = 7
	loadDen = 10
)

const (
	intSize = 32 << (^uint(0) >> 63) // 32 or 64
	maxInt  = 1<<(intSize-1) - 1     // MaxInt32 or MaxInt64 depending on intSize.

	// maxCapacity is the largest table WithMaxCapacity may allow.
	maxCapacity = 1 << (intSize - 2)
)

type computeOp uint8

const (
	cancelOp computeOp = iota
	updateOp
	deleteOp
)

// ============================================================================
// Utility Functions
// ============================================================================

// maxLoad returns the largest number of occupied and tombstoned slots a table
// of the given capacity may hold. Computed without overflowing for any
// capacity up to maxCapacity.
//
//go:nosplit
func maxLoad(capacity int) int {
	return capacity/loadDen*loadNum + capacity%loadDen*loadNum/loadDen
}

// calcCapacity returns the smallest power-of-two capacity, at least
// minCapacity, whose load threshold admits n entries.
//
//go:nosplit
func calcCapacity(n int) int {
	capacity := minCapacity
	for maxLoad(capacity) < n && capacity < maxCapacity {
		capacity <<= 1
	}
	return capacity
}

// nextPowOf2 calculates the smallest power of 2 that is greater than or equal
// to n.
// Compatible with both 32-bit and 64-bit systems.
//
//go:nosplit
func nextPowOf2(n int) int {
	if n <= 0 {
		return 1
	}
	v := n - 1
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	if intSize == 64 {
		v |= v >> 32
	}
	return v + 1
}

// noescape hides a pointer from escape analysis. noescape is
// the identity function, but escape analysis doesn't think the
// output depends on the input.  noescape is inlined and currently
// compiles down to zero instructions.
// USE CAREFULLY!
//
//go:nosplit
//go:nocheckptr
func noescape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	//nolint:all
	//goland:noinspection ALL
	return unsafe.Pointer(x ^ 0)
}

//go:nosplit
//go:nocheckptr
func noEscape[T any](p *T) *T {
	return (*T)(noescape(unsafe.Pointer(p)))
}

// ============================================================================
// Locker Utilities
// ============================================================================

// noCopy may be added to structs which must not be copied
// after the first use.
//
// See https://golang.org/issues/8005#issuecomment-190753527
// for details.
//
// Note that it must not be embedded, due to the Lock and Unlock methods.
type noCopy struct{}

// Lock is a no-op used by -copylocks checker from `go vet`.
func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

func trySpin(spins *int) bool {
	if runtime_canSpin(*spins) {
		*spins++
		runtime_doSpin()
		return true
	}
	return false
}

// delay is the contention back-off shared by every lock in the package:
// CPU pause hints while spinning is worthwhile, then a short sleep.
func delay(spins *int) {
	if trySpin(spins) {
		return
	}
	*spins = 0
	// time.Sleep with non-zero duration (≈Millisecond level) works
	// effectively as backoff under high concurrency.
	// The 500µs duration is derived from Facebook/folly's implementation:
	// https://github.com/facebook/folly/blob/main/folly/synchronization/detail/Sleeper.h
	time.Sleep(500 * time.Microsecond)
}

// nolint:all
//
//go:linkname runtime_canSpin sync.runtime_canSpin
//goland:noinspection ALL
func runtime_canSpin(i int) bool

// nolint:all
//
//go:linkname runtime_doSpin sync.runtime_doSpin
//goland:noinspection ALL
func runtime_doSpin()

// ============================================================================
// Hash Utilities
// ============================================================================

// HashFunc is the function to hash a key of the map's key type.
type HashFunc func(ptr unsafe.Pointer, seed uintptr) uintptr

// Slot tags share the hash field of a slot. Hashes of real keys are reduced
// by reduceHash so they never take one of these values.
const (
	tagEmpty      uintptr = 0
	tagTombstone  uintptr = 1
	tagRelocating uintptr = 2
	reservedTags          = 3
)

// reduceHash moves hashes that collide with a slot tag to the top of the
// range.
//
//go:nosplit
func reduceHash(h uintptr) uintptr {
	if h < reservedTags {
		h -= reservedTags
	}
	return h
}

// mix64 is the murmur3 finalizer. Integer keys go through it so that
// strided keys (multiples of the capacity) do not pile up on one probe
// sequence.
//
//go:nosplit
func mix64(h uint64) uint64 {
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}

func defaultHasher[K comparable]() HashFunc {
	switch any(*new(K)).(type) {
	case uint, int, uintptr:
		return hashUintptr
	case uint64, int64:
		return hashUint64
	case uint32, int32:
		return hashUint32
	case uint16, int16:
		return hashUint16
	case uint8, int8:
		return hashUint8
	case string:
		return hashString
	default:
		// for named integer and string types
		kType := reflect.TypeFor[K]()
		if kType == nil {
			// Handle nil interface types
			return hashComparable[K]
		}
		switch kType.Kind() {
		case reflect.Uint, reflect.Int, reflect.Uintptr:
			return hashUintptr
		case reflect.Int64, reflect.Uint64:
			return hashUint64
		case reflect.Int32, reflect.Uint32:
			return hashUint32
		case reflect.Int16, reflect.Uint16:
			return hashUint16
		case reflect.Int8, reflect.Uint8:
			return hashUint8
		case reflect.String:
			return hashString
		default:
			return hashComparable[K]
		}
	}
}

//go:nosplit
func hashUintptr(ptr unsafe.Pointer, seed uintptr) uintptr {
	return uintptr(mix64(uint64(*(*uintptr)(ptr)) ^ uint64(seed)))
}

//go:nosplit
func hashUint64(ptr unsafe.Pointer, seed uintptr) uintptr {
	return uintptr(mix64(*(*uint64)(ptr) ^ uint64(seed)))
}

//go:nosplit
func hashUint32(ptr unsafe.Pointer, seed uintptr) uintptr {
	return uintptr(mix64(uint64(*(*uint32)(ptr)) ^ uint64(seed)))
}

//go:nosplit
func hashUint16(ptr unsafe.Pointer, seed uintptr) uintptr {
	return uintptr(mix64(uint64(*(*uint16)(ptr)) ^ uint64(seed)))
}

//go:nosplit
func hashUint8(ptr unsafe.Pointer, seed uintptr) uintptr {
	return uintptr(mix64(uint64(*(*uint8)(ptr)) ^ uint64(seed)))
}

// hashString seeds the digest itself, so keys colliding under one map's
// seed do not collide under another's.
func hashString(ptr unsafe.Pointer, seed uintptr) uintptr {
	var d xxhash.Digest
	d.ResetWithSeed(uint64(seed))
	_, _ = d.WriteString(*(*string)(ptr))
	return uintptr(d.Sum64())
}

var comparableSeed = maphash.MakeSeed()

type seededKey[K comparable] struct {
	seed uintptr
	key  K
}

func hashComparable[K comparable](ptr unsafe.Pointer, seed uintptr) uintptr {
	return uintptr(maphash.Comparable(comparableSeed, seededKey[K]{seed, *(*K)(ptr)}))
}
