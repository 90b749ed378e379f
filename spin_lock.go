package slotmap

import "sync/atomic"

const spinLockMask = uint32(1)

// SpinLock is a minimal mutual-exclusion lock for very short critical
// sections, such as inspecting or rewriting a single map slot.
//
// Lock spins on a single flag word and falls back to a short sleep once
// spinning stops paying off. It is neither reentrant, fair, nor timed: a
// holder that never unlocks starves every other goroutine contending for it.
// Never run arbitrary user code while holding one.
//
// The zero value is an unlocked SpinLock.
type SpinLock struct {
	_     noCopy
	state uint32
}

// Lock acquires the lock, spinning until it becomes available.
func (l *SpinLock) Lock() {
	if atomic.CompareAndSwapUint32(&l.state, 0, spinLockMask) {
		return
	}
	l.slowLock()
}

func (l *SpinLock) slowLock() {
	var spins int
	for !l.TryLock() {
		delay(&spins)
	}
}

// TryLock acquires the lock if it is free and reports whether it did.
//
//go:nosplit
func (l *SpinLock) TryLock() bool {
	return atomic.LoadUint32(&l.state)&spinLockMask == 0 &&
		atomic.CompareAndSwapUint32(&l.state, 0, spinLockMask)
}

// Unlock releases the lock. Unlocking a SpinLock that is not locked is a
// run-time error.
func (l *SpinLock) Unlock() {
	if atomic.SwapUint32(&l.state, 0)&spinLockMask == 0 {
		panic("slotmap: unlock of unlocked SpinLock")
	}
}

// locked reports whether the lock is currently held by anyone.
//
//go:nosplit
func (l *SpinLock) locked() bool {
	return atomic.LoadUint32(&l.state)&spinLockMask != 0
}
