package slotmap

import (
	"sync"
	"testing"
)

func TestSpinLock(t *testing.T) {
	var l SpinLock

	var count int
	var wg sync.WaitGroup
	const N = 1000

	wg.Add(N)
	for range N {
		go func() {
			defer wg.Done()
			l.Lock()
			count++
			l.Unlock()
		}()
	}
	wg.Wait()

	if count != N {
		t.Errorf("expected count %d, got %d", N, count)
	}
	if l.locked() {
		t.Errorf("lock still held after all goroutines finished")
	}
}

func TestSpinLock_TryLock(t *testing.T) {
	var l SpinLock
	if !l.TryLock() {
		t.Fatal("TryLock on a free lock failed")
	}
	if l.TryLock() {
		t.Fatal("TryLock on a held lock succeeded")
	}
	l.Unlock()
	if !l.TryLock() {
		t.Fatal("TryLock after Unlock failed")
	}
	l.Unlock()
}

func TestSpinLock_UnlockOfUnlocked(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on unlock of unlocked SpinLock")
		}
	}()
	var l SpinLock
	l.Unlock()
}
