package slotmap

import (
	"sync"
	"testing"
)

func TestTicketLock(t *testing.T) {
	var m TicketLock
	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	var counter int64
	for range n {
		go func() {
			defer wg.Done()
			m.Lock()
			counter++
			m.Unlock()
		}()
	}
	wg.Wait()
	if counter != n {
		t.Fatalf("counter = %d, want %d", counter, n)
	}
	if w := m.Waiters(); w != 0 {
		t.Fatalf("Waiters = %d, want 0", w)
	}
}

func TestTicketLock_TryLock(t *testing.T) {
	var m TicketLock
	if !m.TryLock() {
		t.Fatal("TryLock on a free lock failed")
	}
	if m.TryLock() {
		t.Fatal("TryLock on a held lock succeeded")
	}
	if w := m.Waiters(); w != 1 {
		t.Fatalf("Waiters = %d, want 1", w)
	}
	m.Unlock()
	if !m.TryLock() {
		t.Fatal("TryLock after Unlock failed")
	}
	m.Unlock()
}
