package soak

import (
	"context"
	"sync"
)

// rally is a cyclic barrier for a fixed party of workers. Every phase
// starts with all workers meeting here, so they hit the map at the same
// moment instead of trickling in while the goroutines are scheduled.
type rally struct {
	parties int

	mu      sync.Mutex
	arrived int
	// closed when the current generation trips
	tripped chan struct{}
}

func newRally(parties int) *rally {
	if parties <= 0 {
		panic("soak: parties must be positive")
	}
	return &rally{parties: parties, tripped: make(chan struct{})}
}

// meet waits until parties callers have called meet in this generation,
// or until ctx is done.
//
// It returns the arrival index (0 to parties-1), where parties-1 indicates
// the caller was the last to arrive and released the others.
//
// The party size is fixed by newRally rather than passed on every call,
// and a caller that gives up on ctx still counts as arrived in its
// generation. After a cancellation the rally is only fit
// to be dropped, which is what the runner does: one rally per phase.
func (r *rally) meet(ctx context.Context) (int, error) {
	r.mu.Lock()
	idx := r.arrived
	if idx == r.parties-1 {
		close(r.tripped)
		r.tripped = make(chan struct{})
		r.arrived = 0
		r.mu.Unlock()
		return idx, nil
	}
	r.arrived++
	tripped := r.tripped
	r.mu.Unlock()

	select {
	case <-tripped:
		return idx, nil
	case <-ctx.Done():
		return idx, ctx.Err()
	}
}
