package soak

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRally_Simple(t *testing.T) {
	const parties = 10
	r := newRally(parties)
	var count atomic.Int32
	var last atomic.Int32

	var wg sync.WaitGroup
	wg.Add(parties)
	for i := range parties {
		go func() {
			defer wg.Done()
			// Deliberately delay some to ensure not everyone arrives at once
			if i%2 == 0 {
				time.Sleep(10 * time.Millisecond)
			}
			count.Add(1)
			idx, err := r.meet(context.Background())
			if err != nil {
				t.Error(err)
			}
			if idx == parties-1 {
				last.Add(1)
			}
			// nobody leaves before everyone arrived
			if c := count.Load(); c != parties {
				t.Errorf("left the rally with %d arrivals", c)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, last.Load(), "exactly one caller trips the rally")
}

func TestRally_Reuse(t *testing.T) {
	const parties = 5
	const cycles = 50
	r := newRally(parties)

	var wg sync.WaitGroup
	wg.Add(parties)
	var arrivals atomic.Int32
	for range parties {
		go func() {
			defer wg.Done()
			for c := range cycles {
				arrivals.Add(1)
				if _, err := r.meet(context.Background()); err != nil {
					t.Error(err)
					return
				}
				if n := arrivals.Load(); n < int32((c+1)*parties) {
					t.Errorf("cycle %d: released after %d arrivals", c, n)
				}
				// second barrier keeps cycles from overlapping
				if _, err := r.meet(context.Background()); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, parties*cycles, arrivals.Load())
}

func TestRally_Canceled(t *testing.T) {
	r := newRally(2)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.meet(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRally_PanicsOnNoParties(t *testing.T) {
	require.Panics(t, func() { newRally(0) })
}
