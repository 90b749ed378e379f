package slotmap

import (
	"runtime"
	"sync"
	"testing"
	"weak"
)

// TestConcurrentCacheMap tests Map in a scenario where it is used as
// the basis of a memory-efficient concurrent cache. Cleanups remove a
// reclaimed entry only if it still holds the weak pointer they were
// registered for, so a replacement stored in the meantime survives.
func TestConcurrentCacheMap(t *testing.T) {
	type dummy [32]byte

	var m Map[int, weak.Pointer[dummy]]

	type cleanupArg struct {
		key   int
		value weak.Pointer[dummy]
	}
	cleanup := func(arg cleanupArg) {
		_, _, _ = m.Compute(arg.key, func(e *Entry[int, weak.Pointer[dummy]]) {
			if e.Loaded() && e.Value() == arg.value {
				e.Delete()
			}
		})
	}
	get := func(key int) *dummy {
		var v *dummy
		var created weak.Pointer[dummy]
		_, _, err := m.Compute(key, func(e *Entry[int, weak.Pointer[dummy]]) {
			if e.Loaded() {
				if v = e.Value().Value(); v != nil {
					return
				}
			}
			// missing or reclaimed: install a fresh value
			v = new(dummy)
			created = weak.Make(v)
			e.Update(created)
		})
		if err != nil {
			t.Error(err)
			return nil
		}
		if created != (weak.Pointer[dummy]{}) {
			runtime.AddCleanup(v, cleanup, cleanupArg{key, created})
		}
		return v
	}

	N, P := scale(50_000), scale(2_500)
	if testing.CoverMode() != "" {
		N, P = 1_000, 100
	}

	var wg sync.WaitGroup
	wg.Add(N)
	for i := range N {
		go func() {
			defer wg.Done()
			a := get(i % P)
			b := get(i % P)
			if a != b {
				t.Errorf(
					"consecutive cache reads returned different values: a != b (%p vs %p)\n",
					a,
					b,
				)
			}
		}()
	}
	wg.Wait()
}
