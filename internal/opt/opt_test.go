package opt

import (
	"testing"
	"unsafe"
)

func TestCacheLineSize(t *testing.T) {
	if CacheLineSize_ == 0 || CacheLineSize_&(CacheLineSize_-1) != 0 {
		t.Fatalf("cache line size %d is not a power of two", CacheLineSize_)
	}
}

func TestCounterStripeSize(t *testing.T) {
	size := unsafe.Sizeof(CounterStripe_{})
	word := unsafe.Sizeof(uintptr(0))
	if size != word && size%CacheLineSize_ != 0 {
		t.Fatalf("CounterStripe_ size=%d, want %d or a multiple of %d",
			size, word, CacheLineSize_)
	}
}
