//go:build slotmap_enable_padding || (!slotmap_disable_padding && !(amd64 || 386 || arm || mips || mipsle || wasm))

package opt

import (
	"unsafe"
)

// CounterStripe_ is an advisory counter updated with atomic adds, padded to
// a full cache line so that neighbouring counters never share one.
//
// Enabled for: arm64, s390x, ppc64, ppc64le, riscv64, loong64, mips64,
// mips64le, etc. Use: go build -tags=slotmap_enable_padding to force it.
type CounterStripe_ struct {
	C uintptr // Counter value, accessed atomically
	_ [(CacheLineSize_ - unsafe.Sizeof(struct {
		C uintptr
	}{})%CacheLineSize_) % CacheLineSize_]byte
}
