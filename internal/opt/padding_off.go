//go:build !slotmap_enable_padding && (slotmap_disable_padding || amd64 || 386 || arm || mips || mipsle || wasm)

package opt

// CounterStripe_ is an advisory counter updated with atomic adds.
// Padding is disabled by default for amd64 and 32-bit architectures
// (386, arm, mips, mipsle, wasm), or by the slotmap_disable_padding tag.
type CounterStripe_ struct {
	C uintptr // Counter value, accessed atomically
}
