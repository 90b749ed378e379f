package opt

import (
	"unsafe"

	"golang.org/x/sys/cpu"
)

// CacheLineSize_ is the padding unit of CounterStripe_, taken from
// golang.org/x/sys/cpu for the target architecture.
const CacheLineSize_ = unsafe.Sizeof(cpu.CacheLinePad{})
