package slotmap

// Entry is the view of one key handed to a Compute callback. The callback
// inspects it and records at most one decision: Update or Delete. Without
// either, the entry is left as it was.
//
// The slot of the key stays locked for the whole callback, so an Entry is
// only valid inside it. Do not keep it, and do not use it from another
// goroutine.
type Entry[K comparable, V any] struct {
	key    K
	value  V
	loaded bool
	op     computeOp
}

// Key returns the key being computed.
func (e *Entry[K, V]) Key() K {
	return e.key
}

// Value returns the current value, or the value passed to the last Update.
// It is the zero value if the key is absent.
func (e *Entry[K, V]) Value() V {
	return e.value
}

// Loaded reports whether the key was present when the callback started.
func (e *Entry[K, V]) Loaded() bool {
	return e.loaded
}

// Update stores value for the key, inserting the key if it is absent.
func (e *Entry[K, V]) Update(value V) {
	e.value = value
	e.op = updateOp
}

// Delete removes the key if it is present.
func (e *Entry[K, V]) Delete() {
	e.value = *new(V)
	e.op = deleteOp
}
