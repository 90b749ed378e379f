package slotmap

import (
	"iter"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/llxisdsh/pb"
	"github.com/pkg/errors"

	"github.com/llxisdsh/slotmap/internal/opt"
)

// Map is a concurrent hash map built on open addressing with one spin lock
// per slot.
//
// Core properties:
//   - No global lock: an operation holds at most one slot lock at a time
//   - Triangular probing over a power-of-two table, tombstones on removal
//   - Growth freezes the table briefly by locking every slot in order
//   - Superseded tables are reclaimed once no operation still uses them
//   - Zero-value ready with lazy initialization
//
// Usage recommendations:
//   - Direct declaration: var m Map[string, int]
//   - Pre-allocate capacity: NewMap(WithCapacity(1000))
//
// Notes:
//   - Map must not be copied after first use.
//   - A goroutine holding a Guard, or running inside a Compute callback,
//     must not call other methods of the same Map. Doing so can deadlock.
//   - Operations must not be in flight when the last reference to the Map
//     is dropped.
type Map[K comparable, V any] struct {
	_        noCopy
	table    atomic.Pointer[table[K, V]]
	resizeMu TicketLock
	seed     uintptr
	keyHash  HashFunc // WithKeyHasher
	newValue func() V // WithValueFactory
	minLen   int      // WithCapacity
	maxLen   int      // WithMaxCapacity
	logger   *slog.Logger

	// released slot arrays by capacity, guarded by resizeMu
	freeSlots pb.MapOf[int, *sync.Pool]

	growths        atomic.Uint32
	compactions    atomic.Uint32
	clears         atomic.Uint32
	retiredTables  atomic.Int64
	releasedTables atomic.Uint64
	reusedSlots    atomic.Uint64
}

// NewMap creates a new Map instance. Direct initialization is also
// supported.
//
// Parameters:
//   - options: configuration options (WithCapacity, WithKeyHasher, etc.)
func NewMap[K comparable, V any](
	options ...func(*MapConfig),
) *Map[K, V] {
	m := &Map[K, V]{}
	m.withOptions(options...)
	return m
}

// withOptions initializes the Map from option functions.
//
// Configuration Priority (highest to lowest):
//   - Explicit With* functions (WithKeyHasher, WithComparableHasher)
//   - Interface implementations (IHashFunc)
//   - Default built-in implementations (defaultHasher) - fallback
//
// Notes:
//   - This function is not thread-safe and should only be called before Map
//     is used
func (m *Map[K, V]) withOptions(
	options ...func(*MapConfig),
) {
	var cfg MapConfig

	// parse options
	for _, o := range options {
		o(noEscape(&cfg))
	}
	m.init(noEscape(&cfg))
}

func (m *Map[K, V]) init(
	cfg *MapConfig,
) *table[K, V] {
	// parse interface
	if cfg.keyHash == nil {
		cfg.keyHash = parseKeyInterface[K]()
	}
	// perform initialization
	m.keyHash = defaultHasher[K]()
	if cfg.keyHash != nil {
		m.keyHash = cfg.keyHash
	}
	if cfg.newValue != nil {
		newValue, ok := cfg.newValue.(func() V)
		if !ok {
			panic("slotmap: WithValueFactory does not produce the map value type")
		}
		m.newValue = newValue
	}
	m.logger = cfg.logger
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}

	m.seed = uintptr(rand.Uint64())
	m.maxLen = maxCapacity
	if cfg.maxCapacity > 0 {
		m.maxLen = max(nextPowOf2(min(cfg.maxCapacity, maxCapacity)), minCapacity)
	}
	m.minLen = min(calcCapacity(cfg.capacity), m.maxLen)

	t := m.allocTable(m.minLen)
	m.table.Store(t)
	return t
}

// slowInit may be called concurrently by multiple goroutines, so it runs
// under the resize lock.
//
//go:noinline
func (m *Map[K, V]) slowInit() *table[K, V] {
	m.resizeMu.Lock()
	defer m.resizeMu.Unlock()
	if t := m.table.Load(); t != nil {
		return t
	}
	var cfg MapConfig
	return m.init(&cfg)
}

func (m *Map[K, V]) ensureInit() {
	if m.table.Load() == nil {
		m.slowInit()
	}
}

func (m *Map[K, V]) hash(key *K) uintptr {
	return reduceHash(m.keyHash(noescape(unsafe.Pointer(key)), m.seed))
}

// lockOrInsert returns the locked slot of key, inserting the key with a
// default value first if it is absent. The table stays pinned; the caller
// releases both the slot lock and the pin.
func (m *Map[K, V]) lockOrInsert(
	key *K,
	hash uintptr,
) (*table[K, V], *opt.CounterStripe_, *slot[K, V], error) {
	for {
		t, p := m.pin(hash)
		s, res := t.locate(hash, key)
		switch res {
		case probeFound:
			return t, p, s, nil
		case probeEmpty:
			if t.reserve() {
				value := m.defaultValue(t, p, s)
				s.hash = hash
				s.key = *key
				s.value = value
				return t, p, s, nil
			}
			s.lock.Unlock()
			m.unpin(t, p)
			if err := m.grow(t, 1, false); err != nil {
				return nil, nil, nil, err
			}
		case probeExhausted:
			m.unpin(t, p)
			if err := m.grow(t, 1, true); err != nil {
				return nil, nil, nil, err
			}
		default:
			m.unpin(t, p)
		}
	}
}

// defaultValue runs the value factory for a slot that is locked and
// reserved but still Empty. If the factory panics, the reservation, the
// slot lock and the pin are released before the panic propagates, and the
// slot stays Empty.
func (m *Map[K, V]) defaultValue(
	t *table[K, V],
	p *opt.CounterStripe_,
	s *slot[K, V],
) (value V) {
	if m.newValue == nil {
		return
	}
	done := false
	defer func() {
		if !done {
			t.addLive(-1)
			s.lock.Unlock()
			m.unpin(t, p)
		}
	}()
	value = m.newValue()
	done = true
	return
}

// Get returns a copy of the value stored for key. If the key is absent, it
// is inserted first with the default value (see WithValueFactory).
//
// Get fails only with ErrCapacityExceeded, when the insertion would need a
// table larger than WithMaxCapacity allows.
func (m *Map[K, V]) Get(key K) (V, error) {
	m.ensureInit()
	hash := m.hash(&key)
	t, p, s, err := m.lockOrInsert(&key, hash)
	if err != nil {
		return *new(V), err
	}
	value := s.value
	s.lock.Unlock()
	m.unpin(t, p)
	return value, nil
}

// Lock returns exclusive access to the value of key, inserting the key with
// the default value first if it is absent. The caller must release the
// returned Guard with Unlock.
//
// Usage:
//
//	g, err := m.Lock("hits")
//	if err != nil {
//		return err
//	}
//	*g.Value()++
//	g.Unlock()
func (m *Map[K, V]) Lock(key K) (*Guard[K, V], error) {
	m.ensureInit()
	hash := m.hash(&key)
	t, p, s, err := m.lockOrInsert(&key, hash)
	if err != nil {
		return nil, err
	}
	return &Guard[K, V]{m: m, t: t, pin: p, s: s}, nil
}

// Update runs fn on the value of key while holding the key's lock,
// inserting the key with the default value first if it is absent. The lock
// is released when fn returns or panics.
func (m *Map[K, V]) Update(key K, fn func(value *V)) error {
	g, err := m.Lock(key)
	if err != nil {
		return err
	}
	defer g.Unlock()
	fn(g.Value())
	return nil
}

// Store sets the value for key, inserting the key if it is absent.
func (m *Map[K, V]) Store(key K, value V) error {
	return m.Update(key, func(v *V) {
		*v = value
	})
}

// Load returns the value stored for key, if any. It never inserts.
func (m *Map[K, V]) Load(key K) (value V, ok bool) {
	if m.table.Load() == nil {
		return
	}
	hash := m.hash(&key)
	for {
		t, p := m.pin(hash)
		s, res := t.locate(hash, &key)
		switch res {
		case probeFound:
			value, ok = s.value, true
			s.lock.Unlock()
		case probeEmpty:
			s.lock.Unlock()
		case probeRelocated:
			m.unpin(t, p)
			continue
		}
		m.unpin(t, p)
		return
	}
}

// Contains reports whether key is present. It never inserts.
func (m *Map[K, V]) Contains(key K) bool {
	_, ok := m.Load(key)
	return ok
}

// Remove deletes key and reports whether it was present. The slot keeps a
// tombstone until the next migration.
func (m *Map[K, V]) Remove(key K) bool {
	if m.table.Load() == nil {
		return false
	}
	hash := m.hash(&key)
	for {
		t, p := m.pin(hash)
		s, res := t.locate(hash, &key)
		switch res {
		case probeFound:
			s.hash = tagTombstone
			s.clearPayload()
			t.addTombstones(1)
			t.addLive(-1)
			s.lock.Unlock()
			m.unpin(t, p)
			return true
		case probeEmpty:
			s.lock.Unlock()
		case probeRelocated:
			m.unpin(t, p)
			continue
		}
		m.unpin(t, p)
		return false
	}
}

// Compute performs a compute-style, atomic update for the given key.
//
// Concurrency model:
//   - fn runs while the key's slot lock is held; keep it short and do not
//     call other methods of the Map from it.
//   - If the key is absent, room for it is reserved before fn runs, growing
//     the table if it is at its load threshold. The reservation is dropped
//     if fn does not insert.
//   - If fn panics, the slot lock is released and the map is left as it
//     was before the call.
//
// Callback signature:
//
//	fn(e *Entry[K, V])
//
//	  - Use e.Loaded() and e.Value() to inspect the current state
//	  - Use e.Update(newV) to upsert; Use e.Delete() to remove
//	  - Do nothing to leave the entry unchanged
//
// Returns:
//   - value: the value stored after fn, or zero value if none
//   - ok: whether the key is present after fn
//   - err: ErrCapacityExceeded if the table could not grow
func (m *Map[K, V]) Compute(
	key K,
	fn func(e *Entry[K, V]),
) (value V, ok bool, err error) {
	m.ensureInit()
	hash := m.hash(&key)
	for {
		t, p := m.pin(hash)
		s, res := t.locate(hash, &key)
		switch res {
		case probeRelocated:
			m.unpin(t, p)
			continue
		case probeExhausted:
			m.unpin(t, p)
			if err = m.grow(t, 1, true); err != nil {
				return
			}
			continue
		case probeEmpty:
			if !t.reserve() {
				s.lock.Unlock()
				m.unpin(t, p)
				if err = m.grow(t, 1, false); err != nil {
					return
				}
				continue
			}
		}
		value, ok = m.computeLocked(t, p, s, hash, &key, res == probeFound, fn)
		return
	}
}

func (m *Map[K, V]) computeLocked(
	t *table[K, V],
	p *opt.CounterStripe_,
	s *slot[K, V],
	hash uintptr,
	key *K,
	loaded bool,
	fn func(e *Entry[K, V]),
) (V, bool) {
	done := false
	defer func() {
		if !done && !loaded {
			// fn panicked: drop the reservation taken for the absent key
			t.addLive(-1)
		}
		s.lock.Unlock()
		m.unpin(t, p)
	}()

	e := &Entry[K, V]{key: *key, loaded: loaded}
	if loaded {
		e.value = s.value
	}
	fn(e)
	done = true

	switch e.op {
	case updateOp:
		if !loaded {
			s.hash = hash
			s.key = *key
		}
		s.value = e.value
		return e.value, true
	case deleteOp:
		if loaded {
			s.hash = tagTombstone
			s.clearPayload()
			t.addTombstones(1)
		}
		t.addLive(-1)
		return *new(V), false
	default:
		if !loaded {
			t.addLive(-1)
		}
		return e.value, loaded
	}
}

// Size returns the number of entries according to the advisory live
// counter. Under concurrent modification it may lag behind.
func (m *Map[K, V]) Size() int {
	t := m.table.Load()
	if t == nil {
		return 0
	}
	return t.liveCount()
}

// Range calls yield for each key and value present in the map. If yield
// returns false, Range stops the iteration.
//
// Each pair is copied under its slot lock and yield runs without any lock
// held, so yield may call methods of the Map. Range does not correspond to
// a consistent snapshot: if the table is migrated during iteration, Range
// restarts on the new table and may yield a key more than once.
func (m *Map[K, V]) Range(yield func(key K, value V) bool) {
	if m.table.Load() == nil {
		return
	}
	t, p := m.pin(0)
	defer func() {
		m.unpin(t, p)
	}()

	for i := 0; i < len(t.slots); i++ {
		s := &t.slots[i]
		s.lock.Lock()
		if s.hash == tagRelocating {
			s.lock.Unlock()
			m.unpin(t, p)
			t, p = m.pin(0)
			i = -1
			continue
		}
		if !s.occupied() {
			s.lock.Unlock()
			continue
		}
		k, v := s.key, s.value
		s.lock.Unlock()
		if !yield(k, v) {
			return
		}
	}
}

// All compatible with `sync.Map`.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return m.Range
}

// ToMap collect all entries and return a map[K]V
func (m *Map[K, V]) ToMap() map[K]V {
	a := make(map[K]V, m.Size())
	m.Range(func(k K, v V) bool {
		a[k] = v
		return true
	})
	return a
}

// Grow prepares the map for n more entries, migrating to a larger table
// now instead of during later insertions.
// It fails with ErrCapacityExceeded, leaving the map unchanged, if the
// entries would not fit under WithMaxCapacity.
func (m *Map[K, V]) Grow(n int) error {
	if n <= 0 {
		return nil
	}
	m.ensureInit()
	m.resizeMu.Lock()
	defer m.resizeMu.Unlock()
	t := m.table.Load()
	if n > m.maxLen {
		return errors.Wrapf(ErrCapacityExceeded,
			"%d more entries do not fit in %d slots", n, m.maxLen)
	}
	if !t.overloaded(n) {
		return nil
	}
	return m.migrate(t, n, migrateGrow)
}

// Clear removes all entries and resets the table to its initial capacity.
func (m *Map[K, V]) Clear() {
	if m.table.Load() == nil {
		return
	}
	m.resizeMu.Lock()
	defer m.resizeMu.Unlock()
	_ = m.migrate(m.table.Load(), 0, migrateClear)
}
