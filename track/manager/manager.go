package manager

import (
	"fmt"
	"math"

	"github.com/uber-go/tally"

	"github.com/joshuapare/safetynet/internal/lockx"
	"github.com/joshuapare/safetynet/pkg/types"
	"github.com/joshuapare/safetynet/track/registry"
)

const (
	// CacheSlots is the fixed capacity of the fast cache.
	CacheSlots = 5

	// LowActivityWeight is the weight at or below which maintenance promotes a
	// record, and below which a cached occupant may be replaced.
	LowActivityWeight = 10

	// NoLimit disables the allocation ceiling.
	NoLimit = 0
)

type slot struct {
	key registry.Addr
	h   registry.Handle
}

func (s *slot) empty() bool { return s.h.IsZero() }

// SlotView is a copy of one occupied cache slot.
type SlotView struct {
	Index  int
	Key    registry.Addr
	Handle registry.Handle
	Block  registry.Block
}

// Manager owns the fast cache and the usage counters.
type Manager struct {
	mu    *lockx.Mutex
	reg   *registry.Registry
	fatal registry.FatalFunc
	scope tally.Scope

	slots     [CacheSlots]slot
	available int
	locked    bool
	enabled   bool

	usage uint64
	limit uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics reports cache and usage metrics to scope.
func WithMetrics(scope tally.Scope) Option {
	return func(m *Manager) {
		if scope != nil {
			m.scope = scope
		}
	}
}

// WithFatal routes cache invariant violations to fn.
func WithFatal(fn registry.FatalFunc) Option {
	return func(m *Manager) {
		if fn != nil {
			m.fatal = fn
		}
	}
}

// New returns a manager bound to reg and its mutex. It installs itself as the
// registry's evictor so removed records always leave the cache.
func New(reg *registry.Registry, opts ...Option) *Manager {
	m := &Manager{
		mu:        reg.Mutex(),
		reg:       reg,
		scope:     tally.NoopScope,
		fatal:     func(code types.Code) bool { panic(code) },
		available: CacheSlots,
		enabled:   true,
	}
	for _, opt := range opts {
		opt(m)
	}
	reg.SetEvictor(m.evict)
	return m
}

// -----------------------------------------------------------------------------
// Fast cache
// -----------------------------------------------------------------------------

// TryCacheHit returns the cached record for key and counts the hit.
func (m *Manager) TryCacheHit(key registry.Addr) (registry.Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enabled && key != 0 {
		for i := range m.slots {
			s := &m.slots[i]
			if s.empty() || s.key != key {
				continue
			}
			if b, ok := m.reg.Block(s.h); ok {
				b.Touch()
				m.scope.Counter("cache_hits").Inc(1)
				return s.h, true
			}
		}
	}
	m.scope.Counter("cache_misses").Inc(1)
	return registry.Handle{}, false
}

// TryCacheHitByTag returns the cached record carrying tag and counts the hit.
func (m *Manager) TryCacheHitByTag(tag uint16) (registry.Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enabled && tag != 0 {
		for i := range m.slots {
			s := &m.slots[i]
			if s.empty() {
				continue
			}
			if b, ok := m.reg.Block(s.h); ok && b.Tag == tag {
				b.Touch()
				m.scope.Counter("cache_hits").Inc(1)
				return s.h, true
			}
		}
	}
	m.scope.Counter("cache_misses").Inc(1)
	return registry.Handle{}, false
}

// Find looks key up in the cache first and falls back to the registry walk.
func (m *Manager) Find(key registry.Addr) (registry.Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.TryCacheHit(key); ok {
		return h, true
	}
	return m.reg.GetByPointer(key)
}

// FindByTag is Find keyed on the block tag.
func (m *Manager) FindByTag(tag uint16) (registry.Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.TryCacheHitByTag(tag); ok {
		return h, true
	}
	return m.reg.GetByTag(tag)
}

// TryCachePut places the record h names into the first empty slot. It fails
// when the cache is locked, disabled or full. A record that is already cached
// is reported as placed without claiming a second slot.
func (m *Manager) TryCachePut(h registry.Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked || !m.enabled || m.available == 0 {
		return false
	}
	b, ok := m.reg.Block(h)
	if !ok {
		return false
	}
	if b.Cached {
		return true
	}
	for i := range m.slots {
		s := &m.slots[i]
		if !s.empty() {
			continue
		}
		s.key, s.h = b.Addr, h
		b.Cached = true
		m.available--
		m.scope.Counter("cache_puts").Inc(1)
		return true
	}
	// available said a slot was free but none was
	m.fatal(types.ErrSysFail)
	return false
}

// Invalidate clears every slot keyed by key.
func (m *Manager) Invalidate(key registry.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key == 0 {
		return
	}
	for i := range m.slots {
		if s := &m.slots[i]; !s.empty() && s.key == key {
			m.release(s)
		}
	}
}

// Clear empties every slot. Cleared records are marked not cached.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.slots {
		if s := &m.slots[i]; !s.empty() {
			m.release(s)
		}
	}
}

func (m *Manager) release(s *slot) {
	if b, ok := m.reg.Block(s.h); ok {
		b.Cached = false
	}
	*s = slot{}
	m.available++
}

// evict is the registry hook run before a record is destroyed.
func (m *Manager) evict(h registry.Handle, b *registry.Block) {
	for i := range m.slots {
		s := &m.slots[i]
		if s.empty() || s.h != h {
			continue
		}
		*s = slot{}
		m.available++
		m.scope.Counter("cache_evictions").Inc(1)
	}
	b.Cached = false
}

// RunMaintenance sweeps the registry and promotes low-activity records into
// the cache. It does nothing while the cache is locked or disabled.
func (m *Manager) RunMaintenance() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked || !m.enabled {
		return
	}
	m.reg.ForEach(func(h registry.Handle, b *registry.Block, _ int) bool {
		if b.Weight > LowActivityWeight {
			return true
		}
		b.Weight = 0
		if !b.Cached {
			m.place(h, b)
		}
		return true
	})
	m.scope.Counter("maintenance_runs").Inc(1)
}

func (m *Manager) place(h registry.Handle, b *registry.Block) {
	for i := range m.slots {
		if s := &m.slots[i]; s.empty() {
			s.key, s.h = b.Addr, h
			b.Cached = true
			m.available--
			return
		}
	}
	for i := range m.slots {
		s := &m.slots[i]
		occ, ok := m.reg.Block(s.h)
		if ok && occ.Weight >= LowActivityWeight {
			continue
		}
		if ok {
			occ.Cached = false
		}
		s.key, s.h = b.Addr, h
		b.Cached = true
		m.scope.Counter("cache_evictions").Inc(1)
		return
	}
}

// SetLocked pauses (true) or resumes (false) cache insertions.
func (m *Manager) SetLocked(locked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = locked
}

// Locked reports whether insertions are paused.
func (m *Manager) Locked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked
}

// SetEnabled switches the cache on or off.
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

// Enabled reports whether the cache is on.
func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Available returns the number of empty slots.
func (m *Manager) Available() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// Slots returns copies of the occupied slots in slot order.
func (m *Manager) Slots() []SlotView {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SlotView
	for i := range m.slots {
		s := &m.slots[i]
		if s.empty() {
			continue
		}
		b, _ := m.reg.Snapshot(s.h)
		out = append(out, SlotView{Index: i, Key: s.key, Handle: s.h, Block: b})
	}
	return out
}

// CheckCoherence verifies that every cached flag matches exactly one slot and
// that the free-slot counter matches the slot array.
func (m *Manager) CheckCoherence() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	refs := make(map[registry.Handle]int, CacheSlots)
	empty := 0
	for i := range m.slots {
		s := &m.slots[i]
		if s.empty() {
			empty++
			continue
		}
		b, ok := m.reg.Block(s.h)
		if !ok {
			return fmt.Errorf("manager: slot %d references a removed record", i)
		}
		if b.Addr != s.key {
			return fmt.Errorf("manager: slot %d key %s does not match record %s", i, s.key, b.Addr)
		}
		refs[s.h]++
	}
	if empty != m.available {
		return fmt.Errorf("manager: %d empty slots but available=%d", empty, m.available)
	}

	var err error
	m.reg.ForEach(func(h registry.Handle, b *registry.Block, _ int) bool {
		n := refs[h]
		if n > 1 || b.Cached != (n == 1) {
			err = fmt.Errorf("manager: record %s cached=%t referenced by %d slots", b.Addr, b.Cached, n)
			return false
		}
		return true
	})
	return err
}

// -----------------------------------------------------------------------------
// Usage accounting
// -----------------------------------------------------------------------------

// Usage returns the sum of live tracked sizes.
func (m *Manager) Usage() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

// Limit returns the allocation ceiling, NoLimit when unset.
func (m *Manager) Limit() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limit
}

// SetLimit sets the allocation ceiling. NoLimit removes it.
func (m *Manager) SetLimit(limit uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limit = limit
}

// CanAllocate reports whether size more bytes stay below the ceiling.
func (m *Manager) CanAllocate(size uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limit == NoLimit {
		return true
	}
	if size > math.MaxUint64-m.usage {
		return false
	}
	return m.usage+size < m.limit
}

// Charge adds size bytes to the usage counter.
func (m *Manager) Charge(size uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage += size
	m.scope.Gauge("memory_usage").Update(float64(m.usage))
}

// Credit removes size bytes from the usage counter.
func (m *Manager) Credit(size uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size > m.usage {
		m.fatal(types.ErrSysFail)
		size = m.usage
	}
	m.usage -= size
	m.scope.Gauge("memory_usage").Update(float64(m.usage))
}
