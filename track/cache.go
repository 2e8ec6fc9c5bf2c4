package track

import (
	"github.com/joshuapare/safetynet/track/manager"
)

// RequestCache asks for addr to be placed in the fast cache. It reports false
// when the cache is locked, disabled or full.
func (t *Tracker) RequestCache(addr Addr) (bool, error) {
	id := t.enter()
	defer t.leave(id)
	_, h, err := t.lookup("request cache", addr)
	if err != nil {
		return false, err
	}
	return t.mgr.TryCachePut(h), nil
}

// ClearCache empties every fast-cache slot.
func (t *Tracker) ClearCache() { t.mgr.Clear() }

// EnableCache turns the fast cache on.
func (t *Tracker) EnableCache() { t.mgr.SetEnabled(true) }

// DisableCache turns the fast cache off; every lookup then scans the registry.
func (t *Tracker) DisableCache() { t.mgr.SetEnabled(false) }

// LockCache pauses cache insertions. Lookups still hit.
func (t *Tracker) LockCache() { t.mgr.SetLocked(true) }

// UnlockCache resumes cache insertions.
func (t *Tracker) UnlockCache() { t.mgr.SetLocked(false) }

// CacheSlots returns the occupied fast-cache slots.
func (t *Tracker) CacheSlots() []manager.SlotView { return t.mgr.Slots() }

// RunMaintenance runs the cache maintenance sweep now.
func (t *Tracker) RunMaintenance() { t.mgr.RunMaintenance() }

// SetAllocLimit sets the allocation ceiling in bytes; zero removes it.
func (t *Tracker) SetAllocLimit(limit uint64) { t.mgr.SetLimit(limit) }

// AllocLimit returns the allocation ceiling, zero when unlimited.
func (t *Tracker) AllocLimit() uint64 { return t.mgr.Limit() }

// SetFreeOnClose chooses whether Close releases blocks still tracked.
func (t *Tracker) SetFreeOnClose(enabled bool) {
	id := t.enter()
	defer t.leave(id)
	t.freeOnClose = enabled
}

// CacheState reports whether the fast cache is enabled and whether insertions
// are paused.
func (t *Tracker) CacheState() (enabled, locked bool) {
	return t.mgr.Enabled(), t.mgr.Locked()
}
