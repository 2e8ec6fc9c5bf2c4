// Package lockx provides the single lock that serializes all safetynet
// bookkeeping.
//
// Mutex remembers which goroutine holds it. A Lock call from the holder does
// not block; it increments a hold count that the matching Unlock calls unwind,
// so the lock is released only when the outermost holder lets go. This lets
// the registry and manager lock for themselves when called directly while a
// tracker operation that already holds the lock calls into them.
//
// Lock, TryLock and Unlock resolve the caller with gid.Current, which formats
// and parses a stack header on every call. Callers that already know their
// goroutine id use LockAs and UnlockAs to skip that lookup; the tracker does so
// for each outermost operation, leaving only nested registry and manager calls
// to pay for it.
package lockx

import (
	"sync"
	"sync/atomic"

	"github.com/joshuapare/safetynet/internal/gid"
)

// Mutex is a reentrant, owner-tracking mutual exclusion lock.
// The zero value is not usable; call New.
type Mutex struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner atomic.Uint64 // gid.ID of the holder, 0 when free
	depth int

	acquisitions atomic.Int64
	contended    atomic.Int64
}

// New returns an unlocked Mutex.
func New() *Mutex {
	m := &Mutex{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Lock blocks until the lock is free, then marks it held by the calling
// goroutine. A goroutine that already holds the lock returns immediately.
func (m *Mutex) Lock() {
	m.LockAs(gid.Current())
}

// LockAs is Lock for a caller whose goroutine id is already known.
// id must be the calling goroutine's own id.
func (m *Mutex) LockAs(id gid.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gid.ID(m.owner.Load()) == id {
		m.depth++
		return
	}
	if m.owner.Load() != 0 {
		m.contended.Add(1)
	}
	for m.owner.Load() != 0 {
		m.cond.Wait()
	}
	m.owner.Store(uint64(id))
	m.depth = 1
	m.acquisitions.Add(1)
}

// TryLock acquires the lock if it is free or already held by the caller.
// It never blocks.
func (m *Mutex) TryLock() bool {
	id := gid.Current()
	m.mu.Lock()
	defer m.mu.Unlock()
	switch gid.ID(m.owner.Load()) {
	case id:
		m.depth++
		return true
	case gid.None:
		m.owner.Store(uint64(id))
		m.depth = 1
		m.acquisitions.Add(1)
		return true
	default:
		return false
	}
}

// Unlock releases one hold. It panics if the caller does not hold the lock.
func (m *Mutex) Unlock() {
	m.UnlockAs(gid.Current())
}

// UnlockAs is Unlock for a caller whose goroutine id is already known.
func (m *Mutex) UnlockAs(id gid.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gid.ID(m.owner.Load()) != id {
		panic("lockx: unlock of mutex not held by caller")
	}
	m.depth--
	if m.depth > 0 {
		return
	}
	m.owner.Store(0)
	m.cond.Signal()
}

// Owner returns the goroutine currently holding the lock, or gid.None.
func (m *Mutex) Owner() gid.ID {
	return gid.ID(m.owner.Load())
}

// HeldByCaller reports whether the calling goroutine holds the lock.
func (m *Mutex) HeldByCaller() bool {
	return m.Owner() == gid.Current()
}

// Stats reports outermost acquisitions and how many of them had to wait.
func (m *Mutex) Stats() (acquisitions, contended int64) {
	return m.acquisitions.Load(), m.contended.Load()
}
