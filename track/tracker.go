package track

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/uber-go/tally"

	"github.com/joshuapare/safetynet/internal/gid"
	"github.com/joshuapare/safetynet/internal/lockx"
	"github.com/joshuapare/safetynet/pkg/types"
	"github.com/joshuapare/safetynet/track/crash"
	"github.com/joshuapare/safetynet/track/manager"
	"github.com/joshuapare/safetynet/track/provider"
	"github.com/joshuapare/safetynet/track/registry"
)

// Runtime debug flag for per-operation logging - controlled by SN_LOG_ALLOC env var.
var logAlloc = os.Getenv("SN_LOG_ALLOC") != ""

// Addr is the address of the first byte of a tracked block.
type Addr = registry.Addr

// AddrOf returns the address of buf's backing array, or 0 for a nil slice.
func AddrOf(buf []byte) Addr { return registry.AddrOf(buf) }

// Owner identifies the goroutine that allocated or registered a block.
type Owner = gid.ID

// NoOwner is the zero Owner; it never names a goroutine.
const NoOwner = gid.None

// CurrentOwner returns the calling goroutine's Owner, for use with
// ThreadUsage and for comparing against QueryOwner.
func CurrentOwner() Owner { return gid.Current() }

// Tracker tracks every block allocated or registered through it.
// Construct one with New; the zero value is not usable.
type Tracker struct {
	mu    *lockx.Mutex
	reg   *registry.Registry
	mgr   *manager.Manager
	crash *crash.Reporter
	prov  provider.Provider
	log   *slog.Logger
	scope tally.Scope

	// guarded by mu
	freeOnClose bool
	maintEvery  int
	calls       int

	lastErr *lastErrors
}

// New builds a Tracker. Construction order is registry, manager, then crash
// reporter; all three share one lock.
func New(opts ...Option) (*Tracker, error) {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("track: %w", err)
	}

	prov := s.prov
	if prov == nil {
		p, err := provider.New(s.cfg.Provider)
		if err != nil {
			return nil, fmt.Errorf("track: %w", err)
		}
		prov = p
	}

	t := &Tracker{
		mu:          lockx.New(),
		prov:        prov,
		log:         s.logger(),
		scope:       s.scope,
		freeOnClose: s.cfg.FreeOnClose,
		maintEvery:  s.cfg.MaintenanceEvery,
		lastErr:     newLastErrors(s.lastErrCap),
	}
	t.reg = registry.New(t.mu)
	t.reg.SetFatal(t.fatal)
	t.mgr = manager.New(t.reg, manager.WithMetrics(s.scope), manager.WithFatal(t.fatal))
	t.mgr.SetLimit(s.cfg.AllocLimit)
	t.mgr.SetEnabled(s.cfg.FastCache.Enabled)
	t.mgr.SetLocked(s.cfg.FastCache.Locked)

	t.crash = crash.New(t.reg, t.mgr, crash.Options{
		DumpCache:    s.cfg.Diagnostics.DumpCache,
		DumpRegistry: s.cfg.Diagnostics.DumpRegistry,
	})
	t.crash.SetOutput(s.crashOut)
	t.crash.SetExit(s.exit)
	if s.trap != nil {
		if err := t.crash.SetTrap(s.trap); err != nil {
			return nil, fmt.Errorf("track: %w", err)
		}
	}
	return t, nil
}

// fatal routes bookkeeping invariant violations from the registry and the
// manager to the crash reporter.
func (t *Tracker) fatal(code types.Code) bool {
	t.log.Error("fatal tracker condition", "code", code.Name())
	return t.crash.FatalAt(code, crash.Caller(1))
}

// Crash returns the tracker's crash reporter, for installing a trap.
func (t *Tracker) Crash() *crash.Reporter { return t.crash }

// maintain runs the cache maintenance sweep on every maintEvery-th call.
// Caller holds mu.
func (t *Tracker) maintain() {
	if t.maintEvery <= 0 {
		return
	}
	t.calls++
	if t.calls%t.maintEvery == 0 {
		t.mgr.RunMaintenance()
	}
}

// enter takes the tracker lock for one outermost operation and returns the
// caller's goroutine id, resolved once.
func (t *Tracker) enter() gid.ID {
	id := gid.Current()
	t.mu.LockAs(id)
	return id
}

func (t *Tracker) leave(id gid.ID) { t.mu.UnlockAs(id) }

// adopt pushes a record and charges its size. Caller holds mu.
func (t *Tracker) adopt(op string, addr Addr, data []byte, size uint64, adopted bool) (registry.Handle, error) {
	h, err := t.reg.Push(addr, data, size, gid.Current())
	if err != nil {
		return registry.Handle{}, t.failCause(op, types.CodeOf(err), err)
	}
	if adopted {
		b, _ := t.reg.Block(h)
		b.Adopted = true
	}
	t.mgr.Charge(size)
	t.scope.Gauge("tracked_blocks").Update(float64(t.reg.Len()))
	return h, nil
}

// -----------------------------------------------------------------------------
// Allocation
// -----------------------------------------------------------------------------

// Allocate returns size bytes from the provider and tracks them.
func (t *Tracker) Allocate(size int) ([]byte, error) {
	id := t.enter()
	defer t.leave(id)
	return t.allocate("allocate", size, func() ([]byte, error) { return t.prov.Provide(size) })
}

// Zeroed returns count*size zeroed bytes and tracks them.
func (t *Tracker) Zeroed(count, size int) ([]byte, error) {
	id := t.enter()
	defer t.leave(id)
	n, ok := provider.ZeroedSize(count, size)
	if !ok {
		return nil, t.fail("zeroed", types.ErrBadSize)
	}
	return t.allocate("zeroed", n, func() ([]byte, error) { return t.prov.Zeroed(count, size) })
}

// allocate checks the ceiling, calls provide and tracks the result.
// Caller holds mu.
func (t *Tracker) allocate(op string, size int, provide func() ([]byte, error)) ([]byte, error) {
	if size <= 0 {
		return nil, t.fail(op, types.ErrBadSize)
	}
	if !t.mgr.CanAllocate(uint64(size)) {
		t.scope.Counter("limit_hits").Inc(1)
		t.log.Warn("allocation limit hit", "size", size, "usage", t.mgr.Usage(), "limit", t.mgr.Limit())
		return nil, t.fail(op, types.ErrAllocLimitHit)
	}
	buf, err := provide()
	if err != nil {
		t.log.Warn("provider failed", "op", op, "size", size, "err", err)
		return nil, t.failCause(op, types.ErrBadAlloc, err)
	}
	addr := AddrOf(buf)
	if _, err := t.adopt(op, addr, buf, uint64(size), false); err != nil {
		_ = t.prov.Release(buf)
		return nil, err
	}
	t.scope.Counter("allocations").Inc(1)
	if logAlloc {
		t.log.Debug(op, "addr", addr, "size", size, "owner", gid.Current())
	}
	return buf, nil
}

// Reallocate resizes the tracked block buf to newSize bytes and returns the
// block to use from now on. A nil buf behaves like Allocate. On failure buf
// stays tracked and unchanged.
func (t *Tracker) Reallocate(buf []byte, newSize int) ([]byte, error) {
	id := t.enter()
	defer t.leave(id)

	const op = "reallocate"
	if buf == nil {
		return t.allocate(op, newSize, func() ([]byte, error) { return t.prov.Provide(newSize) })
	}
	if newSize <= 0 {
		return nil, t.fail(op, types.ErrBadSize)
	}
	addr := AddrOf(buf)
	h, ok := t.mgr.Find(addr)
	if !ok {
		return nil, t.fail(op, types.ErrNoAddrFound)
	}
	b, _ := t.reg.Block(h)

	oldSize, size := b.Size, uint64(newSize)
	if size > oldSize {
		if !t.mgr.CanAllocate(size - oldSize) {
			t.scope.Counter("limit_hits").Inc(1)
			t.log.Warn("allocation limit hit", "addr", addr, "grow", size-oldSize, "usage", t.mgr.Usage())
			return nil, t.fail(op, types.ErrAllocLimitHit)
		}
		t.mgr.Charge(size - oldSize)
	}

	var out []byte
	var err error
	if b.Adopted {
		// memory we never provided cannot be resized by the provider
		if out, err = t.prov.Provide(newSize); err == nil {
			copy(out, b.Data)
		}
	} else {
		out, err = t.prov.Resize(b.Data, newSize)
	}
	if err != nil {
		if size > oldSize {
			t.mgr.Credit(size - oldSize)
		}
		t.log.Warn("provider failed", "op", op, "addr", addr, "size", newSize, "err", err)
		return nil, t.failCause(op, types.ErrBadAlloc, err)
	}
	if size < oldSize {
		t.mgr.Credit(oldSize - size)
	}

	if newAddr := AddrOf(out); newAddr != addr {
		t.mgr.Invalidate(addr)
		b.Addr = newAddr
	}
	b.Data, b.Size, b.Adopted = out, size, false
	t.scope.Counter("reallocations").Inc(1)
	if logAlloc {
		t.log.Debug(op, "old", addr, "addr", b.Addr, "size", newSize, "owner", b.Owner)
	}
	return out, nil
}

// Deallocate stops tracking addr and gives its memory back to the provider.
// Registered blocks are only untracked. An untracked address yields
// types.WarnDoubleFree.
func (t *Tracker) Deallocate(addr Addr) error {
	id := t.enter()
	defer t.leave(id)

	const op = "deallocate"
	if addr == 0 {
		return t.fail(op, types.ErrNullPtr)
	}
	h, ok := t.mgr.Find(addr)
	if !ok {
		t.scope.Counter("double_frees").Inc(1)
		t.log.Warn("possible double free", "addr", addr, "owner", id)
		return t.fail(op, types.WarnDoubleFree)
	}
	b, _ := t.reg.Block(h)
	data, size, adopted := b.Data, b.Size, b.Adopted

	t.mgr.Invalidate(addr)
	t.mgr.Credit(size)
	t.reg.Remove(h)
	t.scope.Counter("deallocations").Inc(1)
	t.scope.Gauge("tracked_blocks").Update(float64(t.reg.Len()))
	if logAlloc {
		t.log.Debug(op, "addr", addr, "size", size, "owner", id)
	}

	if !adopted {
		if err := t.prov.Release(data); err != nil {
			t.log.Warn("provider release failed", "addr", addr, "err", err)
			return t.failCause(op, types.ErrMunmapFailed, err)
		}
	}
	return nil
}

// Free is Deallocate keyed on a slice returned by Allocate, Zeroed or
// Reallocate.
func (t *Tracker) Free(buf []byte) error {
	return t.Deallocate(AddrOf(buf))
}

// -----------------------------------------------------------------------------
// Registration
// -----------------------------------------------------------------------------

// Register tracks an address this tracker did not allocate, with no size.
// The call succeeds but leaves types.ErrNoSize in the last-error slot.
// Registering a tracked address only takes over its ownership.
func (t *Tracker) Register(addr Addr) error {
	id := t.enter()
	defer t.leave(id)
	t.maintain()

	const op = "register"
	if addr == 0 {
		return t.fail(op, types.ErrNullPtr)
	}
	if t.reown(addr) {
		return nil
	}
	if _, err := t.adopt(op, addr, nil, 0, true); err != nil {
		return err
	}
	t.scope.Counter("registrations").Inc(1)
	t.setLastError(types.ErrNoSize)
	return nil
}

// RegisterWithSize tracks buf, which this tracker did not allocate. Its
// length counts toward usage but is not checked against the ceiling.
func (t *Tracker) RegisterWithSize(buf []byte) error {
	id := t.enter()
	defer t.leave(id)
	t.maintain()

	const op = "register"
	if buf == nil {
		return t.fail(op, types.ErrNullPtr)
	}
	if len(buf) == 0 {
		return t.fail(op, types.ErrBadSize)
	}
	addr := AddrOf(buf)
	if t.reown(addr) {
		return nil
	}
	if _, err := t.adopt(op, addr, buf, uint64(len(buf)), true); err != nil {
		return err
	}
	t.scope.Counter("registrations").Inc(1)
	return nil
}

// reown hands an already tracked block to the calling goroutine.
// Caller holds mu.
func (t *Tracker) reown(addr Addr) bool {
	h, ok := t.reg.GetByPointer(addr)
	if !ok {
		return false
	}
	b, _ := t.reg.Block(h)
	b.Owner = gid.Current()
	return true
}

// -----------------------------------------------------------------------------
// Teardown
// -----------------------------------------------------------------------------

// Close tears the tracker down. With free-on-close enabled every block still
// tracked is released (registered blocks are only untracked) and the tracker
// is left empty; otherwise the remaining blocks are logged as leaks and stay
// tracked.
func (t *Tracker) Close() error {
	id := t.enter()
	defer t.leave(id)
	t.lastErr.reset()

	n := t.reg.Len()
	if n == 0 {
		return nil
	}
	if !t.freeOnClose {
		t.log.Warn("blocks still tracked at close", "blocks", n, "bytes", t.mgr.Usage())
		return nil
	}

	var errs []error
	t.reg.ForEach(func(_ registry.Handle, b *registry.Block, _ int) bool {
		if !b.Adopted {
			if err := t.prov.Release(b.Data); err != nil {
				errs = append(errs, fmt.Errorf("release %s: %w", b.Addr, err))
			}
		}
		return true
	})
	t.mgr.Clear()
	t.reg.Reset()
	t.mgr.Credit(t.mgr.Usage())
	t.scope.Gauge("tracked_blocks").Update(0)
	t.log.Info("released blocks at close", "blocks", n)

	if len(errs) > 0 {
		t.setLastError(types.ErrMunmapFailed)
		return fmt.Errorf("track: close: %w", errors.Join(errs...))
	}
	return nil
}
