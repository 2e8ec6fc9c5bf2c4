package manager

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/joshuapare/safetynet/internal/gid"
	"github.com/joshuapare/safetynet/internal/lockx"
	"github.com/joshuapare/safetynet/pkg/types"
	"github.com/joshuapare/safetynet/track/registry"
)

// --- helpers ---

func setup(t *testing.T, n int, opts ...Option) (*Manager, *registry.Registry, []registry.Handle) {
	t.Helper()
	reg := registry.New(lockx.New())
	m := New(reg, opts...)
	hs := make([]registry.Handle, n)
	for i := range n {
		h, err := reg.Push(registry.Addr(0x1000+i*0x10), nil, 8, gid.Current())
		require.NoError(t, err)
		hs[i] = h
	}
	return m, reg, hs
}

func cached(t *testing.T, reg *registry.Registry, h registry.Handle) bool {
	t.Helper()
	b, ok := reg.Snapshot(h)
	require.True(t, ok)
	return b.Cached
}

func slotKeys(m *Manager) []registry.Addr {
	var keys []registry.Addr
	for _, s := range m.Slots() {
		keys = append(keys, s.Key)
	}
	return keys
}

// --- put / hit ---

func TestManager_PutAndHit(t *testing.T) {
	m, reg, hs := setup(t, 2)

	require.True(t, m.TryCachePut(hs[0]))
	require.True(t, cached(t, reg, hs[0]))
	require.Equal(t, CacheSlots-1, m.Available())

	h, ok := m.TryCacheHit(0x1000)
	require.True(t, ok)
	require.Equal(t, hs[0], h)

	b, _ := reg.Snapshot(hs[0])
	require.Equal(t, uint8(1), b.Weight, "a hit counts toward weight")

	_, ok = m.TryCacheHit(0x1010)
	require.False(t, ok, "uncached records miss without touching the registry")
	b, _ = reg.Snapshot(hs[1])
	require.Zero(t, b.Weight)
	require.NoError(t, m.CheckCoherence())
}

func TestManager_PutTwiceUsesOneSlot(t *testing.T) {
	m, _, hs := setup(t, 1)
	require.True(t, m.TryCachePut(hs[0]))
	require.True(t, m.TryCachePut(hs[0]))
	require.Equal(t, CacheSlots-1, m.Available())
	require.NoError(t, m.CheckCoherence())
}

func TestManager_PutFailsWhenFull(t *testing.T) {
	m, reg, hs := setup(t, CacheSlots+1)
	for _, h := range hs[:CacheSlots] {
		require.True(t, m.TryCachePut(h))
	}
	require.Zero(t, m.Available())
	require.False(t, m.TryCachePut(hs[CacheSlots]))
	require.False(t, cached(t, reg, hs[CacheSlots]))
	require.NoError(t, m.CheckCoherence())
}

func TestManager_PutFailsWhenLockedOrDisabled(t *testing.T) {
	m, _, hs := setup(t, 1)

	m.SetLocked(true)
	require.False(t, m.TryCachePut(hs[0]))
	m.SetLocked(false)

	m.SetEnabled(false)
	require.False(t, m.TryCachePut(hs[0]))
	m.SetEnabled(true)

	require.True(t, m.TryCachePut(hs[0]))
}

func TestManager_LockDoesNotBlockLookups(t *testing.T) {
	m, _, hs := setup(t, 1)
	require.True(t, m.TryCachePut(hs[0]))
	m.SetLocked(true)
	_, ok := m.TryCacheHit(0x1000)
	require.True(t, ok)
}

func TestManager_DisabledAlwaysMisses(t *testing.T) {
	m, _, hs := setup(t, 1)
	require.True(t, m.TryCachePut(hs[0]))
	m.SetEnabled(false)
	_, ok := m.TryCacheHit(0x1000)
	require.False(t, ok)

	h, ok := m.Find(0x1000)
	require.True(t, ok, "Find falls back to the registry")
	require.Equal(t, hs[0], h)
}

func TestManager_HitByTag(t *testing.T) {
	m, reg, hs := setup(t, 2)
	b, _ := reg.Block(hs[1])
	b.Tag = 77
	require.True(t, m.TryCachePut(hs[1]))

	h, ok := m.TryCacheHitByTag(77)
	require.True(t, ok)
	require.Equal(t, hs[1], h)

	_, ok = m.TryCacheHitByTag(78)
	require.False(t, ok)

	h, ok = m.FindByTag(77)
	require.True(t, ok)
	require.Equal(t, hs[1], h)
}

func TestManager_PutInvariantViolationIsFatal(t *testing.T) {
	var got types.Code
	m, _, hs := setup(t, CacheSlots+1, WithFatal(func(code types.Code) bool {
		got = code
		return true
	}))
	for _, h := range hs[:CacheSlots] {
		require.True(t, m.TryCachePut(h))
	}
	m.available = 1 // corrupt the free-slot counter

	require.False(t, m.TryCachePut(hs[CacheSlots]))
	require.Equal(t, types.ErrSysFail, got)
}

// --- invalidation ---

func TestManager_InvalidateClearsSlot(t *testing.T) {
	m, reg, hs := setup(t, 1)
	require.True(t, m.TryCachePut(hs[0]))

	m.Invalidate(0x1000)
	require.False(t, cached(t, reg, hs[0]))
	require.Equal(t, CacheSlots, m.Available())

	_, ok := m.TryCacheHit(0x1000)
	require.False(t, ok, "invalidated keys never hit")
	require.NoError(t, m.CheckCoherence())
}

func TestManager_ClearMarksRecordsUncached(t *testing.T) {
	m, reg, hs := setup(t, 3)
	for _, h := range hs {
		require.True(t, m.TryCachePut(h))
	}
	m.Clear()
	for _, h := range hs {
		require.False(t, cached(t, reg, h))
	}
	require.Equal(t, CacheSlots, m.Available())
	require.Empty(t, m.Slots())
	require.NoError(t, m.CheckCoherence())
}

func TestManager_RegistryRemovalEvicts(t *testing.T) {
	m, reg, hs := setup(t, 2)
	require.True(t, m.TryCachePut(hs[0]))
	require.True(t, m.TryCachePut(hs[1]))

	require.True(t, reg.Remove(hs[0]))
	require.True(t, reg.Pop())

	require.Equal(t, CacheSlots, m.Available())
	require.Empty(t, m.Slots())
	require.NoError(t, m.CheckCoherence())
}

// --- maintenance policy ---

// Low-weight records are the ones promoted: the sweep resets their weight,
// fills empty slots in registry order, then keeps replacing the first
// low-weight occupant.
func TestManager_MaintenancePromotesLowWeight(t *testing.T) {
	m, reg, hs := setup(t, 7)

	// make hs[3] busy so the sweep leaves it alone
	for range LowActivityWeight + 1 {
		reg.GetByPointer(0x1030)
	}

	m.RunMaintenance()

	require.Equal(t, 0, m.Available())
	require.Equal(t,
		[]registry.Addr{0x1060, 0x1010, 0x1020, 0x1040, 0x1050},
		slotKeys(m),
	)
	require.False(t, cached(t, reg, hs[3]), "busy record is not promoted")
	require.False(t, cached(t, reg, hs[0]), "replaced occupant is uncached")

	b, _ := reg.Snapshot(hs[3])
	require.Equal(t, uint8(LowActivityWeight+1), b.Weight)
	b, _ = reg.Snapshot(hs[1])
	require.Zero(t, b.Weight, "promoted records restart at zero")
	require.NoError(t, m.CheckCoherence())
}

func TestManager_MaintenanceKeepsBusyOccupants(t *testing.T) {
	m, reg, hs := setup(t, CacheSlots+1)
	for _, h := range hs[:CacheSlots] {
		require.True(t, m.TryCachePut(h))
		b, _ := reg.Block(h)
		b.Weight = LowActivityWeight + 5
	}

	m.RunMaintenance()
	require.False(t, cached(t, reg, hs[CacheSlots]), "no occupant is below the threshold")
	require.NoError(t, m.CheckCoherence())
}

func TestManager_MaintenanceSkippedWhenLocked(t *testing.T) {
	m, _, _ := setup(t, 3)
	m.SetLocked(true)
	m.RunMaintenance()
	require.Equal(t, CacheSlots, m.Available())

	m.SetLocked(false)
	m.SetEnabled(false)
	m.RunMaintenance()
	require.Equal(t, CacheSlots, m.Available())
}

// --- usage accounting ---

func TestManager_LimitEnforcement(t *testing.T) {
	m, _, _ := setup(t, 0)
	require.True(t, m.CanAllocate(1<<40), "no limit by default")

	m.SetLimit(100)
	m.Charge(60)
	require.True(t, m.CanAllocate(39))
	require.False(t, m.CanAllocate(40), "reaching the limit is rejected")
	require.False(t, m.CanAllocate(^uint64(0)))

	m.Credit(60)
	require.Zero(t, m.Usage())
	m.SetLimit(NoLimit)
	require.True(t, m.CanAllocate(1000))
}

func TestManager_CreditUnderflowIsFatal(t *testing.T) {
	var got types.Code
	m, _, _ := setup(t, 0, WithFatal(func(code types.Code) bool {
		got = code
		return true
	}))
	m.Charge(4)
	m.Credit(8)
	require.Equal(t, types.ErrSysFail, got)
	require.Zero(t, m.Usage())
}

func TestManager_Metrics(t *testing.T) {
	scope := tally.NewTestScope("", nil)
	m, _, hs := setup(t, 1, WithMetrics(scope))

	require.True(t, m.TryCachePut(hs[0]))
	m.TryCacheHit(0x1000)
	m.TryCacheHit(0x2000)
	m.Charge(32)

	snap := scope.Snapshot()
	require.Equal(t, int64(1), snap.Counters()["cache_puts+"].Value())
	require.Equal(t, int64(1), snap.Counters()["cache_hits+"].Value())
	require.Equal(t, int64(1), snap.Counters()["cache_misses+"].Value())
	require.Equal(t, float64(32), snap.Gauges()["memory_usage+"].Value())
}
