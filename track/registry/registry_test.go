package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/safetynet/internal/gid"
	"github.com/joshuapare/safetynet/internal/lockx"
	"github.com/joshuapare/safetynet/pkg/types"
)

// --- helpers ---

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(lockx.New())
}

func pushN(t *testing.T, r *Registry, n int) []Handle {
	t.Helper()
	hs := make([]Handle, n)
	for i := range n {
		h, err := r.Push(Addr(0x1000+i*0x10), nil, uint64(i+1), gid.Current())
		require.NoError(t, err)
		hs[i] = h
	}
	return hs
}

func addrs(r *Registry) []Addr {
	var out []Addr
	r.ForEach(func(_ Handle, b *Block, _ int) bool {
		out = append(out, b.Addr)
		return true
	})
	return out
}

// --- push / pop ---

func TestRegistry_Empty(t *testing.T) {
	r := newTestRegistry(t)
	require.Equal(t, 0, r.Len())
	_, ok := r.First()
	require.False(t, ok)
	_, ok = r.Peek()
	require.False(t, ok)
	require.False(t, r.Pop(), "pop on empty registry is a no-op")
	require.NoError(t, r.Validate())
}

func TestRegistry_PushAppendsAtTail(t *testing.T) {
	r := newTestRegistry(t)
	hs := pushN(t, r, 3)

	require.Equal(t, 3, r.Len())
	require.Equal(t, []Addr{0x1000, 0x1010, 0x1020}, addrs(r))

	first, ok := r.First()
	require.True(t, ok)
	require.Equal(t, hs[0], first)

	last, ok := r.Peek()
	require.True(t, ok)
	require.Equal(t, hs[2], last)
	require.NoError(t, r.Validate())
}

func TestRegistry_PopRemovesTail(t *testing.T) {
	r := newTestRegistry(t)
	hs := pushN(t, r, 2)

	require.True(t, r.Pop())
	require.Equal(t, 1, r.Len())
	last, _ := r.Peek()
	require.Equal(t, hs[0], last)

	require.True(t, r.Pop())
	require.Equal(t, 0, r.Len())
	require.NoError(t, r.Validate())
}

// --- lookups ---

func TestRegistry_GetByPointerCountsHit(t *testing.T) {
	r := newTestRegistry(t)
	hs := pushN(t, r, 3)

	h, ok := r.GetByPointer(0x1010)
	require.True(t, ok)
	require.Equal(t, hs[1], h)

	b, _ := r.Snapshot(h)
	require.Equal(t, uint8(1), b.Weight)

	la, ok := r.LastAccess()
	require.True(t, ok)
	require.Equal(t, hs[1], la)

	_, ok = r.GetByPointer(0xdead)
	require.False(t, ok)
	_, ok = r.GetByPointer(0)
	require.False(t, ok)
}

func TestRegistry_HasPointerDoesNotCountHit(t *testing.T) {
	r := newTestRegistry(t)
	hs := pushN(t, r, 1)

	require.True(t, r.HasPointer(0x1000))
	require.False(t, r.HasPointer(0x2000))
	b, _ := r.Snapshot(hs[0])
	require.Zero(t, b.Weight)
}

func TestRegistry_WeightSaturates(t *testing.T) {
	r := newTestRegistry(t)
	pushN(t, r, 1)
	for range 300 {
		_, ok := r.GetByPointer(0x1000)
		require.True(t, ok)
	}
	h, _ := r.GetByPointer(0x1000)
	b, _ := r.Snapshot(h)
	require.Equal(t, uint8(MaxWeight), b.Weight)
}

func TestRegistry_GetByTag(t *testing.T) {
	r := newTestRegistry(t)
	hs := pushN(t, r, 3)

	b, ok := r.Block(hs[2])
	require.True(t, ok)
	b.Tag = 42

	h, ok := r.GetByTag(42)
	require.True(t, ok)
	require.Equal(t, hs[2], h)

	_, ok = r.GetByTag(43)
	require.False(t, ok)
	_, ok = r.GetByTag(0)
	require.False(t, ok, "untagged blocks are never matched")
}

func TestRegistry_GetByIndex(t *testing.T) {
	r := newTestRegistry(t)
	hs := pushN(t, r, 4)

	for i, want := range hs {
		h, ok := r.GetByIndex(i)
		require.True(t, ok)
		require.Equal(t, want, h)
	}
	_, ok := r.GetByIndex(4)
	require.False(t, ok)
	_, ok = r.GetByIndex(-1)
	require.False(t, ok)
}

// --- removal ---

func TestRegistry_RemoveMiddleAndBounds(t *testing.T) {
	tests := []struct {
		name   string
		remove int
		want   []Addr
	}{
		{"first", 0, []Addr{0x1010, 0x1020}},
		{"middle", 1, []Addr{0x1000, 0x1020}},
		{"last", 2, []Addr{0x1000, 0x1010}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(t)
			hs := pushN(t, r, 3)

			require.True(t, r.Remove(hs[tt.remove]))
			require.Equal(t, tt.want, addrs(r))
			require.Equal(t, 2, r.Len())
			require.NoError(t, r.Validate())

			_, ok := r.Block(hs[tt.remove])
			require.False(t, ok, "removed handle must not resolve")
			require.False(t, r.Remove(hs[tt.remove]))
		})
	}
}

func TestRegistry_RemoveByPointer(t *testing.T) {
	r := newTestRegistry(t)
	pushN(t, r, 2)

	require.True(t, r.RemoveByPointer(0x1000))
	require.False(t, r.RemoveByPointer(0x1000))
	require.False(t, r.RemoveByPointer(0))
	require.Equal(t, []Addr{0x1010}, addrs(r))
	require.NoError(t, r.Validate())
}

func TestRegistry_StaleHandleAfterReuse(t *testing.T) {
	r := newTestRegistry(t)
	hs := pushN(t, r, 1)
	require.True(t, r.Remove(hs[0]))

	h, err := r.Push(0x9000, nil, 8, gid.Current())
	require.NoError(t, err)
	require.Equal(t, hs[0].Index(), h.Index(), "freed slot is recycled")
	require.NotEqual(t, hs[0], h)

	_, ok := r.Block(hs[0])
	require.False(t, ok)
	b, ok := r.Snapshot(h)
	require.True(t, ok)
	require.Equal(t, Addr(0x9000), b.Addr)
}

func TestRegistry_EvictorRunsBeforeDestroy(t *testing.T) {
	r := newTestRegistry(t)
	hs := pushN(t, r, 2)

	var seen []Addr
	r.SetEvictor(func(h Handle, b *Block) {
		seen = append(seen, b.Addr)
	})

	r.Remove(hs[1])
	r.Pop()
	require.Equal(t, []Addr{0x1010, 0x1000}, seen)
}

func TestRegistry_LastAccessClearedOnRemove(t *testing.T) {
	r := newTestRegistry(t)
	pushN(t, r, 1)
	h, _ := r.GetByPointer(0x1000)
	r.Remove(h)
	_, ok := r.LastAccess()
	require.False(t, ok)
}

// --- traversal ---

func TestRegistry_ForEachEarlyStop(t *testing.T) {
	r := newTestRegistry(t)
	pushN(t, r, 5)

	visited := 0
	r.ForEach(func(_ Handle, _ *Block, i int) bool {
		visited++
		return i < 1
	})
	require.Equal(t, 2, visited)
}

func TestRegistry_ForEachRemoveCurrent(t *testing.T) {
	r := newTestRegistry(t)
	pushN(t, r, 6)

	r.ForEach(func(h Handle, b *Block, _ int) bool {
		if b.Size%2 == 0 {
			r.Remove(h)
		}
		return true
	})
	require.Equal(t, []Addr{0x1000, 0x1020, 0x1040}, addrs(r))
	require.NoError(t, r.Validate())
}

func TestRegistry_Reset(t *testing.T) {
	r := newTestRegistry(t)
	pushN(t, r, 300)
	evicted := 0
	r.SetEvictor(func(Handle, *Block) { evicted++ })

	r.Reset()
	require.Equal(t, 0, r.Len())
	require.Equal(t, 300, evicted)
	require.NoError(t, r.Validate())
}

func TestRegistry_Links(t *testing.T) {
	r := newTestRegistry(t)
	hs := pushN(t, r, 3)

	prev, next, ok := r.Links(hs[1])
	require.True(t, ok)
	require.Equal(t, hs[0], prev)
	require.Equal(t, hs[2], next)

	prev, _, _ = r.Links(hs[0])
	require.True(t, prev.IsZero(), "first record links to the sentinel")
	_, next, _ = r.Links(hs[2])
	require.True(t, next.IsZero())
}

// --- failure paths ---

func TestRegistry_ArenaExhaustionIsFatal(t *testing.T) {
	r := newTestRegistry(t)
	r.limit = 3 // sentinel + two records

	var got types.Code
	r.SetFatal(func(code types.Code) bool {
		got = code
		return true
	})

	pushN(t, r, 2)
	_, err := r.Push(0x5000, nil, 1, gid.Current())
	require.ErrorIs(t, err, types.ErrCatastrophic)
	require.Equal(t, types.ErrCatastrophic, got)
	require.Equal(t, 2, r.Len())
	require.NoError(t, r.Validate())
}

func TestRegistry_ValidateDetectsCorruption(t *testing.T) {
	r := newTestRegistry(t)
	hs := pushN(t, r, 3)

	r.at(hs[2].index).prev = hs[0].index
	require.ErrorIs(t, r.Validate(), ErrBrokenChain)
	r.at(hs[2].index).prev = hs[1].index

	r.length = 4
	require.ErrorIs(t, r.Validate(), ErrLengthMismatch)
	r.length = 3

	r.at(hs[1].index).Addr = 0x1000
	require.ErrorIs(t, r.Validate(), ErrDuplicateAddr)
}

func TestRegistry_GrowsAcrossChunks(t *testing.T) {
	r := newTestRegistry(t)
	hs := pushN(t, r, chunkSize*3)

	b, ok := r.Block(hs[0])
	require.True(t, ok)
	b.Tag = 99

	// pointers into earlier chunks stay valid after growth
	pushN(t, r, 10)
	again, _ := r.Block(hs[0])
	require.Same(t, b, again)
	require.Equal(t, chunkSize*3+10, r.Len())
}
