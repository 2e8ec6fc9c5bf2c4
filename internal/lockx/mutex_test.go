package lockx

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/safetynet/internal/gid"
)

func TestMutex_ReentrantHoldCount(t *testing.T) {
	m := New()
	m.Lock()
	m.Lock()
	require.True(t, m.HeldByCaller())

	m.Unlock()
	require.True(t, m.HeldByCaller(), "inner unlock must not release")

	m.Unlock()
	require.Equal(t, gid.None, m.Owner())
}

func TestMutex_BlocksOtherGoroutines(t *testing.T) {
	m := New()
	m.Lock()

	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Lock()
		acquired.Store(true)
		m.Unlock()
	}()

	time.Sleep(20 * time.Millisecond)
	require.False(t, acquired.Load())

	m.Unlock()
	<-done
	require.True(t, acquired.Load())
}

func TestMutex_TryLock(t *testing.T) {
	m := New()
	require.True(t, m.TryLock())
	require.True(t, m.TryLock(), "holder may re-enter")

	res := make(chan bool)
	go func() { res <- m.TryLock() }()
	require.False(t, <-res)

	m.Unlock()
	m.Unlock()

	go func() {
		ok := m.TryLock()
		if ok {
			m.Unlock()
		}
		res <- ok
	}()
	require.True(t, <-res)
}

func TestMutex_UnlockByNonHolderPanics(t *testing.T) {
	m := New()
	require.Panics(t, func() { m.Unlock() })

	m.Lock()
	defer m.Unlock()
	res := make(chan any)
	go func() {
		defer func() { res <- recover() }()
		m.Unlock()
	}()
	require.NotNil(t, <-res)
}

func TestMutex_SerializesCounter(t *testing.T) {
	m := New()
	counter := 0
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				m.Lock()
				m.Lock()
				counter++
				m.Unlock()
				m.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1600, counter)

	acq, _ := m.Stats()
	require.Equal(t, int64(1600), acq)
}

func TestMutex_LockAsSharesHoldsWithLock(t *testing.T) {
	m := New()
	id := gid.Current()
	m.LockAs(id)
	m.Lock()
	require.True(t, m.HeldByCaller())

	m.Unlock()
	require.Equal(t, id, m.Owner(), "inner unlock must not release")
	m.UnlockAs(id)
	require.Equal(t, gid.None, m.Owner())

	require.Panics(t, func() { m.UnlockAs(id) })
}
