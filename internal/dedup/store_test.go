package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// flakySet fails every call after failAfter successful ones.
type flakySet struct {
	mu        sync.Mutex
	inner     *LocalSet
	calls     int
	failAfter int
}

func (f *flakySet) Add(ctx context.Context, member string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls > f.failAfter {
		return false, errors.New("connection refused")
	}
	return f.inner.Add(ctx, member)
}

func TestLocalSetFirstObservation(t *testing.T) {
	t.Parallel()

	s := NewLocalSet()
	ctx := context.Background()

	first, err := s.Add(ctx, "fp-1")
	require.NoError(t, err)
	require.True(t, first)

	again, err := s.Add(ctx, "fp-1")
	require.NoError(t, err)
	require.False(t, again)
	require.Equal(t, 1, s.Len())
}

func TestStoreExactlyOneWinnerUnderConcurrency(t *testing.T) {
	t.Parallel()

	store := NewLocalStore(zaptest.NewLogger(t))
	const goroutines = 64

	var winners atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if store.CheckAndMark(context.Background(), "contested") {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, int64(1), winners.Load(),
		"exactly one caller may observe a fingerprint as novel")
}

func TestStoreDowngradesOnceAndStaysLocal(t *testing.T) {
	t.Parallel()

	backend := &flakySet{inner: NewLocalSet(), failAfter: 2}
	store := NewStore(backend, zaptest.NewLogger(t))
	ctx := context.Background()

	require.False(t, store.Degraded())
	require.True(t, store.CheckAndMark(ctx, "fp-1"))
	require.True(t, store.CheckAndMark(ctx, "fp-2"))
	require.False(t, store.Degraded())

	// Third call hits the backend failure: fail-open, then downgrade.
	require.True(t, store.CheckAndMark(ctx, "fp-3"))
	require.True(t, store.Degraded())

	// The run stays on the local set; the backend is never consulted again.
	callsAtDowngrade := backend.calls
	require.False(t, store.CheckAndMark(ctx, "fp-3"), "local set remembers the fail-open insert")
	require.True(t, store.CheckAndMark(ctx, "fp-4"))
	require.Equal(t, callsAtDowngrade, backend.calls)
}

func TestStoreFailOpenNeverDropsItems(t *testing.T) {
	t.Parallel()

	// A backend that fails immediately: every novel fingerprint must still
	// come back as novel.
	backend := &flakySet{inner: NewLocalSet(), failAfter: 0}
	store := NewStore(backend, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.True(t, store.CheckAndMark(ctx, fmt.Sprintf("fp-%d", i)))
	}
	for i := 0; i < 10; i++ {
		require.False(t, store.CheckAndMark(ctx, fmt.Sprintf("fp-%d", i)))
	}
}

func TestNewLocalStoreStartsDegraded(t *testing.T) {
	t.Parallel()

	store := NewLocalStore(zaptest.NewLogger(t))
	require.True(t, store.Degraded())
	require.True(t, store.CheckAndMark(context.Background(), "fp-1"))
	require.False(t, store.CheckAndMark(context.Background(), "fp-1"))
}
