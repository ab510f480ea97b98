package cachefabric

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeL2 is an in-process stand-in for Redis, sufficient to exercise the
// Manager's promotion and coalescing behavior without a live server.
type fakeL2 struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeL2() *fakeL2 { return &fakeL2{data: make(map[string][]byte)} }

func (f *fakeL2) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeL2) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeL2) Keys(_ context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *fakeL2) DeleteMany(_ context.Context, keys []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return n, nil
}

func TestManager_L2HitPromotesToL1(t *testing.T) {
	l1 := NewL1(100, time.Hour)
	defer l1.Close()
	l2 := newFakeL2()
	_ = l2.Set(context.Background(), "btc:price", []byte("65000"), ShortTerm.L2TTL)

	m := NewManager(l1, l2)
	v, tier, ok := m.Get(context.Background(), "btc:price", ShortTerm)
	require.True(t, ok)
	assert.Equal(t, TierL2, tier)
	assert.Equal(t, []byte("65000"), v)

	// second read must now be served by L1
	_, tier2, ok2 := m.Get(context.Background(), "btc:price", ShortTerm)
	require.True(t, ok2)
	assert.Equal(t, TierL1, tier2)
}

func TestManager_GetOrComputeCoalescesConcurrentMisses(t *testing.T) {
	l1 := NewL1(100, time.Hour)
	defer l1.Close()
	m := NewManager(l1, newFakeL2())

	var computeCalls int64
	compute := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt64(&computeCalls, 1)
		time.Sleep(20 * time.Millisecond)
		return []byte("computed"), nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([][]byte, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := m.GetOrCompute(context.Background(), "shared-key", RealTime, compute)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&computeCalls), "compute should run exactly once")
	for _, r := range results {
		assert.Equal(t, []byte("computed"), r)
	}
}

func TestManager_InvalidateRemovesFromBothTiers(t *testing.T) {
	l1 := NewL1(100, time.Hour)
	defer l1.Close()
	l2 := newFakeL2()
	m := NewManager(l1, l2)

	_ = m.SetWithStrategy(context.Background(), "k", []byte("v"), ShortTerm)
	m.Invalidate(context.Background(), "k")

	_, _, ok := m.Get(context.Background(), "k", ShortTerm)
	assert.False(t, ok)
}
