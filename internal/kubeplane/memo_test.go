package kubeplane

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoCacheCoalescesConcurrentCallers(t *testing.T) {
	cache := NewMemoCache[string, int](time.Hour)

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func() (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	const callers = 5
	var wg sync.WaitGroup
	cachedFlags := make([]bool, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, cached, err := cache.Get("k", "k", compute)
			require.NoError(t, err)
			cachedFlags[i] = cached
		}(i)
	}

	// give every goroutine a chance to register as in-flight before letting
	// compute finish.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load(), "compute must run exactly once across the concurrent window")

	falseCount := 0
	for _, cached := range cachedFlags {
		if !cached {
			falseCount++
		}
	}
	assert.Equal(t, 1, falseCount, "exactly one caller should observe cached=false")
}

func TestMemoCacheServesFromCacheWithinTTL(t *testing.T) {
	cache := NewMemoCache[string, int](time.Hour)

	calls := 0
	compute := func() (int, error) {
		calls++
		return calls, nil
	}

	v1, cached1, err := cache.Get("k", "k", compute)
	require.NoError(t, err)
	assert.False(t, cached1)
	assert.Equal(t, 1, v1)

	v2, cached2, err := cache.Get("k", "k", compute)
	require.NoError(t, err)
	assert.True(t, cached2)
	assert.Equal(t, 1, v2, "second call must reuse the cached value, not recompute")
}

func TestMemoCacheRecomputesAfterTTLExpires(t *testing.T) {
	cache := NewMemoCache[string, int](time.Millisecond)

	calls := 0
	compute := func() (int, error) {
		calls++
		return calls, nil
	}

	_, _, err := cache.Get("k", "k", compute)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	v2, cached2, err := cache.Get("k", "k", compute)
	require.NoError(t, err)
	assert.False(t, cached2)
	assert.Equal(t, 2, v2)
}

func TestMemoCacheDoesNotCacheErrors(t *testing.T) {
	cache := NewMemoCache[string, int](time.Hour)

	attempt := 0
	compute := func() (int, error) {
		attempt++
		if attempt == 1 {
			return 0, fmt.Errorf("boom")
		}
		return 7, nil
	}

	_, _, err := cache.Get("k", "k", compute)
	require.Error(t, err)

	v, cached, err := cache.Get("k", "k", compute)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 7, v)
}
