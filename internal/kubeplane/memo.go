package kubeplane

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// memoEntry is one cached value with its expiry.
type memoEntry[V any] struct {
	value  V
	expiry time.Time
}

// MemoCache is the short-TTL, coalescing point-lookup cache described in
// spec §4.2: at most one in-flight computation exists per key; on success,
// subsequent readers within the TTL observe the cached value and a "was
// cached" flag. Grounded on golang.org/x/sync/singleflight, already a
// teacher go.mod dependency, for the "at most one inflight computation"
// guarantee (testable property 5). singleflight.Group.Do's own shared
// return value is true for every caller once more than one joins, including
// the one that actually ran compute, so it cannot alone tell the leader
// apart from the followers it unblocks; inflight tracks which caller arrived
// first for a key while still routing the call itself through the Group.
type MemoCache[K comparable, V any] struct {
	ttl time.Duration

	mu       sync.Mutex
	entries  map[K]memoEntry[V]
	inflight map[K]struct{}
	group    singleflight.Group
}

// NewMemoCache returns an empty cache with the given TTL.
func NewMemoCache[K comparable, V any](ttl time.Duration) *MemoCache[K, V] {
	return &MemoCache[K, V]{
		ttl:      ttl,
		entries:  make(map[K]memoEntry[V]),
		inflight: make(map[K]struct{}),
	}
}

// Get returns the memoized value for key, computing it via compute on a
// miss. keyStr is a deterministic string rendering of key for
// singleflight.Group, which only keys on strings. cached is false only for
// the single caller that first registered key as in flight; every caller
// that arrived while that computation was in flight, and every caller that
// hits an unexpired entry, gets cached=true.
func (c *MemoCache[K, V]) Get(key K, keyStr string, compute func() (V, error)) (value V, cached bool, err error) {
	c.mu.Lock()
	if entry, ok := c.entries[key]; ok && time.Now().Before(entry.expiry) {
		c.mu.Unlock()
		return entry.value, true, nil
	}
	_, isFollower := c.inflight[key]
	c.inflight[key] = struct{}{}
	c.mu.Unlock()

	result, err, _ := c.group.Do(keyStr, func() (any, error) {
		v, computeErr := compute()
		if computeErr != nil {
			return nil, computeErr
		}
		c.mu.Lock()
		c.entries[key] = memoEntry[V]{value: v, expiry: time.Now().Add(c.ttl)}
		delete(c.inflight, key)
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
		var zero V
		return zero, false, err
	}
	return result.(V), isFollower, nil //nolint:forcetypeassert // compute() always returns V on success
}
