// Package cache provides a generic, thread-safe cache keyed by scope and
// freshness token. Entries are recomputed only when the source's freshness
// token changes, so repeated lookups against an unchanged source are cheap.
package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/c360/dcvalidate/errors"
)

// TokenFunc produces the current freshness token for a cached source, e.g.
// a store modification timestamp or a KV bucket revision.
type TokenFunc func(ctx context.Context) (string, error)

// ComputeFunc produces a fresh value when the cached entry is stale or absent.
type ComputeFunc[V any] func(ctx context.Context) (V, error)

type entry[V any] struct {
	mu    sync.Mutex
	token string
	value V
	valid bool
}

// Fresh is a cache whose entries are invalidated by freshness-token
// comparison rather than TTL. Each key holds its own lock so concurrent
// refreshes of different keys do not serialize, while concurrent callers of
// the same key share a single recompute.
type Fresh[V any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[V]

	hits   int64
	misses int64
}

// NewFresh creates an empty freshness-token cache.
func NewFresh[V any]() *Fresh[V] {
	return &Fresh[V]{entries: make(map[string]*entry[V])}
}

// GetOrUpdate returns the cached value for key if the source's freshness
// token is unchanged, otherwise computes, stores and returns a fresh value.
// A token error invalidates nothing: the cached value is kept and the error
// is returned so the caller can decide whether to serve stale.
func (c *Fresh[V]) GetOrUpdate(ctx context.Context, key string, token TokenFunc, compute ComputeFunc[V]) (V, error) {
	var zero V

	e := c.entryFor(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := token(ctx)
	if err != nil {
		return zero, errors.WrapTransient(err, "Fresh", "GetOrUpdate", "freshness token lookup")
	}

	if e.valid && e.token == current {
		atomic.AddInt64(&c.hits, 1)
		return e.value, nil
	}

	atomic.AddInt64(&c.misses, 1)
	value, err := compute(ctx)
	if err != nil {
		return zero, err
	}

	e.token = current
	e.value = value
	e.valid = true
	return value, nil
}

// Peek returns the cached value without freshness checking.
func (c *Fresh[V]) Peek(key string) (V, bool) {
	var zero V

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.valid {
		return zero, false
	}
	return e.value, true
}

// Invalidate drops the entry for key. Returns true if an entry existed.
func (c *Fresh[V]) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// Clear drops all entries.
func (c *Fresh[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[V])
}

// Stats reports hit/miss counts since creation.
func (c *Fresh[V]) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}

func (c *Fresh[V]) entryFor(key string) *entry[V] {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok = c.entries[key]; ok {
		return e
	}
	e = &entry[V]{}
	c.entries[key] = e
	return e
}
