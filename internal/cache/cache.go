// Package cache memoizes reads by (kind, parameters) and drops every entry of
// a kind at once when that kind is written.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"

	"github.com/emilythestrangee/campusnet/backend/internal/backend"
)

// Cache is safe for concurrent use. A nil *Cache is valid and caches nothing.
//
// Keys embed a per-kind generation; Invalidate bumps it, which orphans every
// older entry of that kind without scanning. Orphans age out through TTL and
// the cost-based eviction.
type Cache struct {
	store *ristretto.Cache[string, any]
	group singleflight.Group
	ttl   time.Duration

	mu   sync.Mutex
	gens map[backend.Kind]uint64

	hits, misses func()
}

type Option func(*Cache)

// WithCounters reports hits and misses, e.g. to Prometheus counters.
func WithCounters(hit, miss func()) Option {
	return func(c *Cache) {
		c.hits, c.misses = hit, miss
	}
}

// New creates a cache holding at most maxEntries results for ttl each.
func New(maxEntries int64, ttl time.Duration, opts ...Option) (*Cache, error) {
	if maxEntries < 1 {
		maxEntries = 1
	}
	store, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true, // cost counts entries, not bytes
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	c := &Cache{
		store:  store,
		ttl:    ttl,
		gens:   make(map[backend.Kind]uint64),
		hits:   func() {},
		misses: func() {},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Cache) key(kind backend.Kind, params []any) string {
	c.mu.Lock()
	gen := c.gens[kind]
	c.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "%s@%d", kind, gen)
	for _, p := range params {
		fmt.Fprintf(&b, "|%v", p)
	}
	return b.String()
}

// Invalidate drops every cached result of the given kinds.
func (c *Cache) Invalidate(kinds ...backend.Kind) {
	if c == nil {
		return
	}
	c.mu.Lock()
	for _, k := range kinds {
		c.gens[k]++
	}
	c.mu.Unlock()
}

// Close releases the cache's background goroutines.
func (c *Cache) Close() {
	if c == nil {
		return
	}
	c.store.Close()
}

// Fetch returns the cached result for (kind, params) or calls load once, even
// when several callers miss at the same time. Errors are not cached.
func Fetch[T any](ctx context.Context, c *Cache, kind backend.Kind, params []any, load func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return load(ctx)
	}
	key := c.key(kind, params)
	if v, ok := c.store.Get(key); ok {
		if t, ok := v.(T); ok {
			c.hits()
			return t, nil
		}
	}
	c.misses()

	v, err, _ := c.group.Do(key, func() (any, error) {
		t, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.store.SetWithTTL(key, t, 1, c.ttl)
		c.store.Wait()
		return t, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
