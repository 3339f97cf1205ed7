// Package tilecache puts a TTL cache in front of any tile source. The cache
// is best-effort: store failures are logged and the fetch carries on against
// the network.
package tilecache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/samirrijal/terragrid/internal/core/domain"
	"github.com/samirrijal/terragrid/internal/core/ports"
	"github.com/samirrijal/terragrid/internal/pkg/metrics"
)

// DefaultTTL is how long a payload stays fresh.
const DefaultTTL = 24 * time.Hour

// Cache reads and writes entries in an external store.
type Cache struct {
	store   ports.CacheStore
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Pipeline
	logger  *slog.Logger
}

// Option customises a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMetrics records hits and misses on m. A nil m records nothing.
func WithMetrics(m *metrics.Pipeline) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithLogger replaces slog.Default for store failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a Cache over store. A non-positive ttl means DefaultTTL.
func New(store ports.CacheStore, ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{store: store, ttl: ttl, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the payload stored under key if it is still fresh. Any store
// or decode failure reads as a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			c.logger.Warn("cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	entry, err := DecodeEntry(raw)
	if err != nil {
		c.logger.Warn("cache entry corrupt", "key", key, "error", err)
		return nil, false
	}
	if entry.Key != key || !entry.Fresh(c.now(), c.ttl) {
		return nil, false
	}
	return entry.Payload, true
}

// Put stores payload under key, replacing any previous entry. Failures are
// logged and otherwise ignored.
func (c *Cache) Put(ctx context.Context, key string, payload []byte) {
	entry := domain.CacheEntry{Key: key, Payload: payload, StoredAt: c.now()}
	if err := c.store.Set(ctx, key, EncodeEntry(entry)); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

// Wrap returns src with read-through caching. Concurrent fetches of the
// same key share one upstream call.
func (c *Cache) Wrap(src ports.TileSource) ports.TileSource {
	return &cachedSource{next: src, cache: c}
}

type cachedSource struct {
	next  ports.TileSource
	cache *Cache
	group singleflight.Group
}

func (s *cachedSource) Name() string { return s.next.Name() }

func (s *cachedSource) Fetch(ctx context.Context, req domain.FetchRequest) ([]byte, error) {
	name := s.next.Name()
	key := req.CacheKey(name)

	if payload, ok := s.cache.Get(ctx, key); ok {
		s.cache.metrics.CacheHit(name)
		return payload, nil
	}
	s.cache.metrics.CacheMiss(name)

	// The shared fetch outlives any one caller: a caller that gives up must
	// not fail the others waiting on the same key. Sources bound their own
	// tries with timeouts.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		payload, err := s.next.Fetch(shared, req)
		if err != nil {
			return nil, err
		}
		s.cache.Put(shared, key, payload)
		return payload, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.([]byte), nil
	}
}
