package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/samirrijal/terragrid/internal/core/domain"
)

// Cache implements ports.CacheStore using Valkey (Redis-compatible).
// Entries expire server-side after ttl; freshness is still checked by the
// caller against the stored timestamp.
type Cache struct {
	client valkey.Client
	prefix string
	ttl    time.Duration
}

// New creates a new Valkey cache client. A zero ttl stores keys without
// expiry.
func New(addr, prefix string, ttl time.Duration) (*Cache, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect: %w", err)
	}
	return &Cache{client: client, prefix: prefix, ttl: ttl}, nil
}

// Get retrieves a value by key. A missing key is domain.ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Do(ctx, c.client.B().Get().Key(c.prefix+key).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("valkey get %s: %w", key, err)
	}
	return b, nil
}

// Set stores a value, replacing any previous one.
func (c *Cache) Set(ctx context.Context, key string, value []byte) error {
	var cmd valkey.Completed
	if c.ttl > 0 {
		cmd = c.client.B().Set().Key(c.prefix + key).Value(valkey.BinaryString(value)).Ex(c.ttl).Build()
	} else {
		cmd = c.client.B().Set().Key(c.prefix + key).Value(valkey.BinaryString(value)).Build()
	}
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey set %s: %w", key, err)
	}
	return nil
}

// Ping reports whether the server answers.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}

// Close releases the client.
func (c *Cache) Close() {
	c.client.Close()
}
