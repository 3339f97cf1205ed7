// Package memory is an in-process CacheStore, used when no external cache
// is configured and in tests.
package memory

import (
	"context"
	"sync"

	"github.com/samirrijal/terragrid/internal/core/domain"
)

// Cache is a map guarded by a RWMutex. Values are copied on the way in and
// out.
type Cache struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewCache() *Cache {
	return &Cache{items: make(map[string][]byte)}
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	v, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	return append([]byte(nil), v...), nil
}

func (c *Cache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	c.items[key] = append([]byte(nil), value...)
	c.mu.Unlock()
	return nil
}

// Len reports the number of stored keys.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
