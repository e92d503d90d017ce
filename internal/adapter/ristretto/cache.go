// Package ristretto implements the cache port with dgraph-io/ristretto,
// used as the in-process cache for poll responses and idempotency keys.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache adapts a ristretto store to the cache port.
type Cache struct {
	store *ristretto.Cache[string, []byte]
}

// New creates a cache bounded by maxCostBytes of stored value bytes.
func New(maxCostBytes int64) (*Cache, error) {
	// Counter count sized for roughly 10x the expected entries assuming
	// ~100-byte values.
	store, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCostBytes / 10,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{store: store}, nil
}

// Get returns the cached value and whether it was present.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, found := c.store.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores a value with the given TTL, waiting for admission so a
// subsequent Get observes the write. Rejected writes are not errors.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.store.SetWithTTL(key, value, int64(len(value)), ttl)
	c.store.Wait()
	return nil
}

// Delete removes a value from the cache.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.store.Del(key)
	return nil
}

// Close releases the cache's internal goroutines.
func (c *Cache) Close() {
	c.store.Close()
}
