// Package cache defines the key-value caching port used for terminal poll
// responses and idempotency replay.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-oriented key-value store with per-entry TTLs.
type Cache interface {
	// Get returns the cached value and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key for at most ttl. Admission may be
	// best-effort depending on the implementation.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
