package cache

import (
	"context"
	"errors"
	"time"
)

// Common cache errors.
var (
	ErrCacheNotFound    = errors.New("cache entry not found")
	ErrCacheUnavailable = errors.New("cache store unavailable")
	ErrInvalidCacheKey  = errors.New("cache key cannot be empty")
)

// Store is a key-value store with per-key expiry.
type Store interface {
	// Get returns the payload stored under key. It returns ErrCacheNotFound
	// when no live entry exists and an error wrapping ErrCacheUnavailable when
	// the store cannot be reached.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores payload under key, replacing any previous entry, and expires
	// it after ttl.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

// Pinger is implemented by stores that can report their reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
