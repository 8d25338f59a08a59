package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// errBadEntry marks a file that exists but does not hold a usable entry.
var errBadEntry = errors.New("malformed cache entry")

// CacheEntry is the on-disk form of a FileStore entry. Times marshal as
// RFC 3339 with nanoseconds, so sub-second expiry survives a round trip.
//
//nolint:revive // CacheEntry reads better than Entry at call sites outside the package.
type CacheEntry struct {
	// Key is the full cache key, kept for inspection; file names are hashed.
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewCacheEntry stamps payload at now to live for ttl.
func NewCacheEntry(key string, payload []byte, now time.Time, ttl time.Duration) *CacheEntry {
	return &CacheEntry{Key: key, Payload: payload, CreatedAt: now, ExpiresAt: now.Add(ttl)}
}

// IsExpired reports whether the entry is dead at now. An entry expires at
// exactly ExpiresAt.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// TTL returns the lifetime the entry was written with.
func (e *CacheEntry) TTL() time.Duration {
	return e.ExpiresAt.Sub(e.CreatedAt)
}

func readEntry(path string) (*CacheEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry CacheEntry
	if err = json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %w", errBadEntry, err)
	}
	if entry.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("%w: no expiry", errBadEntry)
	}
	return &entry, nil
}
