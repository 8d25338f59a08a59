package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by a Redis server. Expiry is native Redis TTL.
// The caller owns the client lifecycle.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// OpenRedis creates a client from a redis:// or rediss:// URL. No connection
// is made until the first command, so an unreachable server does not fail
// startup.
func OpenRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Get implements Store. redis.Nil and empty values read as ErrCacheNotFound;
// every other failure wraps ErrCacheUnavailable.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidCacheKey
	}

	payload, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	if len(payload) == 0 {
		return nil, ErrCacheNotFound
	}

	return payload, nil
}

// Set implements Store as SET key payload EX ttl.
func (s *RedisStore) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidCacheKey
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidTTL, ttl)
	}

	if err := s.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	return nil
}

// Ping implements Pinger.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	return nil
}
