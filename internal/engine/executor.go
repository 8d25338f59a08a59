// Package engine runs dashboard queries through a cache-aside layer in front
// of the source warehouse.
package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/eutopia/collabdash/internal/engine/cache"
	"github.com/eutopia/collabdash/internal/logging"
	"github.com/eutopia/collabdash/internal/table"
)

// maxLoggedQueryLen caps how much query text goes into a log line.
const maxLoggedQueryLen = 160

// Source executes literal query text against the authoritative store.
type Source interface {
	Execute(ctx context.Context, query string) (*table.Table, error)
}

// Environment is the runtime context an executor is built from.
type Environment interface {
	Cache() cache.Store
	Source() Source
	Verbose() bool
}

// Stats counts executor outcomes since construction.
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Degraded      int64 `json:"degraded"`
	Corrupt       int64 `json:"corrupt"`
	WriteFailures int64 `json:"write_failures"`
}

// Executor answers query text from the cache when it can and from the source
// when it must. It holds no locks: concurrent misses for the same text each
// execute against the source and each write the cache, last write wins.
type Executor struct {
	cache   cache.Store
	source  Source
	verbose bool
	prefix  string
	ttl     time.Duration

	hits          atomic.Int64
	misses        atomic.Int64
	degraded      atomic.Int64
	corrupt       atomic.Int64
	writeFailures atomic.Int64
}

// Option configures an Executor.
type Option func(*Executor)

// WithKeyPrefix changes the namespace prefix of derived cache keys.
func WithKeyPrefix(prefix string) Option {
	return func(e *Executor) {
		e.prefix = prefix
	}
}

// WithTTL overrides the one-hour entry expiry. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(e *Executor) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// NewExecutor builds an executor over env's cache and source.
func NewExecutor(env Environment, opts ...Option) *Executor {
	e := &Executor{
		cache:   env.Cache(),
		source:  env.Source(),
		verbose: env.Verbose(),
		prefix:  cache.DefaultKeyPrefix,
		ttl:     cache.DefaultTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Key returns the cache key the executor uses for query.
func (e *Executor) Key(query string) string {
	return cache.DeriveKey(e.prefix, query)
}

// Query returns the rows for query.
//
// On a hit the cached payload is decoded and returned without touching the
// source. On a miss, or when the cached payload cannot be decoded, the source
// result is written back with the executor's TTL before it is returned. When
// the cache itself cannot be read the source result is returned and nothing
// is written. Source errors are returned unchanged; cache errors never are.
func (e *Executor) Query(ctx context.Context, query string) (*table.Table, error) {
	log := e.logger(ctx, query)

	if e.cache == nil {
		e.degraded.Add(1)
		log.Info().Msg("no cache configured, querying source directly")
		return e.source.Execute(ctx, query)
	}

	key := e.Key(query)
	payload, err := e.cache.Get(ctx, key)
	switch {
	case err == nil && len(payload) > 0:
		cached, decodeErr := table.Decode(payload)
		if decodeErr == nil {
			e.hits.Add(1)
			log.Info().Int("rows", cached.Len()).Msg("cache hit")
			return cached, nil
		}
		e.corrupt.Add(1)
		log.Warn().Err(decodeErr).Msg("cached payload unreadable, treating as miss")
		return e.fill(ctx, log, key, query)

	case err == nil, errors.Is(err, cache.ErrCacheNotFound):
		e.misses.Add(1)
		log.Info().Msg("cache miss")
		return e.fill(ctx, log, key, query)

	default:
		e.degraded.Add(1)
		log.Warn().Err(err).Msg("cache unavailable, querying source directly")
		return e.source.Execute(ctx, query)
	}
}

// Stats returns a snapshot of the outcome counters.
func (e *Executor) Stats() Stats {
	return Stats{
		Hits:          e.hits.Load(),
		Misses:        e.misses.Load(),
		Degraded:      e.degraded.Load(),
		Corrupt:       e.corrupt.Load(),
		WriteFailures: e.writeFailures.Load(),
	}
}

// fill executes query and writes the result under key. A failed write is
// counted and logged; the fresh result is returned either way.
func (e *Executor) fill(ctx context.Context, log zerolog.Logger, key, query string) (*table.Table, error) {
	start := time.Now()
	fresh, err := e.source.Execute(ctx, query)
	if err != nil {
		return nil, err
	}

	payload, err := table.Encode(fresh)
	if err != nil {
		e.writeFailures.Add(1)
		log.Warn().Err(err).Msg("result not cacheable")
		return fresh, nil
	}

	if err = e.cache.Set(ctx, key, payload, e.ttl); err != nil {
		e.writeFailures.Add(1)
		log.Warn().Err(err).Msg("cache write failed")
		return fresh, nil
	}

	log.Info().
		Int("rows", fresh.Len()).
		Int("payload_bytes", len(payload)).
		Dur("ttl", e.ttl).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("cache populated")
	return fresh, nil
}

// logger returns the per-query event logger. Events are only emitted for a
// verbose environment, at info level so they show without --debug.
func (e *Executor) logger(ctx context.Context, query string) zerolog.Logger {
	if !e.verbose {
		return zerolog.Nop()
	}
	q := query
	if len(q) > maxLoggedQueryLen {
		q = q[:maxLoggedQueryLen] + "..."
	}
	return logging.FromContext(ctx).With().
		Str("component", "engine").
		Str("operation", "cached_query").
		Str("query", q).
		Logger()
}
