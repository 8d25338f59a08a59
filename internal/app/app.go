// Package app owns the process-wide handles collabdash needs: the cache
// store, the warehouse connection, the verbose flag and the logger. It is
// built once at startup and passed explicitly to everything downstream.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/eutopia/collabdash/internal/config"
	"github.com/eutopia/collabdash/internal/engine"
	"github.com/eutopia/collabdash/internal/engine/cache"
	"github.com/eutopia/collabdash/internal/logging"
	"github.com/eutopia/collabdash/internal/source"
)

// cachePingTimeout bounds the startup reachability check of the cache.
const cachePingTimeout = 2 * time.Second

// App implements engine.Environment.
type App struct {
	cfg     *config.Config
	logger  zerolog.Logger
	cache   cache.Store
	source  engine.Source
	closers []func() error
}

var _ engine.Environment = (*App)(nil)

// New opens the cache store and the warehouse connection described by cfg.
// An unreachable cache is logged and tolerated; every query then degrades to
// the source. An unreachable warehouse is an error.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logging.ComponentLogger(logger, "app")}

	store, closeStore, err := openCache(ctx, cfg.Cache, a.logger)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		a.closers = append(a.closers, closeStore)
	}
	if store != nil {
		a.cache = store
	}

	pg := cfg.Postgres
	src, err := source.Connect(ctx, source.Credentials{
		Username: pg.Username,
		Password: pg.Password,
		Host:     pg.Host,
		Port:     pg.Port,
		Database: pg.Database,
		Schema:   pg.Schema,
	}, source.Options{MaxConns: pg.MaxConns})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.source = src
	a.closers = append(a.closers, func() error {
		src.Close()
		return nil
	})

	a.logger.Info().
		Str("operation", "startup").
		Str("cache_backend", cfg.Cache.Backend).
		Str("cache_ttl", cache.FormatDuration(time.Duration(cfg.Cache.TTLSeconds)*time.Second)).
		Str("postgres_host", pg.Host).
		Str("postgres_schema", src.Schema()).
		Bool("verbose", cfg.Dashboard.Verbose).
		Msg("runtime ready")
	return a, nil
}

// NewWith assembles an App from already-open handles. store may be nil to
// run without a cache. Closers run in reverse order on Close.
func NewWith(cfg *config.Config, logger zerolog.Logger, store cache.Store, src engine.Source, closers ...io.Closer) *App {
	a := &App{cfg: cfg, logger: logging.ComponentLogger(logger, "app"), cache: store, source: src}
	for _, c := range closers {
		a.closers = append(a.closers, c.Close)
	}
	return a
}

// Cache implements engine.Environment. It is nil when caching is disabled.
func (a *App) Cache() cache.Store { return a.cache }

// Source implements engine.Environment.
func (a *App) Source() engine.Source { return a.source }

// Verbose implements engine.Environment.
func (a *App) Verbose() bool { return a.cfg.Dashboard.Verbose }

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Logger returns the root logger.
func (a *App) Logger() zerolog.Logger { return a.logger }

// Executor returns a cached query executor over this runtime.
func (a *App) Executor() *engine.Executor {
	return engine.NewExecutor(a,
		engine.WithKeyPrefix(a.cfg.Cache.Prefix),
		engine.WithTTL(time.Duration(a.cfg.Cache.TTLSeconds)*time.Second),
	)
}

// Ping reports cache and source reachability. A nil entry means healthy;
// a disabled cache has no entry.
func (a *App) Ping(ctx context.Context) map[string]error {
	status := map[string]error{}
	if p, ok := a.cache.(cache.Pinger); ok {
		status["cache"] = p.Ping(ctx)
	}
	if p, ok := a.source.(interface{ Ping(context.Context) error }); ok {
		status["source"] = p.Ping(ctx)
	}
	return status
}

// Close releases every handle, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openCache returns the configured store, or nil for backend "none".
func openCache(ctx context.Context, cfg config.CacheConfig, logger zerolog.Logger) (cache.Store, func() error, error) {
	switch cfg.Backend {
	case config.CacheBackendNone, "":
		logger.Info().Str("operation", "open_cache").Msg("query cache disabled")
		return nil, nil, nil

	case config.CacheBackendFile:
		store, err := cache.NewFileStore(cfg.Directory)
		if err != nil {
			return nil, nil, fmt.Errorf("opening file cache: %w", err)
		}
		removed, err := store.CleanupExpired()
		if err != nil {
			logger.Warn().Err(err).Str("operation", "open_cache").Msg("expired cache cleanup failed")
		}
		count, _ := store.Count()
		size, _ := store.Size()
		logger.Debug().
			Str("operation", "open_cache").
			Str("directory", cfg.Directory).
			Int("removed", removed).
			Int("entries", count).
			Int64("bytes", size).
			Msg("file cache opened")
		return store, nil, nil

	case config.CacheBackendRedis:
		client, err := cache.OpenRedis(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		store := cache.NewRedisStore(client)

		pingCtx, cancel := context.WithTimeout(ctx, cachePingTimeout)
		defer cancel()
		if pingErr := store.Ping(pingCtx); pingErr != nil {
			logger.Warn().
				Err(pingErr).
				Str("operation", "open_cache").
				Msg("redis unreachable, queries will go to the source until it recovers")
		}
		return store, client.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
