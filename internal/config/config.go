// Package config loads the collabdash configuration from YAML, applies
// per-environment overlays and COLLABDASH_* environment overrides, and
// validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/eutopia/collabdash/internal/engine/cache"
)

// Cache backends.
const (
	CacheBackendRedis = "redis"
	CacheBackendFile  = "file"
	CacheBackendNone  = "none"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete collabdash configuration.
type Config struct {
	Dashboard      DashboardConfig      `yaml:"dashboard"`
	Postgres       PostgresConfig       `yaml:"postgres"`
	Cache          CacheConfig          `yaml:"cache"`
	Recommendation RecommendationConfig `yaml:"recommendation"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// DashboardConfig holds HTTP server settings.
type DashboardConfig struct {
	Addr            string `yaml:"addr"             env:"COLLABDASH_ADDR"`
	Verbose         bool   `yaml:"verbose"          env:"COLLABDASH_VERBOSE"`
	ShutdownSeconds int    `yaml:"shutdown_seconds" env:"COLLABDASH_SHUTDOWN_SECONDS"`
}

// PostgresConfig holds the warehouse credentials.
type PostgresConfig struct {
	Username string `yaml:"username"  env:"COLLABDASH_POSTGRES_USERNAME"`
	Password string `yaml:"password"  env:"COLLABDASH_POSTGRES_PASSWORD"`
	Host     string `yaml:"host"      env:"COLLABDASH_POSTGRES_HOST"`
	Port     int    `yaml:"port"      env:"COLLABDASH_POSTGRES_PORT"`
	Database string `yaml:"database"  env:"COLLABDASH_POSTGRES_DATABASE"`
	Schema   string `yaml:"schema"    env:"COLLABDASH_POSTGRES_SCHEMA"`
	MaxConns int32  `yaml:"max_conns" env:"COLLABDASH_POSTGRES_MAX_CONNS"`
}

// CacheConfig selects and configures the query cache store.
type CacheConfig struct {
	Backend    string `yaml:"backend"     env:"COLLABDASH_CACHE_BACKEND"`
	RedisURL   string `yaml:"redis_url"   env:"COLLABDASH_REDIS_URL"`
	Directory  string `yaml:"directory"   env:"COLLABDASH_CACHE_DIR"`
	Prefix     string `yaml:"prefix"      env:"COLLABDASH_CACHE_PREFIX"`
	TTLSeconds int    `yaml:"ttl_seconds" env:"COLLABDASH_CACHE_TTL_SECONDS"`
}

// RecommendationConfig points at the external recommendation service.
type RecommendationConfig struct {
	URL            string `yaml:"url"             env:"COLLABDASH_RECOMMENDATION_URL"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"COLLABDASH_RECOMMENDATION_TIMEOUT_SECONDS"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Dashboard: DashboardConfig{
			Addr:            "127.0.0.1:8050",
			ShutdownSeconds: 10,
		},
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Schema:   "public",
			MaxConns: 8,
		},
		Cache: CacheConfig{
			Backend:    CacheBackendRedis,
			RedisURL:   "redis://localhost:6379/0",
			Directory:  defaultCacheDir(),
			Prefix:     cache.DefaultKeyPrefix,
			TTLSeconds: cache.DefaultTTLSeconds,
		},
		Recommendation: RecommendationConfig{
			TimeoutSeconds: 10,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path on top of the defaults. Sections absent from the file keep
// their defaults; fields absent from a present section keep theirs too.
func Load(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML to path, creating the parent directory.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err = os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err = os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file %s: %w", path, err)
	}
	return nil
}

// Validate reports every problem found in c, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Dashboard.Addr == "" {
		fail("dashboard.addr is required")
	}

	pg := c.Postgres
	if pg.Host == "" {
		fail("postgres.host is required")
	}
	if pg.Port < 1 || pg.Port > 65535 {
		fail("postgres.port %d out of range", pg.Port)
	}
	if pg.Username == "" {
		fail("postgres.username is required")
	}
	if pg.Database == "" {
		fail("postgres.database is required")
	}
	if pg.Schema == "" {
		fail("postgres.schema is required")
	}
	if pg.MaxConns < 0 {
		fail("postgres.max_conns must not be negative")
	}

	switch c.Cache.Backend {
	case CacheBackendRedis:
		if c.Cache.RedisURL == "" {
			fail("cache.redis_url is required for the redis backend")
		}
	case CacheBackendFile:
		if c.Cache.Directory == "" {
			fail("cache.directory is required for the file backend")
		}
	case CacheBackendNone:
	default:
		fail("cache.backend %q is not one of redis, file, none", c.Cache.Backend)
	}
	if c.Cache.Backend != CacheBackendNone {
		if err := cache.ValidateTTL(c.Cache.TTLSeconds); err != nil {
			errs = append(errs, fmt.Errorf("%w: cache.ttl_seconds: %w", ErrInvalidConfig, err))
		}
	}

	if c.Recommendation.TimeoutSeconds < 0 {
		fail("recommendation.timeout_seconds must not be negative")
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}

	return errors.Join(errs...)
}

// String renders c as YAML with the Postgres password masked.
func (c *Config) String() string {
	masked := *c
	if masked.Postgres.Password != "" {
		masked.Postgres.Password = "****"
	}
	data, err := yaml.Marshal(&masked)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return strings.TrimRight(string(data), "\n")
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "collabdash")
	}
	return filepath.Join(os.TempDir(), "collabdash-cache")
}
