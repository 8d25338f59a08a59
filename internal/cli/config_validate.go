package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/eutopia/collabdash/internal/config"
	"github.com/eutopia/collabdash/internal/engine/cache"
)

// newConfigValidateCmd creates the config validate command.
func newConfigValidateCmd(state *rootState) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		Long: `Validates the effective configuration: the file, its COLLABDASH_ENV overlay and
COLLABDASH_* environment overrides. Every problem is reported, not only the first.`,
		Example: `  # Validate current configuration
  collabdash config validate

  # Validate and show detailed information
  collabdash config validate --verbose`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigValidate(cmd, state.cfg, state.configPath, verbose)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show detailed validation information")

	return cmd
}

func runConfigValidate(cmd *cobra.Command, cfg *config.Config, path string, verbose bool) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	cmd.Printf("Configuration is valid\n")

	if verbose {
		printVerboseDetails(cmd, cfg, path)
	}
	return nil
}

func printVerboseDetails(cmd *cobra.Command, cfg *config.Config, path string) {
	if path == "" {
		path = "(defaults)"
	}
	cmd.Println()
	cmd.Println("Configuration details:")
	cmd.Printf("  File: %s\n", path)
	cmd.Printf("  Listen address: %s\n", cfg.Dashboard.Addr)
	cmd.Printf("  Warehouse: %s:%d/%s (schema %s)\n",
		cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Database, cfg.Postgres.Schema)

	ttl := cache.FormatDuration(time.Duration(cfg.Cache.TTLSeconds) * time.Second)
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		cmd.Printf("  Cache: redis %s, ttl %s\n", cfg.Cache.RedisURL, ttl)
	case config.CacheBackendFile:
		cmd.Printf("  Cache: file %s, ttl %s\n", cfg.Cache.Directory, ttl)
	default:
		cmd.Println("  Cache: disabled")
	}

	if cfg.Recommendation.URL == "" {
		cmd.Println("  Recommendation service: not configured")
	} else {
		cmd.Printf("  Recommendation service: %s\n", cfg.Recommendation.URL)
	}
	cmd.Printf("  Logging level: %s\n", cfg.Logging.Level)
}

// newConfigShowCmd prints the effective configuration with secrets masked.
func newConfigShowCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Print(state.cfg.String())
			return nil
		},
	}
}
