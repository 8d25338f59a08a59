package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eutopia/collabdash/internal/logging"
)

// DefaultFileName is the configuration file looked up when none is given.
const DefaultFileName = "collabdash.yaml"

// ResolvePath determines which configuration file to load. It checks (in order):
//  1. flagValue (--config CLI flag)
//  2. COLLABDASH_CONFIG env var
//  3. ./collabdash.yaml
//  4. $XDG_CONFIG_HOME/collabdash/collabdash.yaml
//
// Returns "" when nothing was given and no default file exists.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv("COLLABDASH_CONFIG"); envPath != "" {
		return envPath
	}
	if _, err := os.Stat(DefaultFileName); err == nil {
		return DefaultFileName
	}
	if dir, err := os.UserConfigDir(); err == nil {
		candidate := filepath.Join(dir, "collabdash", DefaultFileName)
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate
		}
	}
	return ""
}

// OverlayPath returns the per-environment overlay for base, e.g.
// collabdash.staging.yaml for environment "staging".
func OverlayPath(base, environment string) string {
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "." + environment + ext
}

// Resolve builds the effective configuration: defaults, then the resolved
// file, then the COLLABDASH_ENV overlay next to it, then COLLABDASH_*
// variables. An explicitly named file that cannot be read is an error; a
// broken overlay is logged and skipped.
func Resolve(ctx context.Context, flagValue string) (*Config, string, error) {
	path := ResolvePath(flagValue)

	cfg := New()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, path, err
		}
		cfg = loaded

		if environment := os.Getenv("COLLABDASH_ENV"); environment != "" {
			mergeOverlay(ctx, cfg, OverlayPath(path, environment))
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, path, fmt.Errorf("applying environment overrides: %w", err)
	}
	return cfg, path, nil
}

// mergeOverlay applies overlayPath onto cfg when it exists. Sections are
// replaced only if the whole overlay parses.
func mergeOverlay(ctx context.Context, cfg *Config, overlayPath string) {
	if _, err := os.Stat(overlayPath); err != nil {
		// Missing overlay is not an error.
		return
	}

	merged := *cfg
	if err := ShallowMergeYAML(&merged, overlayPath); err != nil {
		logger := logging.FromContext(ctx)
		logger.Warn().
			Str("component", "config").
			Str("operation", "merge_overlay").
			Err(err).
			Str("overlay_path", overlayPath).
			Msg("failed to merge environment overlay, using base config")
		return
	}
	*cfg = merged
}
