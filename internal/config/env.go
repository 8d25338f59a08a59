package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ApplyEnv overrides cfg with any COLLABDASH_* variables set in the process
// environment. Unset variables leave the corresponding field alone.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// applyEnvFrom is ApplyEnv over an explicit variable set.
func applyEnvFrom(cfg *Config, vars map[string]string) error {
	if err := env.ParseWithOptions(cfg, env.Options{Environment: vars}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
