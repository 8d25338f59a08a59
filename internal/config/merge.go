package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Top-level YAML config key names used for shallow merge.
const (
	keyDashboard      = "dashboard"
	keyPostgres       = "postgres"
	keyCache          = "cache"
	keyRecommendation = "recommendation"
	keyLogging        = "logging"
)

// ShallowMergeYAML loads a YAML file and merges its top-level keys onto
// the target Config. Keys present in the overlay replace entire sections
// in the target. Keys absent in the overlay are left unchanged. Unknown keys
// are ignored.
func ShallowMergeYAML(target *Config, overlayPath string) error {
	if target == nil {
		return errors.New("nil target *Config in ShallowMergeYAML")
	}

	data, err := os.ReadFile(overlayPath)
	if err != nil {
		return fmt.Errorf("reading overlay file %s: %w", overlayPath, err)
	}

	var overlay map[string]yaml.Node
	if err = yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing overlay YAML from %s: %w", overlayPath, err)
	}

	// Empty or comment-only file: nothing to merge.
	if len(overlay) == 0 {
		return nil
	}

	for key, node := range overlay {
		if err = decodeSection(target, key, &node); err != nil {
			return fmt.Errorf("applying overlay section %q: %w", key, err)
		}
	}

	return nil
}

// decodeSection decodes node into a fresh zero value of the section named
// key and replaces that section of target.
func decodeSection(target *Config, key string, node *yaml.Node) error {
	switch key {
	case keyDashboard:
		var v DashboardConfig
		if err := node.Decode(&v); err != nil {
			return err
		}
		target.Dashboard = v
	case keyPostgres:
		var v PostgresConfig
		if err := node.Decode(&v); err != nil {
			return err
		}
		target.Postgres = v
	case keyCache:
		var v CacheConfig
		if err := node.Decode(&v); err != nil {
			return err
		}
		target.Cache = v
	case keyRecommendation:
		var v RecommendationConfig
		if err := node.Decode(&v); err != nil {
			return err
		}
		target.Recommendation = v
	case keyLogging:
		var v LoggingConfig
		if err := node.Decode(&v); err != nil {
			return err
		}
		target.Logging = v
	}
	return nil
}
