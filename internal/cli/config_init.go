package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eutopia/collabdash/internal/config"
)

// newConfigInitCmd creates the config init command. It writes the defaults,
// with any COLLABDASH_* overrides applied, to --config or ./collabdash.yaml.
func newConfigInitCmd(state *rootState) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration file with default values",
		Example: `  # Create ./collabdash.yaml
  collabdash config init

  # Create a file elsewhere, overwriting an existing one
  collabdash config init --config /etc/collabdash/collabdash.yaml --force`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := state.configFlag
			if path == "" {
				path = config.DefaultFileName
			}
			return initConfig(cmd, state.cfg, path, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing configuration file")

	return cmd
}

func initConfig(cmd *cobra.Command, cfg *config.Config, path string, force bool) error {
	if !force {
		_, err := os.Stat(path)
		if err == nil {
			return errAlreadyExists
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("cannot access config path %s: %w", path, err)
		}
	}

	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	cmd.Printf("Configuration initialized at %s\n", path)
	return nil
}
