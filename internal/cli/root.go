// Package cli implements the collabdash command line: serve runs the
// dashboard API, query runs one query or panel through the cached executor,
// and config manages the configuration file.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/eutopia/collabdash/internal/app"
	"github.com/eutopia/collabdash/internal/config"
	"github.com/eutopia/collabdash/internal/engine/cache"
)

// skipConfigAnnotation marks commands that must run without a readable
// configuration file (config init creates it).
const skipConfigAnnotation = "collabdash/skip-config"

// isTerminal checks if the given file is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// rootState is what the persistent pre-run hands down to subcommands.
type rootState struct {
	configFlag string
	debug      bool
	cacheTTL   string

	cfg        *config.Config
	configPath string
	logger     zerolog.Logger
	logCloser  io.Closer

	// openApp builds the runtime for serve and query.
	openApp func(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app.App, error)
}

// NewRootCmd creates the root Cobra command for the collabdash CLI.
func NewRootCmd(ver string) *cobra.Command {
	return newRootCmd(ver, &rootState{openApp: app.New})
}

func newRootCmd(ver string, state *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "collabdash",
		Short:         "Research collaboration dashboard",
		Long:          "collabdash serves the research collaboration dashboard API over a Postgres warehouse with a Redis query cache.",
		Version:       ver,
		Example:       rootCmdExample,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return state.prepare(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return state.cleanup()
		},
	}

	cmd.PersistentFlags().StringVar(&state.configFlag, "config", "", "configuration file (default ./collabdash.yaml)")
	cmd.PersistentFlags().BoolVar(&state.debug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&state.cacheTTL, "cache-ttl", "",
		"development override of the 3600s cache TTL, as seconds or a duration such as 30m")
	cmd.AddCommand(newServeCmd(state), newQueryCmd(state), newConfigCmd(state))

	return cmd
}

const rootCmdExample = `  # Serve the dashboard API
  collabdash serve --addr :8050

  # Run a query through the cache and print the result
  collabdash query "SELECT institution_id FROM institution"

  # Render one dashboard panel
  collabdash query --panel author-articles --author A1

  # Create and check a configuration file
  collabdash config init
  collabdash config validate`

// prepare resolves configuration and sets up logging for the command.
func (s *rootState) prepare(cmd *cobra.Command) error {
	if cmd.Annotations[skipConfigAnnotation] == "true" {
		s.cfg = config.New()
		s.configPath = config.ResolvePath(s.configFlag)
		if err := config.ApplyEnv(s.cfg); err != nil {
			return err
		}
	} else {
		cfg, path, err := config.Resolve(cmd.Context(), s.configFlag)
		if err != nil {
			return err
		}
		s.cfg, s.configPath = cfg, path
	}

	if s.cacheTTL != "" {
		seconds, err := cache.ParseTTL(s.cacheTTL)
		if err != nil {
			return fmt.Errorf("--cache-ttl: %w", err)
		}
		s.cfg.Cache.TTLSeconds = seconds
	}

	logger, closer, err := setupLogging(cmd, s.cfg.Logging, s.debug)
	if err != nil {
		return err
	}
	s.logger, s.logCloser = logger, closer
	return nil
}

func (s *rootState) cleanup() error {
	if s.logCloser == nil {
		return nil
	}
	err := s.logCloser.Close()
	s.logCloser = nil
	return err
}

// newConfigCmd creates the config command group.
func newConfigCmd(state *rootState) *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Configuration management commands"}
	cmd.AddCommand(newConfigInitCmd(state), newConfigValidateCmd(state), newConfigShowCmd(state))
	return cmd
}

// errAlreadyExists is returned by config init without --force.
var errAlreadyExists = errors.New("configuration file already exists, use --force to overwrite")
