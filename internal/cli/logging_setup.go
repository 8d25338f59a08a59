package cli

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/eutopia/collabdash/internal/config"
	"github.com/eutopia/collabdash/internal/logging"
)

// setupLogging configures logging based on config file, environment, and
// the --debug flag, and stores the logger in the command context.
func setupLogging(cmd *cobra.Command, lc config.LoggingConfig, debug bool) (zerolog.Logger, io.Closer, error) {
	if debug {
		lc.Level = "debug"
		lc.Format = logging.FormatConsole
		lc.File = ""
	}

	logger, closer, err := logging.NewLogger(lc.ToLoggingConfig())
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("setting up logging: %w", err)
	}
	if lc.File != "" {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Logging to %s\n", lc.File)
	}

	ctx := logging.ContextWithRequestID(cmd.Context(), logging.NewRequestID())
	cliLogger := logging.ComponentLogger(logger, "cli")
	cmd.SetContext(cliLogger.WithContext(ctx))

	cliLogger.Debug().
		Str("command", cmd.Name()).
		Str("request_id", logging.RequestIDFromContext(ctx)).
		Msg("command started")
	return logger, closer, nil
}
