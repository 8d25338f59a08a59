// Package logging builds the zerolog loggers used across collabdash and
// carries them, with a request ID, through context.Context.
package logging

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Output and format names accepted in Config.
const (
	FormatConsole = "console"
	FormatJSON    = "json"

	OutputStderr = "stderr"
	OutputStdout = "stdout"
	OutputFile   = "file"
)

// Config selects level, format and destination of the process logger.
type Config struct {
	Level  string
	Format string
	Output string
	File   string
	Caller bool
}

type requestIDKey struct{}

// nopCloser is returned when the logger owns no file.
type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds a logger from cfg. An unparsable level falls back to info.
// An empty format means console on a terminal and JSON otherwise. The
// returned Closer releases the log file, if one was opened.
func NewLogger(cfg Config) (zerolog.Logger, io.Closer, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		lvl = zerolog.InfoLevel
	}

	var (
		out    io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
		isTTY            = term.IsTerminal(int(os.Stderr.Fd()))
	)
	switch cfg.Output {
	case "", OutputStderr:
	case OutputStdout:
		out = os.Stdout
		isTTY = term.IsTerminal(int(os.Stdout.Fd()))
	case OutputFile:
		if cfg.File == "" {
			return zerolog.Nop(), closer, errors.New("log output is file but no file path is set")
		}
		if mkErr := os.MkdirAll(filepath.Dir(cfg.File), 0750); mkErr != nil {
			return zerolog.Nop(), closer, fmt.Errorf("creating log directory: %w", mkErr)
		}
		f, openErr := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if openErr != nil {
			return zerolog.Nop(), closer, fmt.Errorf("opening log file: %w", openErr)
		}
		out, closer, isTTY = f, f, false
	default:
		return zerolog.Nop(), closer, fmt.Errorf("unknown log output %q", cfg.Output)
	}

	format := cfg.Format
	if format == "" {
		format = FormatJSON
		if isTTY {
			format = FormatConsole
		}
	}
	if format == FormatConsole {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: !isTTY}
	}

	ctx := zerolog.New(out).Level(lvl).With().Timestamp()
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	return ctx.Logger(), closer, nil
}

// ComponentLogger returns l tagged with a component field.
func ComponentLogger(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Str("component", component).Logger()
}

// FromContext returns the logger stored in ctx, or a disabled logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

// NewRequestID returns a new lexically sortable request ID.
func NewRequestID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// ContextWithRequestID stores id in ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID stored in ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
