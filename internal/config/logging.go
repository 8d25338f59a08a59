package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/eutopia/collabdash/internal/logging"
)

// LoggingConfig is the logging section of the configuration file.
type LoggingConfig struct {
	Level  string `yaml:"level"            env:"COLLABDASH_LOG_LEVEL"`
	Format string `yaml:"format,omitempty" env:"COLLABDASH_LOG_FORMAT"`
	File   string `yaml:"file,omitempty"   env:"COLLABDASH_LOG_FILE"`
	Caller bool   `yaml:"caller,omitempty" env:"COLLABDASH_LOG_CALLER"`
}

// Validate checks level and format names.
func (lc *LoggingConfig) Validate() error {
	if lc.Level != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(lc.Level)); err != nil {
			return fmt.Errorf("logging.level %q: %w", lc.Level, err)
		}
	}
	switch lc.Format {
	case "", logging.FormatConsole, logging.FormatJSON:
	default:
		return fmt.Errorf("logging.format %q is not one of console, json", lc.Format)
	}
	return nil
}

// ToLoggingConfig converts config.LoggingConfig to logging.Config for use with
// the internal/logging package.
//
// The conversion applies these rules:
//   - Level, Format and Caller are copied directly
//   - If File is set, Output becomes "file" and File is passed through
//   - If File is empty, Output defaults to "stderr"
func (lc *LoggingConfig) ToLoggingConfig() logging.Config {
	output := logging.OutputStderr
	if lc.File != "" {
		output = logging.OutputFile
	}

	return logging.Config{
		Level:  lc.Level,
		Format: lc.Format,
		Output: output,
		File:   lc.File,
		Caller: lc.Caller,
	}
}
