// Package util provides logging setup and host system helpers.
package util

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger initializes the zerolog global logger. Output goes to stderr
// only: stdout is reserved for decoded packet lines, and the proxy keeps no
// files.
func InitLogger(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("unknown log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}

	log.Logger = zerolog.New(consoleWriter).
		With().
		Timestamp().
		Str("app", "pwnproxy").
		Logger()

	log.Debug().Str("level", lvl.String()).Msg("logger initialized")
	return nil
}

// SetLogLevel changes the global log level at runtime (used by the CLI).
func SetLogLevel(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	log.Info().Str("level", lvl.String()).Msg("log level changed")
	return nil
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
