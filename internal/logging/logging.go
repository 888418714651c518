// Package logging constructs the process-wide zerolog.Logger and hands it
// down to every component by value. Nothing in this repo reaches for a
// package-level global logger.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds a logger at the given level ("debug", "info", "warn", "error")
// in either "json" or "pretty" format.
func New(level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var writer = os.Stdout
	var logger zerolog.Logger
	if format == "pretty" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: writer}).
			Level(lvl).
			With().Timestamp().Logger()
	} else {
		logger = zerolog.New(writer).
			Level(lvl).
			With().Timestamp().Logger()
	}

	return logger
}
