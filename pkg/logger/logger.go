// Package logger installs the process-wide slog logger.
package logger

import (
	"log/slog"
	"os"
)

// Setup builds the handler for the environment, sets it as the slog
// default and returns it. Production emits JSON at info level; any other
// environment gets a human-readable text handler with debug enabled.
func Setup(env string) *slog.Logger {
	production := env == "production"

	level := slog.LevelDebug
	if production {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if production {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
