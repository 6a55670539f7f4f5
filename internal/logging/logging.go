// Package logging builds the process logger. Verbosity comes from the
// LOG_LEVEL environment variable; binaries stay quiet unless asked.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Level maps a LOG_LEVEL-style name to a slog level, falling back when the
// name is unknown.
func Level(name string, fallback slog.Level) slog.Level {
	switch name {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	}
	return fallback
}

// Init builds a text logger on w honoring LOG_LEVEL and installs it as the
// process default.
func Init(w io.Writer, fallback slog.Level) *slog.Logger {
	level := fallback
	if name, ok := os.LookupEnv("LOG_LEVEL"); ok {
		level = Level(name, fallback)
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
