// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options selects the handler and destination for New.
type Options struct {
	// Env "prod" selects JSON output; anything else is text with source.
	Env     string
	Level   string
	Service string
	Writer  io.Writer
	JSON    bool
}

// New returns a project-standard slog logger tagged with the service name.
func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	level := ParseLevel(opts.Level)

	var handler slog.Handler
	if opts.JSON || strings.EqualFold(strings.TrimSpace(opts.Env), "prod") {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level, AddSource: true})
	}

	logger := slog.New(handler)
	if service := strings.TrimSpace(opts.Service); service != "" {
		logger = logger.With("service", service)
	}
	return logger
}

// NewLogger builds the API server logger. LOG_LEVEL controls the level
// (debug/info/warn/error), default info.
func NewLogger(env string) *slog.Logger {
	return New(Options{Env: env, Level: os.Getenv("LOG_LEVEL"), Service: "promptflow-api"})
}

// Component scopes logger to one subsystem.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", name)
}

func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
