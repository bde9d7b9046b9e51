// Package logging configures the process-wide slog logger and hands out
// component-scoped children. Background components log through these so
// failures stay observable without ever reaching the conversational surface.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

func Setup(level string, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	slog.SetDefault(slog.New(h))
}

func New(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

func parseLevel(raw string) slog.Level {
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
