package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New builds the process logger. An empty level picks info for production
// and debug everywhere else.
func New(env, level string) *slog.Logger {
	return NewWithWriter(os.Stdout, env, level)
}

func NewWithWriter(w io.Writer, env, level string) *slog.Logger {
	if level == "" {
		if env == "production" {
			level = "info"
		} else {
			level = "debug"
		}
	}

	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Component returns the default logger tagged for a background component
// such as the cleanup sweep or the upload coordinator.
func Component(name string) *slog.Logger {
	return slog.Default().With(slog.String("component", name))
}
