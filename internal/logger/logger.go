package logger

import (
	"io"
	"log/slog"
	"os"
)

func New(env string) *slog.Logger {
	return NewWithWriter(env, os.Stdout)
}

func NewWithWriter(env string, w io.Writer) *slog.Logger {
	var h slog.Handler
	if env == "prod" {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return slog.New(h)
}

// Security logs an event that must reach the security audit trail
// (bad signatures, CSRF failures, replayed callbacks).
func Security(l *slog.Logger, msg string, args ...any) {
	l.Warn(msg, append([]any{"event", "security"}, args...)...)
}
