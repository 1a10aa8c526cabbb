package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// New returns the JSON process logger writing to stdout.
func New(appEnv string) *slog.Logger { return NewWithWriter(appEnv, os.Stdout) }

// NewWithWriter logs at debug level on local and dev, info elsewhere.
func NewWithWriter(appEnv string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: levelFor(appEnv)}
	return slog.New(slog.NewJSONHandler(w, opts)).With(slog.String("env", appEnv))
}

func levelFor(appEnv string) slog.Level {
	switch appEnv {
	case "", "local", "dev":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Component scopes l to one subsystem, such as signaling or the invoice janitor.
func Component(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With(slog.String("component", name))
}

type ctxKey struct{}

func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From returns the logger stored by With, or slog.Default.
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
