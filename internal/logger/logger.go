// Package logger holds the process-wide structured logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

var (
	// Log is the default logger. Components derive from it with For.
	Log *slog.Logger

	out io.Writer = os.Stderr
)

func init() {
	Log = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// SetLevel switches to text output at the given level.
func SetLevel(level slog.Level) {
	Log = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

// SetJSONWithLevel switches to JSON output at the given level.
func SetJSONWithLevel(level slog.Level) {
	Log = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
}

// Configure applies a format ("text" or "json") and level name from config.
func Configure(format, level string) error {
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return fmt.Errorf("log level %q: %w", level, err)
		}
	}
	switch strings.ToLower(format) {
	case "", "text":
		SetLevel(lvl)
	case "json":
		SetJSONWithLevel(lvl)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

// For returns l, or the default logger when l is nil, tagged with a component
// name.
func For(l *slog.Logger, component string) *slog.Logger {
	if l == nil {
		l = Log
	}
	return l.With("component", component)
}

// Discard is a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
