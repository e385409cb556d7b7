package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a structured logger appropriate for the environment.
// Production uses JSON format, development uses human-readable text.
// Output goes to stderr so command output on stdout stays parseable.
// level overrides the environment's default level when it names one of
// debug, info, warn, or error.
func NewLogger(env, level string) *slog.Logger {
	return newLogger(os.Stderr, env, level)
}

func newLogger(w io.Writer, env, level string) *slog.Logger {
	production := env == "production"

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if !production {
		opts.Level = slog.LevelDebug
	}

	if lvl, ok := parseLevel(level); ok {
		opts.Level = lvl
	}

	var handler slog.Handler
	if production {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

func parseLevel(s string) (slog.Level, bool) {
	var lvl slog.Level
	if strings.TrimSpace(s) == "" {
		return lvl, false
	}

	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return lvl, false
	}

	return lvl, true
}
