// Package logger configures the process-wide zerolog setup.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger. Level strings follow zerolog's names; unknown
// values fall back to info. Output is human-readable console format when
// console is true, JSON otherwise.
func New(level string, console bool) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	if console {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(parsed).With().Timestamp().Logger()
}

// ForSession derives a per-session child logger carrying the user and
// symbol fields.
func ForSession(base zerolog.Logger, userID, symbol string) zerolog.Logger {
	return base.With().Str("user", userID).Str("symbol", symbol).Logger()
}
