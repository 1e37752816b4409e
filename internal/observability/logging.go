package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// NewLogger returns a JSON logger for component at the level named by
// VAULT_LOG_LEVEL (info when unset).
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithLevel(component, ParseLevel(os.Getenv("VAULT_LOG_LEVEL")))
}

func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	return newLogger(os.Stdout, component, level)
}

func newLogger(w io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", "bondvault").
		Str("component", component).
		Logger()
}

// ParseLevel maps debug/info/warn/error, case-insensitively. Anything else
// is info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
