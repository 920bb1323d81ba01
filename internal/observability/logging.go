package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns the process logger for component. Level comes from
// FORGE_LOG_LEVEL (default info); FORGE_LOG_FORMAT=console switches from
// JSON to human-readable output for local runs.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerTo(os.Stdout, component,
		ParseLevel(os.Getenv("FORGE_LOG_LEVEL")),
		strings.EqualFold(os.Getenv("FORGE_LOG_FORMAT"), "console"))
}

// NewLoggerTo writes to w at level. Every line carries the component.
func NewLoggerTo(w io.Writer, component string, level zerolog.Level, console bool) zerolog.Logger {
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339Nano}
	}
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// ParseLevel accepts zerolog level names; unknown or empty input is info.
func ParseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
