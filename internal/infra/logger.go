package infra

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger constructs a zerolog.Logger with sane defaults for the service.
func NewLogger(appEnv string) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", "photobooth").
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger
}

// Logger aliases the zerolog.Logger so callers outside the infra package can
// depend on the logging contract without importing the third-party module
// directly.
type Logger = zerolog.Logger

// DiscardLogger returns a logger that drops every event. Components use it
// when no logger is injected.
func DiscardLogger() *Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// OrDiscard returns l, or a discard logger when l is nil.
func OrDiscard(l *Logger) *Logger {
	if l != nil {
		return l
	}
	return DiscardLogger()
}
