package observ

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	logMu  sync.RWMutex
	logger = NewLogger(os.Stdout, zerolog.InfoLevel)
)

// NewLogger builds the JSON event logger used across the service
func NewLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// SetLogger replaces the process-wide logger (tests, custom sinks)
func SetLogger(l zerolog.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	logger = l
}

// Logger returns the current logger, e.g. for HTTP access-log middleware
func Logger() zerolog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger
}

// SetLevel parses a level name ("debug", "info", "warn", "error")
func SetLevel(level string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return err
	}
	logMu.Lock()
	defer logMu.Unlock()
	logger = logger.Level(lvl)
	return nil
}

// Log emits one info-level event with its key/values
func Log(event string, kv map[string]any) {
	l := Logger()
	emit(l.Info(), event, kv)
}

// Debug emits a debug-level event
func Debug(event string, kv map[string]any) {
	l := Logger()
	emit(l.Debug(), event, kv)
}

// Warn emits a warn-level event; used for suppressed upstream failures
func Warn(event string, kv map[string]any) {
	l := Logger()
	emit(l.Warn(), event, kv)
}

// Error emits an error-level event carrying err
func Error(event string, err error, kv map[string]any) {
	l := Logger()
	emit(l.Error().Err(err), event, kv)
}

func emit(e *zerolog.Event, event string, kv map[string]any) {
	if e == nil {
		return
	}
	if kv != nil {
		e = e.Fields(kv)
	}
	e.Str("event", event).Send()
}
