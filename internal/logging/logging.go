// ABOUTME: Process-wide zerolog logger for the clock-radio engine
// ABOUTME: Components derive tagged sub-loggers from the default logger
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu            sync.RWMutex
	defaultLogger = newLogger(os.Stderr)
)

func newLogger(w io.Writer) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly, NoColor: true}
	return zerolog.New(out).With().Timestamp().Logger()
}

// GetDefaultLogger returns the process logger.
func GetDefaultLogger() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := defaultLogger
	return &l
}

// SetOutput redirects the default logger, e.g. to a log file while the TUI owns the terminal.
func SetOutput(w io.Writer) {
	mu.Lock()
	defaultLogger = newLogger(w)
	mu.Unlock()
}

// SetLevel sets the global minimum level.
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// Component returns a sub-logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return GetDefaultLogger().With().Str("component", name).Logger()
}
