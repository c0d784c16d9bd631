package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu           sync.RWMutex
	debugEnabled bool
	base         zerolog.Logger
)

func init() {
	base = newLogger(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
}

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

// SetDebug enables or disables debug logging
func SetDebug(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	debugEnabled = enabled
	if enabled {
		base = base.Level(zerolog.DebugLevel)
	} else {
		base = base.Level(zerolog.InfoLevel)
	}
}

// DebugEnabled reports whether debug output is on.
func DebugEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return debugEnabled
}

// SetOutput redirects all log output to w (plain JSON lines, no console formatting).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	level := zerolog.InfoLevel
	if debugEnabled {
		level = zerolog.DebugLevel
	}
	base = newLogger(w).Level(level)
}

// Logger returns the underlying structured logger.
func Logger() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := base
	return &l
}

// Info logs an informational message
func Info(format string, args ...interface{}) {
	Logger().Info().Msg(fmt.Sprintf(format, args...))
}

// Warn logs a warning
func Warn(format string, args ...interface{}) {
	Logger().Warn().Msg(fmt.Sprintf(format, args...))
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	Logger().Error().Msg(fmt.Sprintf(format, args...))
}

// Debug logs a debug message if debug logging is enabled
func Debug(format string, args ...interface{}) {
	l := Logger()
	if l.GetLevel() > zerolog.DebugLevel {
		return
	}
	l.Debug().Msg(fmt.Sprintf(format, args...))
}

// Infof is an alias for Info for consistency
func Infof(format string, args ...interface{}) {
	Info(format, args...)
}

// Errorf is an alias for Error for consistency
func Errorf(format string, args ...interface{}) {
	Error(format, args...)
}

// Debugf is an alias for Debug for consistency
func Debugf(format string, args ...interface{}) {
	Debug(format, args...)
}

// Fatal logs an error message and exits with status 1
func Fatal(format string, args ...interface{}) {
	Logger().Error().Msg(fmt.Sprintf(format, args...))
	os.Exit(1)
}

// Fatalf is an alias for Fatal for consistency
func Fatalf(format string, args ...interface{}) {
	Fatal(format, args...)
}
