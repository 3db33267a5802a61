// Package logger provides process-wide logging for trellis.
// Debug output is only produced in verbose mode (--verbose); info, warnings
// and errors are always written. Messages may be followed by key/value
// pairs which are rendered as structured attributes.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	mu      sync.RWMutex
	verbose bool
	output  io.Writer = os.Stderr
	handler           = newLogger(os.Stderr, false)
)

func newLogger(w io.Writer, v bool) *slog.Logger {
	level := slog.LevelInfo
	if v {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// SetVerbose enables or disables verbose logging.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
	handler = newLogger(output, verbose)
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput sets the output writer for logs.
// Defaults to os.Stderr. Useful for testing.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	handler = newLogger(output, verbose)
}

// Logger returns the underlying structured logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return handler
}

func log(level slog.Level, msg string, args ...any) {
	mu.RLock()
	l := handler
	mu.RUnlock()
	l.Log(context.Background(), level, msg, args...)
}

// Debug logs a message if verbose mode is enabled.
func Debug(msg string, args ...any) {
	log(slog.LevelDebug, msg, args...)
}

// Section logs a section marker if verbose mode is enabled.
func Section(name string) {
	log(slog.LevelDebug, "=== "+name+" ===")
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	log(slog.LevelInfo, msg, args...)
}

// Warn logs a warning.
func Warn(msg string, args ...any) {
	log(slog.LevelWarn, msg, args...)
}

// Error logs an error.
func Error(msg string, args ...any) {
	log(slog.LevelError, msg, args...)
}
