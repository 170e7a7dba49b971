// Package logger provides process-wide logging for ratebook.
// Warnings and errors are always written. Info and debug records are only
// written in verbose mode, enabled via the --verbose flag.
package logger

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

var (
	mu      sync.RWMutex
	verbose bool
	jsonOut bool
	output  io.Writer = os.Stderr
	base              = build(os.Stderr, false, false)
)

func build(w io.Writer, v, asJSON bool) *log.Logger {
	level := log.WarnLevel
	if v {
		level = log.DebugLevel
	}
	l := log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: asJSON,
		TimeFormat:      time.RFC3339,
	})
	if asJSON {
		l.SetFormatter(log.JSONFormatter)
	}
	return l
}

func rebuild() {
	base = build(output, verbose, jsonOut)
}

// SetVerbose enables or disables verbose logging.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
	rebuild()
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetJSON switches between human-readable and JSON records.
func SetJSON(v bool) {
	mu.Lock()
	defer mu.Unlock()
	jsonOut = v
	rebuild()
}

// SetOutput sets the output writer for logs.
// Defaults to os.Stderr. Useful for testing.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	rebuild()
}

// With returns a structured logger carrying keyvals.
func With(keyvals ...any) *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.With(keyvals...)
}

// Debug prints a message if verbose mode is enabled.
func Debug(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	base.Debugf(format, args...)
}

// Section prints a section header if verbose mode is enabled.
func Section(name string) {
	mu.RLock()
	defer mu.RUnlock()
	base.Debugf("=== %s ===", name)
}

// Info prints an informational message if verbose mode is enabled.
func Info(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	base.Infof(format, args...)
}

// Warn prints a warning.
func Warn(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	base.Warnf(format, args...)
}

// Error prints an error.
func Error(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	base.Errorf(format, args...)
}
