// Package logger provides the process-wide logging capability for the mesh
// gateway, both as a CLI and when deployed as a service.
//
// New code should inject *slog.Logger directly; use [Get] to obtain the
// underlying logger for injection.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
)

// singleton is the package-level logger created by Initialize.
// Accessed atomically to be safe for concurrent use across goroutines.
var singleton atomic.Pointer[slog.Logger]

func init() {
	// Set a default logger so callers that skip Initialize() don't panic.
	singleton.Store(newLogger(slog.LevelInfo, unstructuredLogs()))
}

func newLogger(level slog.Level, unstructured bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if unstructured {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func get() *slog.Logger {
	return singleton.Load()
}

// Get returns the underlying *slog.Logger for injection into structs.
func Get() *slog.Logger {
	return get()
}

// Set replaces the singleton logger. Intended for tests that capture log
// output; production code goes through [Initialize].
func Set(l *slog.Logger) {
	singleton.Store(l)
}

// Debug logs msg at debug level.
func Debug(msg string) {
	get().Debug(msg)
}

// Debugf logs a Printf-formatted message at debug level.
func Debugf(msg string, args ...any) {
	get().Debug(fmt.Sprintf(msg, args...))
}

// Debugw logs msg at debug level with slog key-value pairs.
func Debugw(msg string, keysAndValues ...any) {
	get().Debug(msg, keysAndValues...)
}

// Info logs msg at info level.
func Info(msg string) {
	get().Info(msg)
}

// Infof logs a Printf-formatted message at info level.
func Infof(msg string, args ...any) {
	get().Info(fmt.Sprintf(msg, args...))
}

// Infow logs msg at info level with slog key-value pairs.
func Infow(msg string, keysAndValues ...any) {
	get().Info(msg, keysAndValues...)
}

// Warn logs msg at warning level.
func Warn(msg string) {
	get().Warn(msg)
}

// Warnf logs a Printf-formatted message at warning level.
func Warnf(msg string, args ...any) {
	get().Warn(fmt.Sprintf(msg, args...))
}

// Warnw logs msg at warning level with slog key-value pairs.
func Warnw(msg string, keysAndValues ...any) {
	get().Warn(msg, keysAndValues...)
}

// Error logs msg at error level.
func Error(msg string) {
	get().Error(msg)
}

// Errorf logs a Printf-formatted message at error level.
func Errorf(msg string, args ...any) {
	get().Error(fmt.Sprintf(msg, args...))
}

// Errorw logs msg at error level with slog key-value pairs.
func Errorw(msg string, keysAndValues ...any) {
	get().Error(msg, keysAndValues...)
}

// Fatal logs msg at error level and exits the process.
func Fatal(msg string) {
	get().Error(msg)
	os.Exit(1)
}

// Fatalf logs a Printf-formatted message at error level and exits the
// process.
func Fatalf(msg string, args ...any) {
	get().Error(fmt.Sprintf(msg, args...))
	os.Exit(1)
}

// Initialize configures the singleton at info level. The UNSTRUCTURED_LOGS
// env var picks between plain text and structured JSON output.
func Initialize() {
	InitializeWithOptions(false)
}

// InitializeWithOptions configures the singleton, optionally enabling debug
// level output.
func InitializeWithOptions(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	singleton.Store(newLogger(level, unstructuredLogs()))
}

func unstructuredLogs() bool {
	unstructured, err := strconv.ParseBool(os.Getenv("UNSTRUCTURED_LOGS"))
	if err != nil {
		// unset or unparsable means plain text, which suits CLI usage
		return true
	}
	return unstructured
}
