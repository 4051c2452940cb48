// Package logger is the process-wide log for nestsync.
//
// Console lines go to stderr: Error always, everything else only with
// --verbose. An optional rotating file (SetFile) records Info, Warn and
// Error regardless of verbosity, and Debug when verbose, each line
// prefixed with an RFC 3339 timestamp.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

type level string

const (
	levelDebug level = "DEBUG"
	levelInfo  level = "INFO"
	levelWarn  level = "WARN"
	levelError level = "ERROR"
)

var (
	mu      sync.RWMutex
	verbose bool
	output  io.Writer = os.Stderr
	file    io.WriteCloser
)

// FileOptions controls log file rotation.
type FileOptions struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultFileOptions keeps three 10 MB files for up to four weeks.
func DefaultFileOptions() FileOptions {
	return FileOptions{MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28}
}

func SetVerbose(v bool) {
	mu.Lock()
	verbose = v
	mu.Unlock()
}

func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput replaces stderr as the console writer.
func SetOutput(w io.Writer) {
	mu.Lock()
	output = w
	mu.Unlock()
}

// SetFile attaches a rotating log file at path, closing any previous
// one. An empty path only detaches.
func SetFile(path string, opts FileOptions) {
	var w io.WriteCloser
	if path != "" {
		w = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		_ = file.Close()
	}
	file = w
}

// Close detaches and closes the log file.
func Close() {
	SetFile("", FileOptions{})
}

func Debug(format string, args ...any) { emit(levelDebug, format, args) }

func Info(format string, args ...any) { emit(levelInfo, format, args) }

func Warn(format string, args ...any) { emit(levelWarn, format, args) }

// Error is printed even without --verbose.
func Error(format string, args ...any) { emit(levelError, format, args) }

// Section prints a blank line and a banner in verbose mode.
func Section(name string) {
	mu.RLock()
	defer mu.RUnlock()
	if verbose {
		fmt.Fprintf(output, "\n=== %s ===\n", name)
	}
}

func emit(lvl level, format string, args []any) {
	mu.RLock()
	defer mu.RUnlock()

	msg := fmt.Sprintf(format, args...)
	if verbose || lvl == levelError {
		fmt.Fprintf(output, "[%s] %s\n", lvl, msg)
	}
	if file != nil && (verbose || lvl != levelDebug) {
		fmt.Fprintf(file, "%s [%s] %s\n", time.Now().Format(time.RFC3339), lvl, msg)
	}
}
