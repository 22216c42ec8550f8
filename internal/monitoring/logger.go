// Package monitoring holds the process-wide log streams shared by the
// vehicle packages.
//
// There are three streams. Ops carries lifecycle events and anything an
// operator has to act on. Diag carries day-to-day diagnostics such as turns
// and maneuvers. Trace carries per-frame controller telemetry and is off
// unless explicitly enabled.
package monitoring

import (
	"io"
	"log"
	"sync"
)

// Logf is the package-level diagnostic logger used by the command-line
// tools. It defaults to log.Printf but may be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// LogWriters holds the io.Writers for each logging stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// Logger writes to the three streams with a fixed component prefix.
type Logger struct {
	prefix string
}

var (
	mu      sync.RWMutex
	writers LogWriters
)

// SetLogWriters configures all three streams at once. Pass nil for any
// writer to disable that stream.
func SetLogWriters(w LogWriters) {
	mu.Lock()
	defer mu.Unlock()
	writers = w
}

// Component returns a Logger whose lines are prefixed with "[name] ".
func Component(name string) *Logger {
	return &Logger{prefix: "[" + name + "] "}
}

func (l *Logger) printf(w io.Writer, format string, args ...interface{}) {
	if w == nil {
		return
	}
	log.New(w, l.prefix, log.LstdFlags|log.Lmicroseconds).Printf(format, args...)
}

// Opsf logs to the ops stream.
func (l *Logger) Opsf(format string, args ...interface{}) {
	mu.RLock()
	w := writers.Ops
	mu.RUnlock()
	l.printf(w, format, args...)
}

// Diagf logs to the diag stream.
func (l *Logger) Diagf(format string, args ...interface{}) {
	mu.RLock()
	w := writers.Diag
	mu.RUnlock()
	l.printf(w, format, args...)
}

// Tracef logs to the trace stream.
func (l *Logger) Tracef(format string, args ...interface{}) {
	mu.RLock()
	w := writers.Trace
	mu.RUnlock()
	l.printf(w, format, args...)
}
