// Package monitoring holds the daemon's logging hooks. Components log through
// Logf with a bracketed component prefix ("[bridge] ...") and emit verbose
// hot-path diagnostics through Debugf, which is silent unless a debug writer
// has been installed.
package monitoring

import (
	"io"
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

var debugLogger atomic.Pointer[log.Logger]

// SetDebugLogger installs a writer that receives per-sample and per-batch
// diagnostics. Pass nil to disable debug logging.
func SetDebugLogger(w io.Writer) {
	if w == nil {
		debugLogger.Store(nil)
		return
	}
	debugLogger.Store(log.New(w, "", log.LstdFlags|log.Lmicroseconds))
}

// DebugEnabled reports whether a debug writer is installed, so callers can
// skip building expensive arguments.
func DebugEnabled() bool {
	return debugLogger.Load() != nil
}

// Debugf logs formatted debug messages when a debug logger is configured.
func Debugf(format string, v ...interface{}) {
	if l := debugLogger.Load(); l != nil {
		l.Printf(format, v...)
	}
}
