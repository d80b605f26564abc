package core

import (
	"log/slog"
	"sync/atomic"
)

// logger is the logger set through SetLogger. Nil means "use the default".
var logger atomic.Pointer[slog.Logger]

// defaultLogger caches slog.Default() with the clusterenv component attribute.
// It is dropped by SetLogger so a later slog.SetDefault is picked up.
var defaultLogger atomic.Pointer[slog.Logger]

// Logger returns the package logger. Safe for concurrent use.
func Logger() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	l := newDefaultLogger()
	if defaultLogger.CompareAndSwap(nil, l) {
		return l
	}
	if l2 := defaultLogger.Load(); l2 != nil {
		return l2
	}
	return l
}

func newDefaultLogger() *slog.Logger {
	return slog.Default().With("component", "clusterenv")
}

// SetLogger replaces the package logger. A nil l restores the default,
// re-derived from slog.Default() on the next Logger call.
func SetLogger(l *slog.Logger) {
	logger.Store(l)
	defaultLogger.Store(nil)
}
