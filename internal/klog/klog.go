// Package klog implements the spec's logData/flushLog collaborator on top of
// log/slog: logData appends a structured record to an unbounded pending
// buffer, flushLog drains the buffer to the underlying handler. Callers that don't care about
// batching can just call Log directly, which does both in one step.
package klog

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Logger buffers structured records and flushes them to an slog.Handler.
type Logger struct {
	mu      sync.Mutex
	handler slog.Handler
	pending []slog.Record
}

// New wraps handler. A nil handler falls back to slog's default text handler
// on os.Stderr.
func New(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	return &Logger{handler: handler}
}

// Data appends a record to the pending buffer without emitting it yet. msg and
// attrs mirror the original C logData(char*) call sites, translated from
// sprintf'd strings into structured key/value pairs.
func (l *Logger) Data(level slog.Level, msg string, attrs ...slog.Attr) {
	r := slog.NewRecord(time.Now(), level, msg, 0)
	r.AddAttrs(attrs...)
	l.mu.Lock()
	l.pending = append(l.pending, r)
	l.mu.Unlock()
}

// Flush drains all pending records to the handler in order.
func (l *Logger) Flush() {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, r := range batch {
		if l.handler.Enabled(context.Background(), r.Level) {
			_ = l.handler.Handle(context.Background(), r)
		}
	}
}

// Log records and immediately flushes a single entry — the common case for
// call sites that used to pair logData with an unconditional flushLog.
func (l *Logger) Log(level slog.Level, msg string, attrs ...slog.Attr) {
	l.Data(level, msg, attrs...)
	l.Flush()
}
