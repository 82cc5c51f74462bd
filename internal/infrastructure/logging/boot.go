package logging

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

const defaultBufferLimit = 1000

type bootEntry struct {
	ctx    context.Context
	level  zerolog.Level
	msg    string
	fields []interface{}
}

// EventBuffer holds entries logged while the configuration that picks the
// real level and format is still loading. When full, the oldest entry goes.
type EventBuffer struct {
	mu      sync.Mutex
	limit   int
	entries []bootEntry
	dropped int
}

// NewEventBuffer creates a buffer holding up to limit entries; zero or less
// selects 1000.
func NewEventBuffer(limit int) *EventBuffer {
	if limit <= 0 {
		limit = defaultBufferLimit
	}
	return &EventBuffer{limit: limit, entries: make([]bootEntry, 0, limit)}
}

func (b *EventBuffer) add(entry bootEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == b.limit {
		b.entries = append(b.entries[:0], b.entries[1:]...)
		b.dropped++
	}
	b.entries = append(b.entries, entry)
}

// Flush replays the buffered entries into delegate in order and empties the
// buffer. A warning counting dropped entries precedes them.
func (b *EventBuffer) Flush(delegate ports.Logger) {
	if delegate == nil {
		return
	}
	b.mu.Lock()
	entries := append([]bootEntry(nil), b.entries...)
	dropped := b.dropped
	b.entries = b.entries[:0]
	b.dropped = 0
	b.mu.Unlock()

	if dropped > 0 {
		delegate.Warn(context.Background(), "early log entries dropped", "dropped", dropped)
	}
	for _, e := range entries {
		switch e.level {
		case zerolog.DebugLevel:
			delegate.Debug(e.ctx, e.msg, e.fields...)
		case zerolog.WarnLevel:
			delegate.Warn(e.ctx, e.msg, e.fields...)
		case zerolog.ErrorLevel:
			delegate.Error(e.ctx, e.msg, e.fields...)
		default:
			delegate.Info(e.ctx, e.msg, e.fields...)
		}
	}
}

// BufferedLogger is the ports.Logger used before the configured logger
// exists; it writes into an EventBuffer.
type BufferedLogger struct {
	buffer *EventBuffer
	fields []interface{}
}

// NewBufferedLogger returns a logger backed by buffer.
func NewBufferedLogger(buffer *EventBuffer) *BufferedLogger {
	return &BufferedLogger{buffer: buffer}
}

func (l *BufferedLogger) Debug(ctx context.Context, msg string, fields ...interface{}) {
	l.record(ctx, zerolog.DebugLevel, msg, fields)
}

func (l *BufferedLogger) Info(ctx context.Context, msg string, fields ...interface{}) {
	l.record(ctx, zerolog.InfoLevel, msg, fields)
}

func (l *BufferedLogger) Warn(ctx context.Context, msg string, fields ...interface{}) {
	l.record(ctx, zerolog.WarnLevel, msg, fields)
}

func (l *BufferedLogger) Error(ctx context.Context, msg string, fields ...interface{}) {
	l.record(ctx, zerolog.ErrorLevel, msg, fields)
}

func (l *BufferedLogger) With(fields ...interface{}) ports.Logger {
	return &BufferedLogger{buffer: l.buffer, fields: append(append([]interface{}{}, l.fields...), fields...)}
}

func (l *BufferedLogger) record(ctx context.Context, level zerolog.Level, msg string, fields []interface{}) {
	if l == nil || l.buffer == nil {
		return
	}
	l.buffer.add(bootEntry{
		ctx:    ctx,
		level:  level,
		msg:    msg,
		fields: append(append([]interface{}{}, l.fields...), fields...),
	})
}
