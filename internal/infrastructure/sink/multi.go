package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// Named labels a sink in fan-out diagnostics.
type Named struct {
	Name string
	Sink ports.StatusSink
}

// Multi fans every call out to all sinks. One failing sink never stops the
// others; failures are logged and joined.
type Multi struct {
	sinks  []Named
	logger ports.Logger
}

// NewMulti combines sinks.
func NewMulti(logger ports.Logger, sinks ...Named) *Multi {
	return &Multi{sinks: sinks, logger: logger}
}

// Len returns how many sinks are attached.
func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) each(ctx context.Context, op string, fn func(ports.StatusSink) error) error {
	var errs []error
	for _, s := range m.sinks {
		if err := fn(s.Sink); err != nil {
			if m.logger != nil {
				m.logger.Warn(ctx, "status sink failed", "sink", s.Name, "operation", op, "error", err)
			}
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// SetStatus implements ports.StatusSink.
func (m *Multi) SetStatus(ctx context.Context, field, value string) error {
	return m.each(ctx, "set_status", func(s ports.StatusSink) error { return s.SetStatus(ctx, field, value) })
}

// AppendRow implements ports.StatusSink.
func (m *Multi) AppendRow(ctx context.Context, sinkID string, record ports.Record) error {
	return m.each(ctx, "append_row", func(s ports.StatusSink) error { return s.AppendRow(ctx, sinkID, record) })
}

// Close implements ports.StatusSink.
func (m *Multi) Close(ctx context.Context) error {
	return m.each(ctx, "close", func(s ports.StatusSink) error { return s.Close(ctx) })
}

var _ ports.StatusSink = (*Multi)(nil)
