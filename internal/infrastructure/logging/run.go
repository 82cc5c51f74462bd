package logging

import (
	"context"

	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// StartRun tags ctx with a fresh correlation id unless the caller already
// supplied one. Every command invocation is one run.
func StartRun(ctx context.Context) context.Context {
	if ports.GetCorrelationID(ctx) != "" {
		return ctx
	}
	return ports.WithCorrelationID(ctx, ports.GenerateCorrelationID())
}

// WithCorrelationID pins a known id, for tests and callers embedding convergo.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return ports.WithCorrelationID(ctx, id)
}

type discard struct{}

func (discard) Debug(context.Context, string, ...interface{}) {}
func (discard) Info(context.Context, string, ...interface{})  {}
func (discard) Warn(context.Context, string, ...interface{})  {}
func (discard) Error(context.Context, string, ...interface{}) {}
func (d discard) With(...interface{}) ports.Logger            { return d }

// NewNoOpLogger returns a logger that drops everything.
func NewNoOpLogger() ports.Logger {
	return discard{}
}
