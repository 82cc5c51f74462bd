package handlers

import (
	"context"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// Bundle pairs a probe with an executor under shared metadata.
type Bundle struct {
	meta     ports.HandlerMetadata
	probe    ports.StateProbe
	executor ports.ActionExecutor
}

// New builds a handler from its parts.
func New(meta ports.HandlerMetadata, probe ports.StateProbe, executor ports.ActionExecutor) *Bundle {
	return &Bundle{meta: meta, probe: probe, executor: executor}
}

// Metadata implements ports.Handler.
func (b *Bundle) Metadata() ports.HandlerMetadata {
	meta := b.meta
	meta.Sources = append([]string(nil), b.meta.Sources...)
	return meta
}

// Probe implements ports.StateProbe.
func (b *Bundle) Probe(ctx context.Context, target reconcile.ConvergenceTarget) []reconcile.ProbeResult {
	return b.probe.Probe(ctx, target)
}

// Act implements ports.ActionExecutor.
func (b *Bundle) Act(ctx context.Context, target reconcile.ConvergenceTarget) reconcile.ActionResult {
	return b.executor.Act(ctx, target)
}

// WithExecutor returns a copy of the bundle that acts through executor. The
// CLI uses it to wrap every handler for dry runs.
func (b *Bundle) WithExecutor(executor ports.ActionExecutor) *Bundle {
	clone := *b
	clone.executor = executor
	return &clone
}

// Executor exposes the wrapped executor.
func (b *Bundle) Executor() ports.ActionExecutor {
	return b.executor
}

var _ ports.Handler = (*Bundle)(nil)
