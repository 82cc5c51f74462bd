package ports

import (
	"context"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
)

// StateProbe reads the current state of a target from every configured
// source, primary first. It never mutates external state and reports an
// unreachable source with reconcile.Unavailable instead of failing.
type StateProbe interface {
	Probe(ctx context.Context, target reconcile.ConvergenceTarget) []reconcile.ProbeResult
}

// ActionExecutor applies one corrective action. Implementations must be
// idempotent: acting on a target that is already met is an observable no-op.
// A failure that no retry can fix is returned as a reconcile.PrerequisiteError.
type ActionExecutor interface {
	Act(ctx context.Context, target reconcile.ConvergenceTarget) reconcile.ActionResult
}

// ProbeSource is one named source consulted by a StateProbe.
type ProbeSource interface {
	Name() string
	Observe(ctx context.Context, target reconcile.ConvergenceTarget, confidence reconcile.Confidence) reconcile.ProbeResult
}

// HandlerMetadata documents a handler for listings and diagnostics.
type HandlerMetadata struct {
	Name        string
	Kind        reconcile.TargetKind
	Description string
	Sources     []string
}

// Handler bundles the probe and executor for one target kind.
type Handler interface {
	Metadata() HandlerMetadata
	StateProbe
	ActionExecutor
}

// HandlerRegistry resolves handlers by target kind. The CLI populates it at
// startup; registries must be safe for concurrent reads.
type HandlerRegistry interface {
	Register(h Handler) error
	Get(kind reconcile.TargetKind) (Handler, error)
	List() []Handler
}
