package actions

import (
	"context"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// DryRun wraps an executor so that it only reports what it would do. The
// wrapped executor is never invoked.
type DryRun struct {
	inner ports.ActionExecutor
}

// NewDryRun wraps inner.
func NewDryRun(inner ports.ActionExecutor) *DryRun {
	return &DryRun{inner: inner}
}

// Act implements ports.ActionExecutor.
func (d *DryRun) Act(_ context.Context, target reconcile.ConvergenceTarget) reconcile.ActionResult {
	desc := "act on " + target.String()
	if describer, ok := d.inner.(Describer); ok {
		desc = describer.Describe(target)
	}
	return reconcile.Simulated(desc)
}

var _ ports.ActionExecutor = (*DryRun)(nil)
