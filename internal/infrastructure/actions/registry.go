package actions

import (
	"context"
	"fmt"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/probes"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// RegistryWrite sets the value named by a registry_flag_set target.
type RegistryWrite struct {
	local ports.LocalStateClient
}

// NewRegistryWrite creates the registry_flag_set executor.
func NewRegistryWrite(local ports.LocalStateClient) *RegistryWrite {
	return &RegistryWrite{local: local}
}

// Describe implements Describer.
func (w *RegistryWrite) Describe(target reconcile.ConvergenceTarget) string {
	return fmt.Sprintf(`set %s\%s = %s`,
		target.ParamOr(reconcile.ParamRegistryPath, ""),
		target.ParamOr(reconcile.ParamRegistryName, ""),
		target.Desired())
}

// Act implements ports.ActionExecutor. A value already at the desired state
// is left untouched.
func (w *RegistryWrite) Act(ctx context.Context, target reconcile.ConvergenceTarget) reconcile.ActionResult {
	desc := w.Describe(target)
	desired, err := probes.DesiredValue(target)
	if err != nil {
		return reconcile.Failed(desc, reconcile.PrerequisiteError("desired value does not match declared type",
			map[string]interface{}{"target_id": target.ID(), "error": err.Error()}))
	}

	path := target.ParamOr(reconcile.ParamRegistryPath, "")
	name := target.ParamOr(reconcile.ParamRegistryName, "")
	current, ok, err := w.local.Read(ctx, path, name)
	if err == nil && ok && current.Equal(desired) {
		return reconcile.ActionResult{Status: reconcile.ActionNoop, Description: desc}
	}

	if err := w.local.Write(ctx, path, name, desired); err != nil {
		if reconcile.CodeOf(err) == reconcile.ErrCodeValidation {
			return reconcile.Failed(desc, reconcile.PrerequisiteError(err.Error(), map[string]interface{}{"target_id": target.ID()}))
		}
		return reconcile.Failed(desc, err)
	}
	return reconcile.Applied(desc)
}

var (
	_ ports.ActionExecutor = (*RegistryWrite)(nil)
	_ Describer            = (*RegistryWrite)(nil)
)
