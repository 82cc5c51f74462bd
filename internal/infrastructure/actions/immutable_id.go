package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// ImmutableIDWrite anchors a cloud principal to its on-premises object by
// writing onPremisesImmutableId.
type ImmutableIDWrite struct {
	remote ports.RemoteIdentityClient
}

// NewImmutableIDWrite creates the immutable_id_set executor.
func NewImmutableIDWrite(remote ports.RemoteIdentityClient) *ImmutableIDWrite {
	return &ImmutableIDWrite{remote: remote}
}

// Describe implements Describer.
func (w *ImmutableIDWrite) Describe(target reconcile.ConvergenceTarget) string {
	return fmt.Sprintf("set %s of %s to %s", ports.AttributeImmutableID, target.ParamOr(reconcile.ParamRemoteKey, ""), target.Desired())
}

// Act implements ports.ActionExecutor.
func (w *ImmutableIDWrite) Act(ctx context.Context, target reconcile.ConvergenceTarget) reconcile.ActionResult {
	desc := w.Describe(target)
	key := target.ParamOr(reconcile.ParamRemoteKey, "")

	records, err := w.remote.LookupByKey(ctx, key)
	if err == nil && len(records) == 1 && records[0].ImmutableID == target.Desired() {
		return reconcile.ActionResult{Status: reconcile.ActionNoop, Description: desc}
	}

	if err := w.remote.SetAttribute(ctx, key, ports.AttributeImmutableID, target.Desired()); err != nil {
		if errors.Is(err, reconcile.ErrNotFound) {
			return reconcile.Failed(desc, reconcile.PrerequisiteError("remote principal not found",
				map[string]interface{}{"target_id": target.ID(), "remote_key": key}))
		}
		return reconcile.Failed(desc, err)
	}
	return reconcile.Applied(desc)
}

var (
	_ ports.ActionExecutor = (*ImmutableIDWrite)(nil)
	_ Describer            = (*ImmutableIDWrite)(nil)
)
