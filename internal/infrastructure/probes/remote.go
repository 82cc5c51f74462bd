package probes

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// RemoteImmutableIDSource reads onPremisesImmutableId of the cloud principal
// named by the target's remote_key.
type RemoteImmutableIDSource struct {
	clock
	remote ports.RemoteIdentityClient
}

// NewRemoteImmutableIDSource creates the immutable_id_set source.
func NewRemoteImmutableIDSource(remote ports.RemoteIdentityClient) *RemoteImmutableIDSource {
	return &RemoteImmutableIDSource{remote: remote}
}

// Name implements ports.ProbeSource.
func (s *RemoteImmutableIDSource) Name() string { return "graph" }

// Observe implements ports.ProbeSource. A missing or duplicated principal and
// a principal already anchored to a different object are prerequisite
// failures: overwriting an anchor would move another account's identity.
func (s *RemoteImmutableIDSource) Observe(ctx context.Context, target reconcile.ConvergenceTarget, confidence reconcile.Confidence) reconcile.ProbeResult {
	now := s.stamp()
	key := target.ParamOr(reconcile.ParamRemoteKey, "")

	records, err := s.remote.LookupByKey(ctx, key)
	if err != nil && !errors.Is(err, reconcile.ErrNotFound) {
		return reconcile.Unavailable(s.Name(), confidence, now, err)
	}
	switch len(records) {
	case 0:
		return reconcile.PrerequisiteFailed(s.Name(), confidence, now, fmt.Sprintf("remote principal %s not found", key))
	case 1:
	default:
		return reconcile.PrerequisiteFailed(s.Name(), confidence, now, fmt.Sprintf("%d remote principals answer to %s", len(records), key))
	}

	current := records[0].ImmutableID
	if current == "" {
		return reconcile.Absent(s.Name(), confidence, now)
	}
	if current != target.Desired() {
		r := reconcile.PrerequisiteFailed(s.Name(), confidence, now,
			fmt.Sprintf("remote principal %s is anchored to a different immutable id", key))
		r.Value = current
		return r
	}
	return reconcile.Observed(s.Name(), confidence, current, now)
}

var _ ports.ProbeSource = (*RemoteImmutableIDSource)(nil)
