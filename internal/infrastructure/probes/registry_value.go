package probes

import (
	"context"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/domain/state"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// RegistryValueSource reads the value named by a registry_flag_set target.
type RegistryValueSource struct {
	clock
	local ports.LocalStateClient
}

// NewRegistryValueSource creates the registry_flag_set source.
func NewRegistryValueSource(local ports.LocalStateClient) *RegistryValueSource {
	return &RegistryValueSource{local: local}
}

// Name implements ports.ProbeSource.
func (s *RegistryValueSource) Name() string { return "registry" }

// Observe implements ports.ProbeSource. Integer values are compared in their
// decimal form, so a desired "0x1" is normalised before comparison.
func (s *RegistryValueSource) Observe(ctx context.Context, target reconcile.ConvergenceTarget, confidence reconcile.Confidence) reconcile.ProbeResult {
	now := s.stamp()
	path := target.ParamOr(reconcile.ParamRegistryPath, "")
	name := target.ParamOr(reconcile.ParamRegistryName, "")

	v, ok, err := s.local.Read(ctx, path, name)
	if err != nil {
		return reconcile.Unavailable(s.Name(), confidence, now, err)
	}
	if !ok {
		return reconcile.Absent(s.Name(), confidence, now)
	}

	value := v.String()
	if desired, err := DesiredValue(target); err == nil && desired.Equal(v) {
		value = target.Desired()
	}
	r := reconcile.Observed(s.Name(), confidence, value, now)
	r.Detail = path + `\` + name
	return r
}

// DesiredValue parses the desired value with the target's declared type.
func DesiredValue(target reconcile.ConvergenceTarget) (state.Value, error) {
	kind := state.ValueKind(target.ParamOr(reconcile.ParamRegistryType, string(state.ValueString)))
	return state.ParseValue(kind, target.Desired())
}

var _ ports.ProbeSource = (*RegistryValueSource)(nil)
