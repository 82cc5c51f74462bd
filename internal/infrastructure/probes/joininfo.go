package probes

import (
	"context"
	"strconv"
	"strings"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/localstate"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// JoinInfoPath holds one subkey per Entra join certificate.
const JoinInfoPath = `HKLM\SYSTEM\CurrentControlSet\Control\CloudDomainJoin\JoinInfo`

// JoinInfoSource is the registry fallback for Entra join state. A JoinInfo
// subkey carrying a TenantId means the device holds a join certificate.
type JoinInfoSource struct {
	clock
	local ports.LocalStateClient
}

// NewJoinInfoSource creates the device_joined registry fallback.
func NewJoinInfoSource(local ports.LocalStateClient) *JoinInfoSource {
	return &JoinInfoSource{local: local}
}

// Name implements ports.ProbeSource.
func (s *JoinInfoSource) Name() string { return "registry:joininfo" }

// Observe implements ports.ProbeSource.
func (s *JoinInfoSource) Observe(ctx context.Context, target reconcile.ConvergenceTarget, confidence reconcile.Confidence) reconcile.ProbeResult {
	now := s.stamp()
	subkeys, err := s.local.EnumerateSubkeys(ctx, JoinInfoPath)
	if err != nil {
		return reconcile.Unavailable(s.Name(), confidence, now, err)
	}
	if len(subkeys) == 0 {
		return reconcile.Absent(s.Name(), confidence, now)
	}

	wantTenant := target.ParamOr(reconcile.ParamTenantID, "")
	for _, sub := range subkeys {
		v, ok, err := s.local.Read(ctx, localstate.JoinPath(JoinInfoPath, sub), "TenantId")
		if err != nil {
			return reconcile.Unavailable(s.Name(), confidence, now, err)
		}
		if !ok || v.String() == "" {
			continue
		}
		if wantTenant == "" || strings.EqualFold(v.String(), wantTenant) {
			return reconcile.Observed(s.Name(), confidence, strconv.FormatBool(true), now)
		}
	}
	return reconcile.Observed(s.Name(), confidence, strconv.FormatBool(false), now)
}

var _ ports.ProbeSource = (*JoinInfoSource)(nil)
