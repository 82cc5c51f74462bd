package probes

import (
	"context"
	"strconv"
	"strings"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/domain/state"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/localstate"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// EnrollmentsPath holds one subkey per MDM enrollment.
const EnrollmentsPath = `HKLM\SOFTWARE\Microsoft\Enrollments`

// DefaultProviderID identifies Intune enrollments.
const DefaultProviderID = "MS DM Server"

// enrolledState is the EnrollmentState of a completed enrollment.
const enrolledState = 1

// Enrollment is one subkey of the enrollments store.
type Enrollment struct {
	ID         string
	ProviderID string
	State      uint64
	UPN        string
}

// Active reports a completed enrollment by the given provider. Provider ids
// compare case-insensitively.
func (e Enrollment) Active(providerID string) bool {
	return e.State == enrolledState && strings.EqualFold(e.ProviderID, providerID)
}

// ScanEnrollments reads every enrollment subkey. Subkeys without a
// ProviderID, such as the Context and Status containers, are skipped.
func ScanEnrollments(ctx context.Context, local ports.LocalStateClient) ([]Enrollment, error) {
	subkeys, err := local.EnumerateSubkeys(ctx, EnrollmentsPath)
	if err != nil {
		return nil, err
	}
	var out []Enrollment
	for _, sub := range subkeys {
		path := localstate.JoinPath(EnrollmentsPath, sub)
		provider, ok, err := local.Read(ctx, path, "ProviderID")
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		e := Enrollment{ID: sub, ProviderID: provider.String()}
		if v, ok, err := local.Read(ctx, path, "EnrollmentState"); err != nil {
			return nil, err
		} else if ok && v.Kind != state.ValueString {
			e.State = v.Num
		}
		if v, ok, err := local.Read(ctx, path, "UPN"); err == nil && ok {
			e.UPN = v.String()
		}
		out = append(out, e)
	}
	return out, nil
}

// EnrollmentSource observes Intune enrollment through the registry. When no
// active enrollment exists and the device is not Entra joined, enrollment
// cannot succeed and the source reports a prerequisite failure.
type EnrollmentSource struct {
	clock
	local  ports.LocalStateClient
	joined func(ctx context.Context) (bool, error)
}

// NewEnrollmentSource creates the mdm_enrolled primary source. joined may be
// nil to skip the Entra join gate.
func NewEnrollmentSource(local ports.LocalStateClient, joined func(ctx context.Context) (bool, error)) *EnrollmentSource {
	return &EnrollmentSource{local: local, joined: joined}
}

// Name implements ports.ProbeSource.
func (s *EnrollmentSource) Name() string { return "registry:enrollments" }

// Observe implements ports.ProbeSource.
func (s *EnrollmentSource) Observe(ctx context.Context, target reconcile.ConvergenceTarget, confidence reconcile.Confidence) reconcile.ProbeResult {
	now := s.stamp()
	enrollments, err := ScanEnrollments(ctx, s.local)
	if err != nil {
		return reconcile.Unavailable(s.Name(), confidence, now, err)
	}

	provider := target.ParamOr(reconcile.ParamProviderID, DefaultProviderID)
	for _, e := range enrollments {
		if e.Active(provider) {
			r := reconcile.Observed(s.Name(), confidence, strconv.FormatBool(true), now)
			r.Detail = "enrollment " + e.ID
			return r
		}
	}

	if s.joined != nil {
		// A failed join check leaves the decision to the reconciler.
		if joined, err := s.joined(ctx); err == nil && !joined {
			return reconcile.PrerequisiteFailed(s.Name(), confidence, now, "device is not Entra joined")
		}
	}
	if len(enrollments) == 0 {
		return reconcile.Absent(s.Name(), confidence, now)
	}
	return reconcile.Observed(s.Name(), confidence, strconv.FormatBool(false), now)
}

var _ ports.ProbeSource = (*EnrollmentSource)(nil)
