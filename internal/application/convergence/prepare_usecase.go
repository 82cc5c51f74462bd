package convergence

import (
	"context"
	"sort"
	"strconv"

	"github.com/alexisbeaulieu97/convergo/internal/config"
	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
	convergoerrors "github.com/alexisbeaulieu97/convergo/pkg/errors"
)

// Identifiers of the targets derived from the device section.
const (
	TargetEntraJoin    = "entra-join"
	TargetIntuneEnroll = "intune-enroll"
)

// Plan is the ordered list of targets for one invocation.
type Plan struct {
	Targets []reconcile.ConvergenceTarget
	// StatusField names the scalar JoinState field; empty when the
	// configuration has no device section.
	StatusField string
}

// HasDevice reports whether the plan came from a device section, in which
// case a JoinState is published after the run.
func (p Plan) HasDevice() bool {
	return p.StatusField != ""
}

// Kinds lists the distinct target kinds in sorted order.
func (p Plan) Kinds() []reconcile.TargetKind {
	seen := make(map[reconcile.TargetKind]struct{})
	for _, t := range p.Targets {
		seen[t.Kind()] = struct{}{}
	}
	kinds := make([]reconcile.TargetKind, 0, len(seen))
	for k := range seen {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// BuildPlan maps the configuration onto domain targets: the Entra join
// first, then the Intune enrollment, then every enabled configured target in
// file order.
func BuildPlan(cfg *config.Config) (Plan, error) {
	var plan Plan
	if cfg == nil {
		return plan, reconcile.NewError(reconcile.ErrCodeValidation, "configuration is required", nil, nil)
	}

	if d := cfg.Device; d != nil {
		plan.StatusField = d.StatusField
		if !d.SkipEntra {
			params := map[string]string{
				reconcile.ParamRequireDomainJoin: strconv.FormatBool(d.DomainJoinRequired()),
			}
			if d.TenantID != "" {
				params[reconcile.ParamTenantID] = d.TenantID
			}
			if d.MinOSBuild != "" {
				params[reconcile.ParamMinOSBuild] = d.MinOSBuild
			}
			target, err := reconcile.NewTarget(TargetEntraJoin, reconcile.KindDeviceJoined, reconcile.DesiredTrue, params)
			if err != nil {
				return Plan{}, convergoerrors.NewTargetError(TargetEntraJoin, string(reconcile.KindDeviceJoined), convergoerrors.PhasePrepare, err)
			}
			plan.Targets = append(plan.Targets, target)
		}
		if !d.SkipIntune {
			params := map[string]string{reconcile.ParamProviderID: d.ProviderID}
			if d.TenantID != "" {
				params[reconcile.ParamTenantID] = d.TenantID
			}
			target, err := reconcile.NewTarget(TargetIntuneEnroll, reconcile.KindMDMEnrolled, reconcile.DesiredTrue, params)
			if err != nil {
				return Plan{}, convergoerrors.NewTargetError(TargetIntuneEnroll, string(reconcile.KindMDMEnrolled), convergoerrors.PhasePrepare, err)
			}
			plan.Targets = append(plan.Targets, target)
		}
	}

	for _, t := range cfg.Targets {
		if !t.Enabled {
			continue
		}
		target, err := config.ToDomainTarget(t)
		if err != nil {
			return Plan{}, convergoerrors.NewTargetError(t.ID, t.Kind, convergoerrors.PhasePrepare, err)
		}
		plan.Targets = append(plan.Targets, target)
	}
	return plan, nil
}

// PrepareUseCase turns a loaded configuration into a plan whose every
// target kind has a registered handler.
type PrepareUseCase struct {
	handlers ports.HandlerRegistry
	logger   ports.Logger
}

// NewPrepareUseCase constructs a prepare use case with the required ports.
func NewPrepareUseCase(handlers ports.HandlerRegistry, logger ports.Logger) *PrepareUseCase {
	return &PrepareUseCase{handlers: handlers, logger: logger}
}

// Prepare builds the plan and fails fast when a handler is missing.
func (u *PrepareUseCase) Prepare(ctx context.Context, cfg *config.Config) (Plan, error) {
	plan, err := BuildPlan(cfg)
	if err != nil {
		if u.logger != nil {
			u.logger.Error(ctx, "failed to build plan", "error", err)
		}
		return Plan{}, err
	}

	var missing []string
	for _, kind := range plan.Kinds() {
		if _, err := u.handlers.Get(kind); err != nil {
			missing = append(missing, string(kind))
		}
	}
	if len(missing) > 0 {
		err := reconcile.NewError(reconcile.ErrCodeNotFound, "no handler registered for target kinds", nil,
			map[string]interface{}{"target_kinds": missing})
		if u.logger != nil {
			u.logger.Error(ctx, "plan references unknown target kinds", "target_kinds", missing)
		}
		return Plan{}, err
	}

	if u.logger != nil {
		u.logger.Debug(ctx, "plan prepared", "targets", len(plan.Targets), "device", plan.HasDevice())
	}
	return plan, nil
}
