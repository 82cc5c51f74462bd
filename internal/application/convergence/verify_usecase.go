package convergence

import (
	"context"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// Verification is the read-only state of one target.
type Verification struct {
	Target   reconcile.ConvergenceTarget
	Decision reconcile.Decision
}

// Satisfied reports whether any source observed the desired value.
func (v Verification) Satisfied() bool {
	return v.Decision.Verdict == reconcile.VerdictSatisfied
}

// VerifyReport lists every verification in plan order.
type VerifyReport struct {
	Results   []Verification
	JoinState reconcile.JoinState
}

// Counts returns the number of targets per verdict.
func (r VerifyReport) Counts() map[reconcile.Verdict]int {
	counts := make(map[reconcile.Verdict]int)
	for _, v := range r.Results {
		counts[v.Decision.Verdict]++
	}
	return counts
}

// AllSatisfied reports whether every target is already in its desired state.
func (r VerifyReport) AllSatisfied() bool {
	for _, v := range r.Results {
		if !v.Satisfied() {
			return false
		}
	}
	return true
}

// VerifyUseCase probes targets without acting on them.
type VerifyUseCase struct {
	handlers ports.HandlerRegistry
	logger   ports.Logger
}

// NewVerifyUseCase constructs a VerifyUseCase with dependencies injected.
func NewVerifyUseCase(handlers ports.HandlerRegistry, logger ports.Logger) *VerifyUseCase {
	return &VerifyUseCase{handlers: handlers, logger: logger}
}

// Verify probes each target once and applies source precedence.
func (u *VerifyUseCase) Verify(ctx context.Context, plan Plan) (*VerifyReport, error) {
	report := &VerifyReport{}
	satisfied := make(map[string]bool, len(plan.Targets))

	for _, target := range plan.Targets {
		if err := ctx.Err(); err != nil {
			return report, reconcile.NewError(reconcile.ErrCodeCancelled, "verification cancelled", err, nil)
		}
		handler, err := u.handlers.Get(target.Kind())
		if err != nil {
			return report, err
		}

		decision := reconcile.Decide(target, handler.Probe(ctx, target))
		report.Results = append(report.Results, Verification{Target: target, Decision: decision})
		satisfied[target.ID()] = decision.Verdict == reconcile.VerdictSatisfied

		if u.logger != nil {
			u.logger.Info(ctx, "target verified", "target_id", target.ID(), "target_kind", string(target.Kind()),
				"verdict", string(decision.Verdict), "source", decision.Source, "reason", decision.Reason)
		}
	}

	if plan.HasDevice() {
		report.JoinState = reconcile.CombineJoinState(verifiedOutcome(satisfied[TargetEntraJoin]), verifiedOutcome(satisfied[TargetIntuneEnroll]))
	}
	return report, nil
}

func verifiedOutcome(satisfied bool) reconcile.Outcome {
	if satisfied {
		return reconcile.Outcome{Kind: reconcile.OutcomeAlreadySatisfied}
	}
	return reconcile.Outcome{Kind: reconcile.OutcomeSkipped}
}
