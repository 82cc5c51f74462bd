package convergence

import (
	"context"
	"strings"
	"time"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
	convergoerrors "github.com/alexisbeaulieu97/convergo/pkg/errors"
)

// ApplyOptions tunes one apply run.
type ApplyOptions struct {
	Reconcile reconcile.Options
	// DryRun suppresses the escalation command and counter updates. Handlers
	// are expected to carry dry-run executors already.
	DryRun bool
	// EscalationThreshold forces a terminal outcome once a target has failed
	// in this many separate invocations. Zero disables escalation.
	EscalationThreshold int
	// EscalationCommand runs once per invocation when any target is forced
	// terminal.
	EscalationCommand []string
}

// Report is the result of an apply or verify run.
type Report struct {
	Summary   *reconcile.Summary
	JoinState reconcile.JoinState
	// Escalated is true when the escalation command ran.
	Escalated bool
	Started   time.Time
	Finished  time.Time
}

// ApplyUseCase reconciles every target of a plan in order.
type ApplyUseCase struct {
	handlers ports.HandlerRegistry
	counter  ports.ExecutionCounter
	invoker  ports.ProcessInvoker
	reporter *Reporter
	logger   ports.Logger
	events   ports.EventPublisher
	now      func() time.Time
}

// NewApplyUseCase constructs an ApplyUseCase with dependencies injected.
// counter and invoker may be nil when escalation is not configured.
func NewApplyUseCase(handlers ports.HandlerRegistry, counter ports.ExecutionCounter, invoker ports.ProcessInvoker, reporter *Reporter, logger ports.Logger, events ports.EventPublisher) *ApplyUseCase {
	return &ApplyUseCase{
		handlers: handlers,
		counter:  counter,
		invoker:  invoker,
		reporter: reporter,
		logger:   logger,
		events:   events,
		now:      time.Now,
	}
}

// Apply runs each target to a terminal outcome. Per-target failures are
// captured in the summary; only cancellation before any work starts is
// returned as an error.
func (u *ApplyUseCase) Apply(ctx context.Context, plan Plan, opts ApplyOptions) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, reconcile.NewError(reconcile.ErrCodeCancelled, "apply cancelled", err, nil)
	}
	if err := opts.Reconcile.Validate(); err != nil {
		return nil, err
	}

	report := &Report{Summary: reconcile.NewSummary(), Started: u.now()}
	if u.logger != nil {
		u.logger.Info(ctx, "applying plan", "targets", len(plan.Targets), "dry_run", opts.DryRun,
			"max_attempts", opts.Reconcile.MaxAttempts, "settle_delay", opts.Reconcile.SettleDelay.String())
	}

	outcomes := make(map[string]reconcile.Outcome, len(plan.Targets))
	forced := 0
	for _, target := range plan.Targets {
		outcome := u.reconcileTarget(ctx, target, opts)
		if outcome.Kind == reconcile.OutcomeForcedTerminal {
			forced++
		}
		outcomes[target.ID()] = outcome
		report.Summary.Add(outcome)
		if u.reporter != nil {
			u.reporter.Report(ctx, target, outcome)
		}
	}

	if forced > 0 {
		report.Escalated = u.escalate(ctx, opts, forced)
	}

	if plan.HasDevice() {
		report.JoinState = reconcile.CombineJoinState(outcomes[TargetEntraJoin], outcomes[TargetIntuneEnroll])
		if u.reporter != nil && !opts.DryRun {
			u.reporter.SetJoinState(ctx, plan.StatusField, report.JoinState)
		}
	}

	report.Finished = u.now()
	payload := map[string]interface{}{
		"total":                  report.Summary.Total,
		ports.PayloadFailed:      report.Summary.Failed() > 0,
		"dry_run":                opts.DryRun,
		ports.PayloadCompletedAt: report.Finished,
	}
	if report.JoinState != "" {
		payload[ports.PayloadJoinState] = string(report.JoinState)
	}
	publishEvent(ctx, u.events, u.logger, ports.EventRunCompleted, payload)

	if u.logger != nil {
		u.logger.Info(ctx, "plan applied", "total", report.Summary.Total, "failed", report.Summary.Failed(),
			"join_state", string(report.JoinState), "duration_ms", report.Finished.Sub(report.Started).Milliseconds())
	}
	return report, nil
}

func (u *ApplyUseCase) reconcileTarget(ctx context.Context, target reconcile.ConvergenceTarget, opts ApplyOptions) reconcile.Outcome {
	publishEvent(ctx, u.events, u.logger, ports.EventReconcileStarted, map[string]interface{}{
		ports.PayloadTargetID:   target.ID(),
		ports.PayloadTargetKind: string(target.Kind()),
	})

	handler, err := u.handlers.Get(target.Kind())
	if err != nil {
		return reconcile.Outcome{
			TargetID: target.ID(),
			Kind:     reconcile.OutcomeFailedFatal,
			Reason:   "no handler registered",
			Err:      convergoerrors.NewTargetError(target.ID(), string(target.Kind()), convergoerrors.PhaseReconcile, err),
		}
	}

	if u.logger != nil {
		u.logger.Debug(ctx, "reconciling target", "target_id", target.ID(), "target_kind", string(target.Kind()), "handler", handler.Metadata().Name)
	}
	outcome := reconcile.Reconcile(ctx, target, handler.Probe, handler.Act, opts.Reconcile)
	return u.applyEscalationPolicy(ctx, target, outcome, opts)
}

// applyEscalationPolicy maintains the cross-run execution counter: satisfied
// targets reset it, failures increment it, skipped targets only read it.
func (u *ApplyUseCase) applyEscalationPolicy(ctx context.Context, target reconcile.ConvergenceTarget, outcome reconcile.Outcome, opts ApplyOptions) reconcile.Outcome {
	if u.counter == nil || opts.DryRun || outcome.Projected {
		return outcome
	}

	key := target.ID()
	var (
		executions int
		err        error
	)
	switch {
	case outcome.IsSatisfied():
		err = u.counter.Reset(ctx, key)
	case outcome.Kind == reconcile.OutcomeSkipped:
		executions, err = u.counter.Get(ctx, key)
	default:
		executions, err = u.counter.Increment(ctx, key)
	}
	if err != nil {
		if u.logger != nil {
			u.logger.Warn(ctx, "execution counter unavailable", "target_id", key, "error", err)
		}
		return outcome
	}

	escalated := reconcile.Escalate(outcome, executions, opts.EscalationThreshold)
	if escalated.Kind != outcome.Kind && u.logger != nil {
		u.logger.Warn(ctx, "target forced terminal", "target_id", key, "executions", executions, "threshold", opts.EscalationThreshold)
	}
	return escalated
}

func (u *ApplyUseCase) escalate(ctx context.Context, opts ApplyOptions, forced int) bool {
	if len(opts.EscalationCommand) == 0 {
		return false
	}
	command := strings.Join(opts.EscalationCommand, " ")
	if opts.DryRun {
		if u.logger != nil {
			u.logger.Info(ctx, "dry-run: escalation command suppressed", "command", command, "forced", forced)
		}
		return false
	}
	if u.invoker == nil {
		if u.logger != nil {
			u.logger.Warn(ctx, "escalation command configured without a process invoker", "command", command)
		}
		return false
	}

	res, err := u.invoker.Run(ctx, opts.EscalationCommand[0], opts.EscalationCommand[1:]...)
	switch {
	case err != nil:
		if u.logger != nil {
			u.logger.Error(ctx, "escalation command failed to run", "command", command, "error", err)
		}
		return false
	case !res.Success():
		if u.logger != nil {
			u.logger.Error(ctx, "escalation command failed", "command", command, "exit_code", res.ExitCode, "stderr", res.Stderr)
		}
		return false
	}
	if u.logger != nil {
		u.logger.Warn(ctx, "escalation command ran", "command", command, "forced", forced)
	}
	return true
}
