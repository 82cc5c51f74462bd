package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultMaxAttempts matches the two-to-three tries of the field scripts.
const DefaultMaxAttempts = 3

// DefaultSettleDelay is the wait between an action and the re-probe.
const DefaultSettleDelay = 30 * time.Second

// ProbeFunc reads the current state of a target from every configured
// source, primary first. It must not mutate external state and reports an
// unreachable source as an Unavailable result rather than failing.
type ProbeFunc func(ctx context.Context, target ConvergenceTarget) []ProbeResult

// ActFunc applies one idempotent corrective action.
type ActFunc func(ctx context.Context, target ConvergenceTarget) ActionResult

// Options tunes a reconciliation run.
type Options struct {
	MaxAttempts int
	SettleDelay time.Duration
	// Sleep waits for the settle delay; it must return early with ctx.Err()
	// when the context is cancelled. Defaults to a timer-based wait.
	Sleep func(ctx context.Context, d time.Duration) error
	// Now supplies timestamps. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns the stock retry budget and settle delay.
func DefaultOptions() Options {
	return Options{MaxAttempts: DefaultMaxAttempts, SettleDelay: DefaultSettleDelay}
}

func (o Options) withDefaults() Options {
	if o.Sleep == nil {
		o.Sleep = SleepContext
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Validate checks the retry budget.
func (o Options) Validate() error {
	if o.MaxAttempts < 1 {
		return newValidationError("max attempts must be at least 1", map[string]interface{}{"max_attempts": o.MaxAttempts})
	}
	if o.SettleDelay < 0 {
		return newValidationError("settle delay must be non-negative", map[string]interface{}{"settle_delay": o.SettleDelay.String()})
	}
	return nil
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Reconcile drives one target to a terminal outcome:
//
//	Initial → Probing → {Satisfied | ActionNeeded} → Acting → Reprobing
//	        → {Converged | Retrying | FailedFatal}
//
// The executor is never invoked when the first probe is already satisfied,
// is invoked at most MaxAttempts times otherwise, and fatal errors from
// either capability end the run without consuming further attempts. The
// function performs no I/O of its own.
func Reconcile(ctx context.Context, target ConvergenceTarget, probe ProbeFunc, act ActFunc, opts Options) Outcome {
	if ctx == nil {
		ctx = context.Background()
	}
	opts = opts.withDefaults()
	start := opts.Now()

	out := Outcome{TargetID: target.ID()}
	finish := func(kind OutcomeKind, reason string, err error) Outcome {
		out.Kind = kind
		out.Reason = reason
		out.Err = err
		out.Duration = opts.Now().Sub(start)
		return out
	}

	if err := opts.Validate(); err != nil {
		return finish(OutcomeFailedFatal, "invalid reconciliation options", err)
	}
	if probe == nil || act == nil {
		return finish(OutcomeFailedFatal, "probe and action capabilities are required",
			NewError(ErrCodeInternal, "missing capability", nil, map[string]interface{}{"target_id": target.ID()}))
	}
	if err := ctx.Err(); err != nil {
		return finish(OutcomeFailedFatal, "cancelled before probing", cancelledError(err))
	}

	initial := Decide(target, probe(ctx, target))
	out.Initial = initial
	switch initial.Verdict {
	case VerdictSatisfied:
		return finish(OutcomeAlreadySatisfied, initial.Reason, nil)
	case VerdictBlocked:
		return finish(OutcomeFailedFatal, initial.Reason, initial.Err)
	case VerdictUnknown:
		return finish(OutcomeSkipped, initial.Reason, initial.Err)
	}

	current := initial
	var lastErr error
	for n := 1; n <= opts.MaxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return finish(OutcomeFailedFatal, "cancelled before acting", cancelledError(err))
		}

		attemptStart := opts.Now()
		result := act(ctx, target)
		attempt := Attempt{Number: n, Start: current, Action: result}

		if result.Status == ActionSimulated {
			attempt.Duration = opts.Now().Sub(attemptStart)
			out.Attempts = append(out.Attempts, attempt)
			out.Projected = true
			return finish(OutcomeConverged, result.Reason, nil)
		}

		var actionErr error
		if result.Status == ActionFailed {
			if err := ctx.Err(); err != nil {
				attempt.Duration = opts.Now().Sub(attemptStart)
				out.Attempts = append(out.Attempts, attempt)
				return finish(OutcomeFailedFatal, "cancelled while acting", cancelledError(err))
			}
			if IsFatal(result.Err) {
				attempt.Duration = opts.Now().Sub(attemptStart)
				out.Attempts = append(out.Attempts, attempt)
				return finish(OutcomeFailedFatal, result.Reason, result.Err)
			}
			// A tool can exit non-zero and still have taken effect; the
			// re-probe decides.
			actionErr = asActionError(result, target)
		}

		if err := opts.Sleep(ctx, opts.SettleDelay); err != nil {
			attempt.Duration = opts.Now().Sub(attemptStart)
			out.Attempts = append(out.Attempts, attempt)
			return finish(OutcomeFailedFatal, "cancelled while settling", cancelledError(err))
		}

		end := Decide(target, probe(ctx, target))
		attempt.End = &end
		attempt.Duration = opts.Now().Sub(attemptStart)
		out.Attempts = append(out.Attempts, attempt)

		switch end.Verdict {
		case VerdictSatisfied:
			return finish(OutcomeConverged, end.Reason, nil)
		case VerdictBlocked:
			return finish(OutcomeFailedFatal, end.Reason, end.Err)
		}
		current = end
		lastErr = end.Err
		if actionErr != nil {
			lastErr = actionErr
		}
	}

	reason := fmt.Sprintf("target not satisfied after %d attempt(s)", opts.MaxAttempts)
	if lastErr == nil {
		lastErr = NewError(ErrCodeActionFailed, reason, nil, map[string]interface{}{"target_id": target.ID()})
	}
	return finish(OutcomeFailedRetriesExhausted, reason, lastErr)
}

func asActionError(result ActionResult, target ConvergenceTarget) error {
	var dErr *DomainError
	if errors.As(result.Err, &dErr) {
		return result.Err
	}
	return ActionError(result.Description, result.Err, map[string]interface{}{"target_id": target.ID()})
}

// Escalate applies the caller-level execution-count policy: once a target
// that is still unsatisfied has been attempted in at least threshold
// separate invocations, its outcome becomes OutcomeForcedTerminal. A
// non-positive threshold disables escalation; projected outcomes are never
// escalated.
func Escalate(o Outcome, executions, threshold int) Outcome {
	if threshold <= 0 || o.Projected || o.IsSatisfied() || executions < threshold {
		return o
	}
	forced := o
	forced.Attempts = append([]Attempt(nil), o.Attempts...)
	forced.Kind = OutcomeForcedTerminal
	forced.Reason = fmt.Sprintf("forced after %d executions (threshold %d): %s", executions, threshold, o.Reason)
	return forced
}
