package convergence

import (
	"context"
	"strconv"
	"time"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// DefaultOutcomeSink is the export that receives one row per target.
const DefaultOutcomeSink = "outcomes"

// Outcome row columns.
const (
	ColumnRecordedAt = "recorded_at"
	ColumnTargetID   = "target_id"
	ColumnTargetKind = "target_kind"
	ColumnOutcome    = "outcome"
	ColumnReason     = "reason"
	ColumnAttempts   = "attempts"
	ColumnErrorCode  = "error_code"
	ColumnProjected  = "projected"
	ColumnDurationMS = "duration_ms"
)

// Reporter publishes terminal outcomes to the status sink, the log and the
// event stream. Sink failures are logged and never returned.
type Reporter struct {
	sink   ports.StatusSink
	sinkID string
	logger ports.Logger
	events ports.EventPublisher
	now    func() time.Time
}

// NewReporter builds a reporter. An empty sinkID selects DefaultOutcomeSink;
// a nil sink only logs and publishes.
func NewReporter(sink ports.StatusSink, sinkID string, logger ports.Logger, events ports.EventPublisher) *Reporter {
	if sinkID == "" {
		sinkID = DefaultOutcomeSink
	}
	return &Reporter{sink: sink, sinkID: sinkID, logger: logger, events: events, now: time.Now}
}

// Report records one terminal outcome.
func (r *Reporter) Report(ctx context.Context, target reconcile.ConvergenceTarget, outcome reconcile.Outcome) {
	fields := []interface{}{
		"target_id", target.ID(),
		"target_kind", string(target.Kind()),
		"outcome", string(outcome.Kind),
		"attempts", outcome.ActionCount(),
		"duration_ms", outcome.Duration.Milliseconds(),
	}
	if outcome.Projected {
		fields = append(fields, "projected", true)
	}
	if r.logger != nil {
		switch {
		case outcome.IsFailure():
			r.logger.Warn(ctx, "target failed", append(fields, "reason", outcome.Reason, "error", outcome.Err)...)
		case outcome.Kind == reconcile.OutcomeSkipped:
			r.logger.Warn(ctx, "target skipped", append(fields, "reason", outcome.Reason)...)
		default:
			r.logger.Info(ctx, "target reconciled", fields...)
		}
	}

	if r.sink != nil {
		if err := r.sink.AppendRow(ctx, r.sinkID, OutcomeRecord(target, outcome, r.now())); err != nil && r.logger != nil {
			r.logger.Warn(ctx, "failed to append outcome row", "sink_id", r.sinkID, "target_id", target.ID(), "error", err)
		}
	}

	statuses := make([]string, 0, len(outcome.Attempts))
	for _, attempt := range outcome.Attempts {
		statuses = append(statuses, string(attempt.Action.Status))
	}
	payload := map[string]interface{}{
		ports.PayloadTargetID:     target.ID(),
		ports.PayloadTargetKind:   string(target.Kind()),
		ports.PayloadOutcome:      string(outcome.Kind),
		ports.PayloadActionStatus: statuses,
		ports.PayloadDuration:     outcome.Duration.Seconds(),
		ports.PayloadFailed:       outcome.IsFailure(),
	}
	if outcome.Reason != "" {
		payload["reason"] = outcome.Reason
	}
	publishEvent(ctx, r.events, r.logger, ports.EventReconcileOutcome, payload)
}

// SetJoinState writes the composite status field.
func (r *Reporter) SetJoinState(ctx context.Context, field string, state reconcile.JoinState) {
	if r.logger != nil {
		r.logger.Info(ctx, "join state", "field", field, "state", string(state))
	}
	if r.sink == nil || field == "" {
		return
	}
	if err := r.sink.SetStatus(ctx, field, string(state)); err != nil && r.logger != nil {
		r.logger.Warn(ctx, "failed to set status field", "field", field, "error", err)
	}
}

// OutcomeRecord renders an outcome as an export row.
func OutcomeRecord(target reconcile.ConvergenceTarget, outcome reconcile.Outcome, at time.Time) ports.Record {
	return ports.Record{
		{Name: ColumnRecordedAt, Value: at.UTC().Format(time.RFC3339)},
		{Name: ColumnTargetID, Value: target.ID()},
		{Name: ColumnTargetKind, Value: string(target.Kind())},
		{Name: ColumnOutcome, Value: string(outcome.Kind)},
		{Name: ColumnReason, Value: outcome.Reason},
		{Name: ColumnAttempts, Value: strconv.Itoa(outcome.ActionCount())},
		{Name: ColumnErrorCode, Value: string(outcome.ErrorCode())},
		{Name: ColumnProjected, Value: strconv.FormatBool(outcome.Projected)},
		{Name: ColumnDurationMS, Value: strconv.FormatInt(outcome.Duration.Milliseconds(), 10)},
	}
}
