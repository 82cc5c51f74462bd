package metrics

import (
	"context"
	"time"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// Subscribe translates run events into metrics. The returned subscriptions
// should be cancelled once the run is complete.
func Subscribe(publisher ports.EventPublisher, collector ports.MetricsCollector) ([]ports.Subscription, error) {
	handlers := map[string]ports.EventHandler{
		ports.EventReconcileOutcome:  func(ctx context.Context, ev ports.DomainEvent) error { recordOutcome(ctx, collector, ev); return nil },
		ports.EventHardMatchResolved: func(ctx context.Context, ev ports.DomainEvent) error { recordPrincipal(ctx, collector, ev); return nil },
		ports.EventRunCompleted:      func(ctx context.Context, ev ports.DomainEvent) error { recordRun(ctx, collector, ev); return nil },
	}

	subs := make([]ports.Subscription, 0, len(handlers))
	for _, eventType := range []string{ports.EventReconcileOutcome, ports.EventHardMatchResolved, ports.EventRunCompleted} {
		sub, err := publisher.Subscribe(eventType, handlers[eventType])
		if err != nil {
			for _, s := range subs {
				s.Unsubscribe()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func recordOutcome(ctx context.Context, collector ports.MetricsCollector, ev ports.DomainEvent) {
	data := payload(ev)
	kind := stringField(data, ports.PayloadTargetKind)
	collector.IncCounter(ctx, ReconcileOutcomesTotal, map[string]string{
		"target_kind": kind,
		"outcome":     stringField(data, ports.PayloadOutcome),
	})
	if statuses, ok := data[ports.PayloadActionStatus].([]string); ok {
		for _, status := range statuses {
			collector.IncCounter(ctx, ReconcileActionsTotal, map[string]string{"target_kind": kind, "status": status})
		}
	}
	if seconds, ok := data[ports.PayloadDuration].(float64); ok {
		collector.ObserveHistogram(ctx, ReconcileDuration, seconds, map[string]string{"target_kind": kind})
	}
}

func recordPrincipal(ctx context.Context, collector ports.MetricsCollector, ev ports.DomainEvent) {
	collector.IncCounter(ctx, HardMatchPrincipalsTotal, map[string]string{
		"status": stringField(payload(ev), ports.PayloadStatus),
	})
}

func recordRun(ctx context.Context, collector ports.MetricsCollector, ev ports.DomainEvent) {
	data := payload(ev)
	if state := stringField(data, ports.PayloadJoinState); state != "" {
		for _, candidate := range []reconcile.JoinState{
			reconcile.JoinStateNone,
			reconcile.JoinStateEntra,
			reconcile.JoinStateIntune,
			reconcile.JoinStateBoth,
		} {
			value := 0.0
			if string(candidate) == state {
				value = 1
			}
			collector.SetGauge(ctx, JoinState, value, map[string]string{"state": string(candidate)})
		}
	}

	completed, ok := data[ports.PayloadCompletedAt].(time.Time)
	if !ok {
		completed = time.Now()
	}
	collector.SetGauge(ctx, LastRunTimestamp, float64(completed.Unix()), nil)
}

func payload(ev ports.DomainEvent) map[string]interface{} {
	if ev == nil {
		return nil
	}
	data, _ := ev.Payload().(map[string]interface{})
	return data
}

func stringField(data map[string]interface{}, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case interface{ String() string }:
		return v.String()
	}
	return ""
}
