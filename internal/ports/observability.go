package ports

import "context"

// MetricsCollector records quantitative signals. Standard metric names:
//   - Counters:
//     convergo_reconcile_outcomes_total{target_kind="...", outcome="..."}
//     convergo_reconcile_actions_total{target_kind="...", status="..."}
//     convergo_hardmatch_principals_total{status="..."}
//   - Gauges:
//     convergo_join_state{state="None|Entra|Intune|Both"}
//     convergo_last_run_timestamp_seconds
//   - Histograms:
//     convergo_reconcile_duration_seconds{target_kind="..."}
type MetricsCollector interface {
	IncCounter(ctx context.Context, name string, labels map[string]string)
	SetGauge(ctx context.Context, name string, value float64, labels map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, labels map[string]string)
}
