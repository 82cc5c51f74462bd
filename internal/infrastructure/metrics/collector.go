// Package metrics records run signals in a Prometheus registry and exports
// them through the node_exporter textfile collector.
package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// Standard metric names.
const (
	ReconcileOutcomesTotal   = "convergo_reconcile_outcomes_total"
	ReconcileActionsTotal    = "convergo_reconcile_actions_total"
	HardMatchPrincipalsTotal = "convergo_hardmatch_principals_total"
	JoinState                = "convergo_join_state"
	LastRunTimestamp         = "convergo_last_run_timestamp_seconds"
	ReconcileDuration        = "convergo_reconcile_duration_seconds"
)

// Collector implements ports.MetricsCollector on a private registry. The
// standard metrics are registered up front; other names are created on first
// use with the label names of that call.
type Collector struct {
	registry   *prometheus.Registry
	logger     ports.Logger
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

var _ ports.MetricsCollector = (*Collector)(nil)

// NewCollector builds a collector with the standard convergo metrics.
func NewCollector(logger ports.Logger) *Collector {
	c := &Collector{
		registry:   prometheus.NewRegistry(),
		logger:     logger,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}

	c.counters[ReconcileOutcomesTotal] = c.mustRegisterCounter(
		ReconcileOutcomesTotal, "Terminal reconciliation outcomes by target kind", "target_kind", "outcome")
	c.counters[ReconcileActionsTotal] = c.mustRegisterCounter(
		ReconcileActionsTotal, "Corrective actions by target kind and status", "target_kind", "status")
	c.counters[HardMatchPrincipalsTotal] = c.mustRegisterCounter(
		HardMatchPrincipalsTotal, "Hard-match principals by resolution status", "status")
	c.gauges[JoinState] = c.mustRegisterGauge(
		JoinState, "Composite device join state, 1 for the current state", "state")
	c.gauges[LastRunTimestamp] = c.mustRegisterGauge(
		LastRunTimestamp, "Unix time of the last completed run")

	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    ReconcileDuration,
		Help:    "Time spent reconciling a single target",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"target_kind"})
	c.registry.MustRegister(hist)
	c.histograms[ReconcileDuration] = hist

	return c
}

// Registry exposes the underlying registry for gathering.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// IncCounter increments a counter.
func (c *Collector) IncCounter(ctx context.Context, name string, labels map[string]string) {
	c.mu.Lock()
	vec, ok := c.counters[name]
	if !ok {
		var err error
		vec, err = c.registerCounter(name, name, labelNames(labels)...)
		if err != nil {
			c.mu.Unlock()
			c.warn(ctx, name, err)
			return
		}
		c.counters[name] = vec
	}
	c.mu.Unlock()

	counter, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		c.warn(ctx, name, err)
		return
	}
	counter.Inc()
}

// SetGauge sets a gauge value.
func (c *Collector) SetGauge(ctx context.Context, name string, value float64, labels map[string]string) {
	c.mu.Lock()
	vec, ok := c.gauges[name]
	if !ok {
		gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: name}, labelNames(labels))
		if err := c.registry.Register(gauge); err != nil {
			c.mu.Unlock()
			c.warn(ctx, name, err)
			return
		}
		vec = gauge
		c.gauges[name] = vec
	}
	c.mu.Unlock()

	gauge, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		c.warn(ctx, name, err)
		return
	}
	gauge.Set(value)
}

// ObserveHistogram records one observation.
func (c *Collector) ObserveHistogram(ctx context.Context, name string, value float64, labels map[string]string) {
	c.mu.Lock()
	vec, ok := c.histograms[name]
	if !ok {
		hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    name,
			Buckets: prometheus.DefBuckets,
		}, labelNames(labels))
		if err := c.registry.Register(hist); err != nil {
			c.mu.Unlock()
			c.warn(ctx, name, err)
			return
		}
		vec = hist
		c.histograms[name] = vec
	}
	c.mu.Unlock()

	observer, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		c.warn(ctx, name, err)
		return
	}
	observer.Observe(value)
}

// WriteTextfile writes the registry in the text exposition format. The file
// is replaced atomically so the node_exporter never reads a partial scrape.
func (c *Collector) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return reconcile.NewError(reconcile.ErrCodeInternal, "create metrics directory", err,
			map[string]interface{}{"path": path})
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return reconcile.NewError(reconcile.ErrCodeInternal, "write metrics textfile", err,
			map[string]interface{}{"path": path})
	}
	return nil
}

func (c *Collector) mustRegisterCounter(name, help string, labels ...string) *prometheus.CounterVec {
	vec, err := c.registerCounter(name, help, labels...)
	if err != nil {
		panic(err)
	}
	return vec
}

func (c *Collector) registerCounter(name, help string, labels ...string) (*prometheus.CounterVec, error) {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	if err := c.registry.Register(vec); err != nil {
		return nil, fmt.Errorf("register counter %s: %w", name, err)
	}
	return vec, nil
}

func (c *Collector) mustRegisterGauge(name, help string, labels ...string) *prometheus.GaugeVec {
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	c.registry.MustRegister(vec)
	return vec
}

func (c *Collector) warn(ctx context.Context, name string, err error) {
	if c.logger == nil {
		return
	}
	c.logger.Warn(ctx, "metric dropped", "metric", name, "error", err)
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
