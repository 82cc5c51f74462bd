// Package probes implements the probe sources behind each target kind and
// the chain that orders them by precedence.
package probes

import (
	"context"
	"fmt"
	"time"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// Chain consults its sources in order; the first is primary and the rest are
// fallbacks. Every source is always consulted so reports show the full
// picture.
type Chain struct {
	sources []ports.ProbeSource
	logger  ports.Logger
	now     func() time.Time
}

// NewChain builds a probe from sources ordered by precedence.
func NewChain(logger ports.Logger, sources ...ports.ProbeSource) *Chain {
	return &Chain{sources: sources, logger: logger, now: time.Now}
}

// Names lists the source names in precedence order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return names
}

// Probe implements ports.StateProbe. A panicking source is reported as
// unavailable rather than taking the run down.
func (c *Chain) Probe(ctx context.Context, target reconcile.ConvergenceTarget) []reconcile.ProbeResult {
	results := make([]reconcile.ProbeResult, 0, len(c.sources))
	for i, src := range c.sources {
		confidence := reconcile.ConfidenceFallback
		if i == 0 {
			confidence = reconcile.ConfidencePrimary
		}
		r := c.observe(ctx, src, target, confidence)
		if c.logger != nil {
			c.logger.Debug(ctx, "probe source observed",
				"target_id", target.ID(),
				"source", src.Name(),
				"confidence", string(confidence),
				"observation", string(r.Observation),
				"value", r.Value,
			)
		}
		results = append(results, r)
	}
	return results
}

func (c *Chain) observe(ctx context.Context, src ports.ProbeSource, target reconcile.ConvergenceTarget, confidence reconcile.Confidence) (result reconcile.ProbeResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = reconcile.Unavailable(src.Name(), confidence, c.now(), fmt.Errorf("probe panicked: %v", rec))
		}
	}()
	if err := ctx.Err(); err != nil {
		return reconcile.Unavailable(src.Name(), confidence, c.now(), err)
	}
	result = src.Observe(ctx, target, confidence)
	if result.Source == "" {
		result.Source = src.Name()
	}
	result.Confidence = confidence
	return result
}

var _ ports.StateProbe = (*Chain)(nil)

// clock is embedded by sources for testable timestamps.
type clock struct {
	now func() time.Time
}

func (c clock) stamp() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}
