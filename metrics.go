package continuum

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func tenantAttr(tenantID string) attribute.KeyValue {
	return attribute.String("tenant_id", tenantID)
}

// Metrics bundles the otel instruments the engine emits. A nil *Metrics
// makes every recording a no-op, so Config.Metrics can be left unset
// without Engine needing a separate "metrics enabled" branch.
type Metrics struct {
	queryLatency      metric.Float64Histogram
	cacheHits         metric.Int64Counter
	cacheMisses       metric.Int64Counter
	contributionRatio metric.Float64Gauge
}

// NewMetrics builds the engine's instruments against meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	queryLatency, err := meter.Float64Histogram(
		"continuum.query.latency_ms",
		metric.WithDescription("Recall query latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, newError(KindInvariant, "NewMetrics", err)
	}

	cacheHits, err := meter.Int64Counter(
		"continuum.cache.hits",
		metric.WithDescription("Search cache hits"),
	)
	if err != nil {
		return nil, newError(KindInvariant, "NewMetrics", err)
	}

	cacheMisses, err := meter.Int64Counter(
		"continuum.cache.misses",
		metric.WithDescription("Search cache misses"),
	)
	if err != nil {
		return nil, newError(KindInvariant, "NewMetrics", err)
	}

	contributionRatio, err := meter.Float64Gauge(
		"continuum.federation.contribution_ratio",
		metric.WithDescription("Per-tenant federation contribution/consumption ratio"),
	)
	if err != nil {
		return nil, newError(KindInvariant, "NewMetrics", err)
	}

	return &Metrics{
		queryLatency:      queryLatency,
		cacheHits:         cacheHits,
		cacheMisses:       cacheMisses,
		contributionRatio: contributionRatio,
	}, nil
}

// RecordQuery records a Recall call's latency and cache outcome.
func (m *Metrics) RecordQuery(ctx context.Context, tenantID string, latencyMS float64, cacheHit bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(tenantAttr(tenantID))
	m.queryLatency.Record(ctx, latencyMS, attrs)
	if cacheHit {
		m.cacheHits.Add(ctx, 1, attrs)
	} else {
		m.cacheMisses.Add(ctx, 1, attrs)
	}
}

// RecordContributionRatio records a tenant's current federation ratio.
func (m *Metrics) RecordContributionRatio(ctx context.Context, tenantID string, ratio float64) {
	if m == nil {
		return
	}
	m.contributionRatio.Record(ctx, ratio, metric.WithAttributes(tenantAttr(tenantID)))
}
