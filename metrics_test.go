package continuum

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewMetricsRecordsQueryLatencyAndCacheOutcome(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(provider.Meter("continuum-test"))
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	m.RecordQuery(ctx, "t1", 12.5, true)
	m.RecordQuery(ctx, "t1", 8.0, false)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatal(err)
	}

	var sawLatency, sawHit, sawMiss bool
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			switch metric.Name {
			case "continuum.query.latency_ms":
				sawLatency = true
			case "continuum.cache.hits":
				sawHit = true
			case "continuum.cache.misses":
				sawMiss = true
			}
		}
	}
	if !sawLatency || !sawHit || !sawMiss {
		t.Errorf("expected all three instruments recorded, got latency=%v hit=%v miss=%v", sawLatency, sawHit, sawMiss)
	}
}

func TestNilMetricsRecordQueryIsANoOp(t *testing.T) {
	var m *Metrics
	// Must not panic: a Config with no Metrics configured leaves Engine's
	// recall path calling into a nil *Metrics on every query.
	m.RecordQuery(context.Background(), "t1", 1.0, false)
	m.RecordContributionRatio(context.Background(), "t1", 0.5)
}

func TestRecordContributionRatioEmitsGauge(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(provider.Meter("continuum-test"))
	if err != nil {
		t.Fatal(err)
	}

	ct := NewContributionTracker()
	ct.SetMetrics(m)
	ct.TrackContribution(context.Background(), "t1", 4, 2)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var sawGauge bool
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			if metric.Name == "continuum.federation.contribution_ratio" {
				sawGauge = true
			}
		}
	}
	if !sawGauge {
		t.Error("expected the contribution ratio gauge to be recorded")
	}
}
