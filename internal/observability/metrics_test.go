package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func findMetric(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Metrics {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	t.Fatalf("metric %q not collected", name)
	return metricdata.Metrics{}
}

func TestMetrics_Record(t *testing.T) {
	ctx := context.Background()
	provider := NewRunMeterProvider()
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })

	m, err := NewMetrics(provider)
	require.NoError(t, err)

	m.RecordScored(ctx, "ai")
	m.RecordScored(ctx, "ai")
	m.RecordScored(ctx, "heuristic_fallback")
	m.RecordAssessment(ctx, "llm", 250*time.Millisecond)
	m.RecordCacheLookup(ctx, true)
	m.RecordCacheLookup(ctx, false)
	m.RecordPolicyViolations(ctx, 2)
	m.RecordPolicyViolations(ctx, 0)

	rm, err := provider.Collect(ctx)
	require.NoError(t, err)

	scored := findMetric(t, rm, "sastrank.findings.scored").Data.(metricdata.Sum[int64])
	byBasis := map[string]int64{}
	for _, dp := range scored.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("basis"))
		byBasis[v.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"ai": 2, "heuristic_fallback": 1}, byBasis)

	latency := findMetric(t, rm, "sastrank.assessment.duration").Data.(metricdata.Histogram[float64])
	require.Len(t, latency.DataPoints, 1)
	assert.Equal(t, uint64(1), latency.DataPoints[0].Count)
	assert.InDelta(t, 250.0, latency.DataPoints[0].Sum, 0.001)

	violations := findMetric(t, rm, "sastrank.policy.offending").Data.(metricdata.Sum[int64])
	require.Len(t, violations.DataPoints, 1)
	assert.Equal(t, int64(2), violations.DataPoints[0].Value)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordScored(context.Background(), "ai")
		m.RecordAssessment(context.Background(), "llm", time.Second)
		m.RecordCacheLookup(context.Background(), true)
		m.RecordPolicyViolations(context.Background(), 1)
	})
}

func TestRunMeterProvider_LogSummary(t *testing.T) {
	ctx := context.Background()
	provider := NewRunMeterProvider()
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })

	m, err := NewMetrics(provider)
	require.NoError(t, err)
	m.RecordScored(ctx, "ai")
	m.RecordAssessment(ctx, "stub", time.Millisecond)

	core, logs := observer.New(zap.InfoLevel)
	require.NoError(t, provider.LogSummary(ctx, zap.New(core)))

	names := map[string]bool{}
	for _, entry := range logs.All() {
		names[entry.ContextMap()["name"].(string)] = true
	}
	assert.True(t, names["sastrank.findings.scored"])
	assert.True(t, names["sastrank.assessment.duration"])
}
