package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

const meterName = "github.com/xkilldash9x/sastrank"

// Metrics holds the instruments recorded during a ranking run. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	findingsScored    metric.Int64Counter
	assessments       metric.Int64Counter
	assessmentLatency metric.Float64Histogram
	cacheLookups      metric.Int64Counter
	policyViolations  metric.Int64Counter
}

// NewMetrics creates the instruments on the given provider. A nil provider
// uses the global one, which is a no-op unless the application installed an SDK.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	m := &Metrics{}
	var err error

	m.findingsScored, err = meter.Int64Counter(
		"sastrank.findings.scored",
		metric.WithDescription("Findings that received a final score"),
		metric.WithUnit("{finding}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create findings counter: %w", err)
	}

	m.assessments, err = meter.Int64Counter(
		"sastrank.assessments",
		metric.WithDescription("External assessments by source"),
		metric.WithUnit("{assessment}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create assessment counter: %w", err)
	}

	m.assessmentLatency, err = meter.Float64Histogram(
		"sastrank.assessment.duration",
		metric.WithDescription("Latency of a single external assessment"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create assessment histogram: %w", err)
	}

	m.cacheLookups, err = meter.Int64Counter(
		"sastrank.cache.lookups",
		metric.WithDescription("Assessment cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache counter: %w", err)
	}

	m.policyViolations, err = meter.Int64Counter(
		"sastrank.policy.offending",
		metric.WithDescription("Findings that violated the policy gate"),
		metric.WithUnit("{finding}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy counter: %w", err)
	}

	return m, nil
}

// RecordScored counts one scored finding under its score basis.
func (m *Metrics) RecordScored(ctx context.Context, basis string) {
	if m == nil {
		return
	}
	m.findingsScored.Add(ctx, 1, metric.WithAttributes(attribute.String("basis", basis)))
}

// RecordAssessment counts one external assessment and its latency.
func (m *Metrics) RecordAssessment(ctx context.Context, source string, elapsed time.Duration) {
	if m == nil {
		return
	}
	opts := metric.WithAttributes(attribute.String("source", source))
	m.assessments.Add(ctx, 1, opts)
	m.assessmentLatency.Record(ctx, float64(elapsed)/float64(time.Millisecond), opts)
}

// RecordCacheLookup counts a cache hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordPolicyViolations counts offending findings.
func (m *Metrics) RecordPolicyViolations(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.policyViolations.Add(ctx, int64(n))
}

// -- Run-Scoped Provider --

// RunMeterProvider is an SDK meter provider backed by a manual reader. A CLI
// run has no scrape endpoint, so the totals are collected once and logged.
type RunMeterProvider struct {
	*sdkmetric.MeterProvider
	reader *sdkmetric.ManualReader
}

// NewRunMeterProvider builds a provider whose data is read by LogSummary.
func NewRunMeterProvider() *RunMeterProvider {
	reader := sdkmetric.NewManualReader()
	return &RunMeterProvider{
		MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		reader:        reader,
	}
}

// Collect returns the current state of every instrument.
func (p *RunMeterProvider) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return rm, fmt.Errorf("failed to collect metrics: %w", err)
	}
	return rm, nil
}

// LogSummary writes one log line per data point.
func (p *RunMeterProvider) LogSummary(ctx context.Context, logger *zap.Logger) error {
	rm, err := p.Collect(ctx)
	if err != nil {
		return err
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					logger.Info("Metric.", zap.String("name", m.Name), zap.String("attributes", dp.Attributes.Encoded(attribute.DefaultEncoder())), zap.Int64("value", dp.Value))
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					logger.Info("Metric.", zap.String("name", m.Name), zap.String("attributes", dp.Attributes.Encoded(attribute.DefaultEncoder())), zap.Uint64("count", dp.Count), zap.Float64("sum", dp.Sum))
				}
			}
		}
	}
	return nil
}
