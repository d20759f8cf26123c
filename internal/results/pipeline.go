// Package results turns an analyzer report into a ranked, gated and
// rendered run.
package results

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sastrank/api/schemas"
	"github.com/xkilldash9x/sastrank/internal/ingest"
	"github.com/xkilldash9x/sastrank/internal/observability"
	"github.com/xkilldash9x/sastrank/internal/reporting"
)

// Pipeline runs load, enrich, rank, gate, summary, render, persist and publish.
type Pipeline struct {
	load        Loader
	enrichers   []Enricher
	ranker      Ranker
	gate        Gate
	store       RunStore
	publisher   Publisher
	outputs     []Output
	toolVersion string
	now         Clock
	newRunID    func() string
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLoader replaces the report loader.
func WithLoader(l Loader) Option {
	return func(p *Pipeline) { p.load = l }
}

// WithEnricher appends an enrichment step.
func WithEnricher(e Enricher) Option {
	return func(p *Pipeline) { p.enrichers = append(p.enrichers, e) }
}

// WithStore persists every run.
func WithStore(s RunStore) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithPublisher publishes every run.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithOutputs sets the rendered reports.
func WithOutputs(outputs ...Output) Option {
	return func(p *Pipeline) { p.outputs = append(p.outputs, outputs...) }
}

// WithToolVersion is reported in SARIF output.
func WithToolVersion(v string) Option {
	return func(p *Pipeline) { p.toolVersion = v }
}

// WithClock fixes the time stamped on reports.
func WithClock(now Clock) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithRunIDGenerator replaces the random run ID.
func WithRunIDGenerator(gen func() string) Option {
	return func(p *Pipeline) { p.newRunID = gen }
}

// WithMetrics records policy outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline creates a pipeline around a ranker and a policy gate.
func NewPipeline(ranker Ranker, gate Gate, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		load:        loadReport,
		ranker:      ranker,
		gate:        gate,
		toolVersion: "dev",
		now:         time.Now,
		newRunID:    uuid.NewString,
		logger:      logger.Named("results_pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func loadReport(path string) ([]schemas.Finding, string, error) {
	findings, format, err := ingest.LoadReport(path)
	return findings, string(format), err
}

// Run processes the analyzer report at path. The returned report is valid
// even when a later step such as persistence fails. A cancelled context
// still yields a rendered report of heuristic-only scores; it is neither
// persisted nor published and the context error is returned with it.
func (p *Pipeline) Run(ctx context.Context, path string) (*schemas.RankedReport, error) {
	runID := p.newRunID()
	ctx = observability.ContextWithRun(ctx, runID, path)
	logger := observability.ForContext(ctx, p.logger)
	logger.Info("Starting results processing")

	// 1. Load
	findings, format, err := p.load(path)
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded findings", zap.Int("count", len(findings)), zap.String("format", format))

	// 2. Enrich
	findings = p.enrich(ctx, findings)

	// 3. Rank
	ranked := p.ranker.Rank(ctx, findings)
	interrupted := ctx.Err()
	if interrupted != nil {
		logger.Warn("Run interrupted, continuing with the scores computed so far.", zap.Error(interrupted))
	}

	// 4. Gate
	verdict := p.gate.Evaluate(ranked)
	p.metrics.RecordPolicyViolations(context.WithoutCancel(ctx), len(verdict.Offending))

	// 5. Summary
	report := &schemas.RankedReport{
		RunID:       runID,
		GeneratedAt: p.now().UTC(),
		Source:      path,
		Format:      format,
		Findings:    ranked,
		Summary:     BuildSummary(ranked),
		Policy:      verdict,
	}

	// 6. Render
	var errs []error
	if err := p.render(report, logger); err != nil {
		errs = append(errs, err)
	}

	if interrupted != nil {
		errs = append(errs, fmt.Errorf("ranking interrupted: %w", interrupted))
		return report, errors.Join(errs...)
	}

	// 7. Persist
	if p.store != nil {
		if err := p.store.PersistRun(ctx, report); err != nil {
			errs = append(errs, fmt.Errorf("failed to persist run %s: %w", report.RunID, err))
		}
	}

	// 8. Publish
	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, report); err != nil {
			errs = append(errs, fmt.Errorf("failed to publish run %s: %w", report.RunID, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return report, err
	}

	logger.Info("Results processing complete",
		zap.Int("findings", report.Summary.Total),
		zap.Bool("policy_violated", verdict.Violated),
	)
	return report, nil
}

// render writes every configured output. All outputs are attempted.
func (p *Pipeline) render(report *schemas.RankedReport, logger *zap.Logger) error {
	var errs []error
	for _, out := range p.outputs {
		r, err := reporting.New(out.Format, out.Path, p.toolVersion, logger)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		writeErr := r.Write(report)
		closeErr := r.Close()
		if err := errors.Join(writeErr, closeErr); err != nil {
			errs = append(errs, fmt.Errorf("failed to render %s report: %w", out.Format, err))
			continue
		}
		if out.Path != "" {
			logger.Info("Report written", zap.String("format", out.Format), zap.String("path", out.Path))
		}
	}
	return errors.Join(errs...)
}
