package results

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/sastrank/api/schemas"
	"github.com/xkilldash9x/sastrank/internal/observability"
)

// enrich runs every enricher in order. A nil enricher is skipped.
func (p *Pipeline) enrich(ctx context.Context, findings []schemas.Finding) []schemas.Finding {
	logger := observability.ForContext(ctx, p.logger)
	for _, e := range p.enrichers {
		if e == nil {
			continue
		}
		if ctx.Err() != nil {
			logger.Warn("Skipping enrichment, context is done.", zap.Error(ctx.Err()))
			return findings
		}
		enriched := e.Enrich(ctx, findings)
		if len(enriched) != len(findings) {
			// Enrichers must be one-to-one. Keep the input rather than lose findings.
			logger.Warn("Enricher changed the number of findings, ignoring its output.",
				zap.Int("before", len(findings)), zap.Int("after", len(enriched)))
			continue
		}
		findings = enriched
	}
	return findings
}
