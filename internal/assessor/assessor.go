// Package assessor provides the optional external opinion on a finding.
// Every variant absorbs its own failures: Assess never returns an error and
// a failed live call degrades to a fallback score.
package assessor

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sastrank/api/schemas"
	"github.com/xkilldash9x/sastrank/internal/config"
	"github.com/xkilldash9x/sastrank/internal/observability"
)

// Assessor is implemented by every assessment strategy.
type Assessor interface {
	Assess(ctx context.Context, f schemas.Finding, h schemas.HeuristicScore) *schemas.ExternalScore
}

// -- Disabled --

// Disabled never has an opinion.
type Disabled struct{}

// Assess always returns nil.
func (Disabled) Assess(context.Context, schemas.Finding, schemas.HeuristicScore) *schemas.ExternalScore {
	return nil
}

// -- Mirror --

const mirrorRationale = "Mirror assessment: derived directly from the heuristic score."

// Mirror echoes the heuristic back as an external opinion. It exercises the
// blend end to end without calling out to a model.
type Mirror struct{}

// Assess returns the heuristic score with a false positive probability that
// falls as the score rises.
func (Mirror) Assess(_ context.Context, _ schemas.Finding, h schemas.HeuristicScore) *schemas.ExternalScore {
	base := h.NormalizedScore
	fp := 0.6
	switch {
	case base >= 7.0:
		fp = 0.2
	case base >= 4.0:
		fp = 0.4
	}
	return &schemas.ExternalScore{
		RiskScore:     base,
		FPProbability: fp,
		Severity:      h.Severity,
		Rationale:     mirrorRationale,
		Source:        schemas.SourceStub,
	}
}

// -- Factory --

// Option configures the factory.
type Option func(*options)

type options struct {
	rdb     redis.Cmdable
	ttl     time.Duration
	metrics *observability.Metrics
}

// WithCache puts a Redis backed cache in front of the live assessor.
func WithCache(rdb redis.Cmdable, ttl time.Duration) Option {
	return func(o *options) {
		o.rdb = rdb
		o.ttl = ttl
	}
}

// WithMetrics records cache lookups.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// New selects the assessor for the configured mode. The LLM client is only
// required in live mode.
func New(cfg config.Interface, client schemas.LLMClient, logger *zap.Logger, opts ...Option) (Assessor, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	switch mode := cfg.Assessor().Mode; mode {
	case config.AssessorDisabled, "":
		return Disabled{}, nil
	case config.AssessorMirror:
		return Mirror{}, nil
	case config.AssessorLive:
		live, err := NewLive(client, cfg.Assessor(), logger)
		if err != nil {
			return nil, err
		}
		if o.rdb != nil {
			return NewCached(live, o.rdb, o.ttl, logger, o.metrics), nil
		}
		return live, nil
	default:
		return nil, fmt.Errorf("unknown assessor mode: '%s'", mode)
	}
}
