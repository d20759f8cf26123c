package scoring

import (
	"context"
	"time"

	"github.com/xkilldash9x/sastrank/api/schemas"
	"github.com/xkilldash9x/sastrank/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Assessor provides the optional external opinion on a finding. A nil
// return means no opinion. Implementations absorb their own failures and
// must be safe for concurrent use when the service runs more than one worker.
type Assessor interface {
	Assess(ctx context.Context, f schemas.Finding, h schemas.HeuristicScore) *schemas.ExternalScore
}

// Weights are the blend coefficients:
//
//	final = clamp(Alpha*heuristic + Beta*risk - Gamma*fp*10, 0, 10)
type Weights struct {
	Alpha float64
	Beta  float64
	Gamma float64
}

// DefaultWeights returns alpha 0.7, beta 0.3, gamma 0.5.
func DefaultWeights() Weights {
	return Weights{Alpha: 0.7, Beta: 0.3, Gamma: 0.5}
}

// Service combines the heuristic and the external assessment of each finding
// into a final score and severity.
type Service struct {
	scorer   *Scorer
	assessor Assessor
	weights  Weights
	workers  int
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithAssessor sets the external assessor. Without one every result is
// heuristic only.
func WithAssessor(a Assessor) ServiceOption {
	return func(s *Service) { s.assessor = a }
}

// WithWeights overrides the blend weights.
func WithWeights(w Weights) ServiceOption {
	return func(s *Service) { s.weights = w }
}

// WithWorkers sets how many assessments may run at once. Values below two
// select the sequential path.
func WithWorkers(n int) ServiceOption {
	return func(s *Service) { s.workers = n }
}

// WithMetrics records scoring metrics on m.
func WithMetrics(m *observability.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a scoring service around a heuristic scorer.
func NewService(scorer *Scorer, logger *zap.Logger, opts ...ServiceOption) *Service {
	if scorer == nil {
		scorer = NewScorer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		scorer:  scorer,
		weights: DefaultWeights(),
		workers: 1,
		logger:  logger.Named("scoring"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScoreFindings returns one result per finding, in input order. It never
// fails: once ctx is done, findings whose assessment has not started get a
// heuristic-only result.
func (s *Service) ScoreFindings(ctx context.Context, findings []schemas.Finding) []schemas.RiskScoringResult {
	results := make([]schemas.RiskScoringResult, len(findings))
	if len(findings) == 0 {
		return results
	}

	if s.assessor == nil || s.workers <= 1 {
		for i := range findings {
			results[i] = s.scoreOne(ctx, findings[i])
		}
		return results
	}

	s.logger.Debug("Scoring findings concurrently.", zap.Int("findings", len(findings)), zap.Int("workers", s.workers))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i := range findings {
		g.Go(func() error {
			// Each goroutine owns results[i]; no two write the same slot.
			results[i] = s.scoreOne(ctx, findings[i])
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (s *Service) scoreOne(ctx context.Context, f schemas.Finding) schemas.RiskScoringResult {
	h := s.scorer.Score(f)
	ext := s.assess(ctx, f, h)

	final, sev := s.Combine(h, ext)
	result := schemas.RiskScoringResult{
		Finding:       f,
		Heuristic:     h,
		External:      ext,
		FinalScore:    final,
		FinalSeverity: sev,
	}

	basis := schemas.BasisHeuristic
	if ext.IsUsable() {
		basis = schemas.BasisAI
	}
	s.metrics.RecordScored(ctx, string(basis))
	return result
}

// assess calls the assessor unless the batch has been cancelled. A panicking
// assessor is treated like one with no opinion.
func (s *Service) assess(ctx context.Context, f schemas.Finding, h schemas.HeuristicScore) (ext *schemas.ExternalScore) {
	if s.assessor == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		s.logger.Debug("Batch cancelled, skipping assessment.", zap.String("finding_id", f.ID), zap.Error(err))
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Assessor panicked; using heuristic score.", zap.String("finding_id", f.ID), zap.Any("panic", r))
			ext = nil
		}
	}()

	start := time.Now()
	ext = s.assessor.Assess(ctx, f, h)
	if ext != nil {
		s.metrics.RecordAssessment(ctx, string(ext.Source), time.Since(start))
	}
	return ext
}

// Combine applies the blend. Without a usable external score the final
// score is the clamped heuristic and the severity is the heuristic band.
// A refined severity from the assessor replaces the heuristic band unless
// it is empty or UNKNOWN.
func (s *Service) Combine(h schemas.HeuristicScore, ext *schemas.ExternalScore) (float64, schemas.Severity) {
	if !ext.IsUsable() {
		return clamp(h.NormalizedScore, 0, 10), h.Severity
	}

	risk := clamp(ext.RiskScore, 0, 10)
	fp := clamp(ext.FPProbability, 0, 1)
	raw := s.weights.Alpha*h.NormalizedScore + s.weights.Beta*risk - s.weights.Gamma*(fp*10)

	sev := h.Severity
	if ext.Severity.IsValid() && ext.Severity != schemas.SeverityUnknown {
		sev = ext.Severity
	}
	return clamp(raw, 0, 10), sev
}
