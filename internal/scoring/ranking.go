package scoring

import (
	"context"
	"sort"

	"github.com/xkilldash9x/sastrank/api/schemas"
)

// Engine scores a batch of findings and puts them in priority order.
type Engine struct {
	service *Service
}

// NewEngine creates a ranking engine driving the given service.
func NewEngine(service *Service) *Engine {
	return &Engine{service: service}
}

// Rank scores and orders the findings. The output has exactly one entry per
// input finding.
func (e *Engine) Rank(ctx context.Context, findings []schemas.Finding) []schemas.PrioritizedFinding {
	return RankResults(e.service.ScoreFindings(ctx, findings))
}

// RankResults flattens and orders already scored results, then assigns
// ranks 1..n. The order is total, so equal inputs always produce the same
// sequence regardless of input order.
func RankResults(results []schemas.RiskScoringResult) []schemas.PrioritizedFinding {
	out := make([]schemas.PrioritizedFinding, len(results))
	for i, r := range results {
		out[i] = schemas.NewPrioritizedFinding(r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return higherPriority(out[i], out[j])
	})

	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// higherPriority orders by final score desc, severity weight desc, file path
// asc (empty first), line asc (missing as 0) and finally finding ID asc.
func higherPriority(a, b schemas.PrioritizedFinding) bool {
	if a.FinalScore != b.FinalScore {
		return a.FinalScore > b.FinalScore
	}
	if wa, wb := SeverityWeight(a.FinalSeverity), SeverityWeight(b.FinalSeverity); wa != wb {
		return wa > wb
	}
	if a.Finding.FilePath != b.Finding.FilePath {
		return a.Finding.FilePath < b.Finding.FilePath
	}
	if la, lb := lineOrZero(a.Finding.LineStart), lineOrZero(b.Finding.LineStart); la != lb {
		return la < lb
	}
	return a.Finding.ID < b.Finding.ID
}

func lineOrZero(line int) int {
	if line < 0 {
		return 0
	}
	return line
}
