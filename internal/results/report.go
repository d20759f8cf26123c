package results

import "github.com/xkilldash9x/sastrank/api/schemas"

// BuildSummary aggregates the ranked findings of a run.
func BuildSummary(findings []schemas.PrioritizedFinding) schemas.RunSummary {
	summary := schemas.RunSummary{
		Total: len(findings),
		BySeverity: map[schemas.Severity]int{
			schemas.SeverityCritical: 0,
			schemas.SeverityHigh:     0,
			schemas.SeverityMedium:   0,
			schemas.SeverityLow:      0,
			schemas.SeverityUnknown:  0,
		},
	}
	if len(findings) == 0 {
		return summary
	}

	var total float64
	for _, pf := range findings {
		summary.BySeverity[pf.FinalSeverity]++
		if pf.Basis == schemas.BasisAI {
			summary.AIScored++
		}
		if pf.AISource == schemas.SourceFallback {
			summary.Fallbacks++
		}
		if pf.FinalScore > summary.MaxScore {
			summary.MaxScore = pf.FinalScore
		}
		total += pf.FinalScore
	}
	summary.MeanScore = total / float64(len(findings))
	return summary
}
