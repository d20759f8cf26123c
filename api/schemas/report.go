package schemas

import "time"

// -- Run Level Schemas --

// PolicyVerdict is the outcome of the CI gate for one run.
type PolicyVerdict struct {
	Violated   bool     `json:"violated"`
	Threshold  float64  `json:"threshold"`
	Expression string   `json:"expression,omitempty"`
	Offending  []string `json:"offending"` // Finding IDs in rank order.
}

// RunSummary aggregates a ranked run.
type RunSummary struct {
	Total      int              `json:"total"`
	BySeverity map[Severity]int `json:"by_severity"`
	AIScored   int              `json:"ai_scored"`
	Fallbacks  int              `json:"fallbacks"`
	MaxScore   float64          `json:"max_score"`
	MeanScore  float64          `json:"mean_score"`
}

// RankedReport is everything a run produces. It is what the renderers,
// the history store and the PR publisher consume.
type RankedReport struct {
	RunID       string               `json:"run_id"`
	GeneratedAt time.Time            `json:"generated_at"`
	Source      string               `json:"source,omitempty"` // Path of the analyzer report.
	Format      string               `json:"format,omitempty"`
	Findings    []PrioritizedFinding `json:"findings"`
	Summary     RunSummary           `json:"summary"`
	Policy      PolicyVerdict        `json:"policy"`
}
