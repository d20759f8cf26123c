package reporting

import (
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/sastrank/api/schemas"
)

// jsonDocument is the machine readable form of a run.
type jsonDocument struct {
	RunID       string                `json:"run_id"`
	GeneratedAt time.Time             `json:"generated_at"`
	Source      string                `json:"source,omitempty"`
	Summary     schemas.RunSummary    `json:"summary"`
	Policy      schemas.PolicyVerdict `json:"policy"`
	Findings    []jsonEntry           `json:"findings"`
}

type jsonEntry struct {
	Rank    int             `json:"rank"`
	Finding schemas.Finding `json:"finding"`
	Scores  jsonScores      `json:"scores"`
}

type jsonScores struct {
	Heuristic jsonHeuristic `json:"heuristic"`
	AI        *jsonAI       `json:"ai"`
	Final     jsonFinal     `json:"final"`
}

type jsonHeuristic struct {
	Severity        schemas.Severity `json:"severity"`
	VulnClass       string           `json:"vuln_class,omitempty"`
	BaseScore       float64          `json:"base_score"`
	NormalizedScore float64          `json:"normalized_score"`
}

type jsonAI struct {
	RiskScore     *float64                 `json:"risk_score"`
	FPProbability *float64                 `json:"fp_probability"`
	Severity      schemas.Severity         `json:"severity,omitempty"`
	Rationale     *string                  `json:"rationale"`
	Source        schemas.AssessmentSource `json:"source"`
}

type jsonFinal struct {
	RiskScore     float64            `json:"risk_score"`
	FPProbability *float64           `json:"fp_probability"`
	Severity      schemas.Severity   `json:"severity"`
	Basis         schemas.ScoreBasis `json:"basis"`
}

// JSONReporter writes every ranked finding with its score breakdown.
type JSONReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
}

// NewJSONReporter takes ownership of writer.
func NewJSONReporter(writer io.WriteCloser, logger *zap.Logger) *JSONReporter {
	return &JSONReporter{writer: writer, logger: logger.Named("json_reporter")}
}

// Write encodes the report as indented JSON.
func (r *JSONReporter) Write(report *schemas.RankedReport) error {
	doc := jsonDocument{
		RunID:       report.RunID,
		GeneratedAt: report.GeneratedAt,
		Source:      report.Source,
		Summary:     report.Summary,
		Policy:      report.Policy,
		Findings:    make([]jsonEntry, 0, len(report.Findings)),
	}
	for _, pf := range report.Findings {
		doc.Findings = append(doc.Findings, newJSONEntry(pf))
	}

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(doc); err != nil {
		r.logger.Error("Failed to encode JSON report", zap.Error(err))
		return fmt.Errorf("failed to encode JSON report: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (r *JSONReporter) Close() error {
	return closeWriter(r.writer, nil, r.logger)
}

func newJSONEntry(pf schemas.PrioritizedFinding) jsonEntry {
	e := jsonEntry{
		Rank:    pf.Rank,
		Finding: pf.Finding,
		Scores: jsonScores{
			Heuristic: jsonHeuristic{
				Severity:        pf.HeuristicSeverity,
				VulnClass:       pf.VulnClass,
				BaseScore:       pf.BaseScore,
				NormalizedScore: pf.NormalizedScore,
			},
			Final: jsonFinal{
				RiskScore:     pf.FinalScore,
				FPProbability: pf.AIFPProbability,
				Severity:      pf.FinalSeverity,
				Basis:         pf.Basis,
			},
		},
	}
	if pf.AISource != "" {
		e.Scores.AI = &jsonAI{
			RiskScore:     pf.AIRiskScore,
			FPProbability: pf.AIFPProbability,
			Severity:      pf.AISeverity,
			Rationale:     pf.AIRationale,
			Source:        pf.AISource,
		}
	}
	if pf.Basis != schemas.BasisAI {
		e.Scores.Final.FPProbability = nil
	}
	return e
}
