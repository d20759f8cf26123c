package reporting_test

import (
	"bytes"
	"errors"
	"time"

	"github.com/xkilldash9x/sastrank/api/schemas"
)

// MockWriteCloser allows capturing output and simulating I/O errors.
type MockWriteCloser struct {
	Buffer    *bytes.Buffer
	FailWrite bool
	FailClose bool
	Closed    bool
}

func newMockWriteCloser() *MockWriteCloser {
	return &MockWriteCloser{Buffer: new(bytes.Buffer)}
}

// Write writes to the internal buffer, simulating a write error if configured.
func (m *MockWriteCloser) Write(p []byte) (n int, err error) {
	if m.FailWrite {
		return 0, errors.New("simulated write error")
	}
	return m.Buffer.Write(p)
}

// Close simulates a closing error if configured.
func (m *MockWriteCloser) Close() error {
	m.Closed = true
	if m.FailClose {
		return errors.New("simulated close error")
	}
	return nil
}

func f64(v float64) *float64 { return &v }
func str(s string) *string   { return &s }

// sampleReport has one assessed finding, one fallback and one heuristic-only finding.
func sampleReport() *schemas.RankedReport {
	return &schemas.RankedReport{
		RunID:       "3f1d9a52-7c1e-4c55-9f0e-6c1b2a9d8e70",
		GeneratedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Source:      "brakeman.json",
		Findings: []schemas.PrioritizedFinding{
			{
				Rank: 1,
				Finding: schemas.Finding{
					ID: "sqli-1", Tool: "brakeman", RuleID: "0", Category: "SQL Injection",
					Confidence: schemas.ConfidenceHigh, FilePath: "app/controllers/users_controller.rb",
					LineStart: 42, LineEnd: 42, Message: "Possible SQL injection | via params",
					Link: "https://brakemanscanner.org/docs/warning_types/sql_injection/",
				},
				HeuristicSeverity: schemas.SeverityCritical,
				VulnClass:         "sql_injection",
				BaseScore:         10.3,
				NormalizedScore:   10,
				AIRiskScore:       f64(9),
				AIFPProbability:   f64(0.1),
				AISeverity:        schemas.SeverityCritical,
				AIRationale:       str("User input reaches the query."),
				AISource:          schemas.SourceLLM,
				FinalScore:        9.2,
				FinalSeverity:     schemas.SeverityCritical,
				Basis:             schemas.BasisAI,
			},
			{
				Rank: 2,
				Finding: schemas.Finding{
					ID: "xss-1", Tool: "brakeman", RuleID: "2", Category: "Cross-Site Scripting",
					Confidence: schemas.ConfidenceLow, FilePath: "app/views/users/show.html.erb",
					Message: "Unescaped parameter value",
				},
				HeuristicSeverity: schemas.SeverityHigh,
				NormalizedScore:   6,
				AIRiskScore:       f64(6),
				AIFPProbability:   f64(0.5),
				AISeverity:        schemas.SeverityHigh,
				AIRationale:       str("Fallback: heuristic score only (assessment timed out)."),
				AISource:          schemas.SourceFallback,
				FinalScore:        6,
				FinalSeverity:     schemas.SeverityHigh,
				Basis:             schemas.BasisHeuristic,
			},
			{
				Rank: 3,
				Finding: schemas.Finding{
					ID: "sqli-2", Tool: "brakeman", RuleID: "0", Category: "SQL Injection",
					Confidence: schemas.ConfidenceMedium, FilePath: "app/models/report.rb", LineStart: 7, LineEnd: 7,
					Message: "Possible SQL injection",
				},
				HeuristicSeverity: schemas.SeverityCritical,
				NormalizedScore:   4.5,
				FinalScore:        4.5,
				FinalSeverity:     schemas.SeverityCritical,
				Basis:             schemas.BasisHeuristic,
			},
		},
		Summary: schemas.RunSummary{
			Total:      3,
			BySeverity: map[schemas.Severity]int{schemas.SeverityCritical: 2, schemas.SeverityHigh: 1},
			AIScored:   1,
			Fallbacks:  1,
			MaxScore:   9.2,
			MeanScore:  6.57,
		},
		Policy: schemas.PolicyVerdict{Violated: true, Threshold: 8, Offending: []string{"sqli-1"}},
	}
}
