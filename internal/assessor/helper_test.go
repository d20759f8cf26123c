package assessor

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/sastrank/api/schemas"
)

func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

func sampleFinding() schemas.Finding {
	return schemas.Finding{
		ID:            "f-1",
		Tool:          "brakeman",
		RuleID:        "0",
		Category:      "SQL Injection",
		ConfidenceRaw: "High",
		Confidence:    schemas.ConfidenceHigh,
		FilePath:      "app/controllers/users_controller.rb",
		LineStart:     42,
		Message:       "Possible SQL injection",
		CodeContext:   "User.where(\"name = '#{params[:name]}'\")",
	}
}

func sampleHeuristic(score float64, sev schemas.Severity) schemas.HeuristicScore {
	return schemas.HeuristicScore{
		FindingID:       "f-1",
		Severity:        sev,
		BaseScore:       score,
		NormalizedScore: score,
	}
}

// countingAssessor returns a fixed score and counts the calls.
type countingAssessor struct {
	calls int
	score *schemas.ExternalScore
}

func (c *countingAssessor) Assess(context.Context, schemas.Finding, schemas.HeuristicScore) *schemas.ExternalScore {
	c.calls++
	if c.score == nil {
		return nil
	}
	s := *c.score
	return &s
}
