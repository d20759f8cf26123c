package schemas

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeverity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected Severity
		ok       bool
	}{
		{"Upper", "CRITICAL", SeverityCritical, true},
		{"Lower", "high", SeverityHigh, true},
		{"Mixed with whitespace", "  Medium ", SeverityMedium, true},
		{"Unknown label is valid", "unknown", SeverityUnknown, true},
		{"Garbage", "SEVERE", SeverityUnknown, false},
		{"Empty", "", SeverityUnknown, false},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseSeverity(tc.input)
			assert.Equal(t, tc.expected, got)
			assert.Equal(t, tc.ok, ok)
		})
	}
}

func TestSeverityRank_TotalOrder(t *testing.T) {
	ordered := []Severity{SeverityUnknown, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(ordered); i++ {
		assert.Greater(t, ordered[i].Rank(), ordered[i-1].Rank(), "%s should outrank %s", ordered[i], ordered[i-1])
	}
	assert.Equal(t, SeverityUnknown.Rank(), Severity("bogus").Rank())
}

func TestDeriveFindingID(t *testing.T) {
	t.Run("fingerprint wins", func(t *testing.T) {
		assert.Equal(t, "abc123", DeriveFindingID(" abc123 ", "brakeman", "1", "app/models/user.rb", 42))
	})

	t.Run("derived id is stable", func(t *testing.T) {
		a := DeriveFindingID("", "brakeman", "1", "app/models/user.rb", 42)
		b := DeriveFindingID("", "brakeman", "1", "app/models/user.rb", 42)
		assert.Equal(t, a, b)
		assert.Regexp(t, `^brakeman-[0-9a-f]{20}$`, a)
	})

	t.Run("derived id separates fields", func(t *testing.T) {
		// Naive concatenation would make these two collide.
		a := DeriveFindingID("", "brakeman", "1", "1app.rb", 2)
		b := DeriveFindingID("", "brakeman", "11", "app.rb", 2)
		assert.NotEqual(t, a, b)
	})
}

func TestNewPrioritizedFinding(t *testing.T) {
	base := RiskScoringResult{
		Finding:       Finding{ID: "F1", Tool: "brakeman"},
		Heuristic:     HeuristicScore{FindingID: "F1", Severity: SeverityHigh, BaseScore: 7.5, NormalizedScore: 7.5},
		FinalScore:    7.5,
		FinalSeverity: SeverityHigh,
	}

	t.Run("without external opinion the ai fields are absent", func(t *testing.T) {
		pf := NewPrioritizedFinding(base)
		assert.Equal(t, BasisHeuristic, pf.Basis)
		assert.Nil(t, pf.AIRiskScore)
		assert.Nil(t, pf.AIFPProbability)
		assert.Nil(t, pf.AIRationale)

		raw, err := json.Marshal(pf)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "ai_risk_score")
	})

	t.Run("a zero external score is still present", func(t *testing.T) {
		r := base
		r.External = &ExternalScore{RiskScore: 0, FPProbability: 0, Source: SourceLLM}
		pf := NewPrioritizedFinding(r)
		require.NotNil(t, pf.AIRiskScore)
		assert.Equal(t, 0.0, *pf.AIRiskScore)
		assert.Equal(t, BasisAI, pf.Basis)
		assert.Equal(t, SourceLLM, pf.AISource)
	})

	t.Run("a fallback opinion keeps the heuristic basis", func(t *testing.T) {
		r := base
		r.External = &ExternalScore{RiskScore: 7.5, FPProbability: 0.5, Source: SourceFallback, Rationale: "Fallback: heuristic score only (timeout)."}
		pf := NewPrioritizedFinding(r)
		assert.Equal(t, BasisHeuristic, pf.Basis)
		require.NotNil(t, pf.AIRationale)
		assert.Contains(t, *pf.AIRationale, "Fallback")
	})
}

func TestExternalScore_IsUsable(t *testing.T) {
	var none *ExternalScore
	assert.False(t, none.IsUsable())
	assert.False(t, (&ExternalScore{Source: SourceFallback}).IsUsable())
	assert.True(t, (&ExternalScore{Source: SourceStub}).IsUsable())
	assert.True(t, (&ExternalScore{Source: SourceCache}).IsUsable())
}
