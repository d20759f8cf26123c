package schemas

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"
)

// -- Severity & Confidence --

// Severity is the normalized classification of a finding. The values are
// upper case to match the labels exchanged with the external assessor.
type Severity string

// Constants defining the severity bands, weakest first.
const (
	SeverityUnknown  Severity = "UNKNOWN"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// severityRank gives every band a position in the total order.
var severityRank = map[Severity]int{
	SeverityUnknown:  0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the position of the severity in the total order. Values that
// are not a known band rank with UNKNOWN.
func (s Severity) Rank() int {
	return severityRank[s]
}

// IsValid reports whether s is one of the five known bands.
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// ParseSeverity converts a free-form label into a Severity. Matching is case
// insensitive and ignores surrounding whitespace.
func ParseSeverity(label string) (Severity, bool) {
	s := Severity(strings.ToUpper(strings.TrimSpace(label)))
	if !s.IsValid() {
		return SeverityUnknown, false
	}
	return s, true
}

// Confidence is the tool's certainty about a finding. It only nudges the
// heuristic score and never moves a finding into another band.
type Confidence string

const (
	ConfidenceUnknown Confidence = "UNKNOWN"
	ConfidenceLow     Confidence = "LOW"
	ConfidenceMedium  Confidence = "MEDIUM"
	ConfidenceHigh    Confidence = "HIGH"
)

// -- Finding Schemas --

// Finding is one normalized static-analysis warning. It is produced by an
// ingestion adapter, optionally enriched with provenance, and treated as
// immutable by everything downstream.
type Finding struct {
	ID string `json:"id"` // Stable identifier, see DeriveFindingID.

	// Origin
	Tool     string `json:"tool"`
	RuleID   string `json:"rule_id,omitempty"`
	Category string `json:"category,omitempty"`

	ConfidenceRaw string     `json:"confidence_raw,omitempty"`
	Confidence    Confidence `json:"confidence_normalized"`

	// Location. Lines are 1-based; zero means the tool did not report one.
	FilePath  string `json:"file_path,omitempty"`
	LineStart int    `json:"line_start,omitempty"`
	LineEnd   int    `json:"line_end,omitempty"`

	Message     string `json:"message"`
	CodeContext string `json:"code_context,omitempty"`
	Link        string `json:"link,omitempty"`

	// Provenance, filled in by the git enrichment step.
	CommitSHA  string `json:"commit_sha,omitempty"`
	Author     string `json:"author,omitempty"`
	CommitDate string `json:"commit_date,omitempty"` // RFC 3339
}

// DeriveFindingID returns the tool supplied fingerprint when there is one.
// Otherwise it hashes the tool, rule, file and line so that the same warning
// gets the same ID on every run.
func DeriveFindingID(fingerprint, tool, ruleID, filePath string, line int) string {
	if fp := strings.TrimSpace(fingerprint); fp != "" {
		return fp
	}

	h := sha1.New()
	h.Write([]byte(strings.Join([]string{tool, ruleID, filePath, strconv.Itoa(line)}, "\x00")))
	sum := hex.EncodeToString(h.Sum(nil))
	if tool == "" {
		tool = "finding"
	}
	return tool + "-" + sum[:20]
}

// -- Score Schemas --

// HeuristicScore is the deterministic, table driven estimate for a finding.
type HeuristicScore struct {
	FindingID string   `json:"finding_id"`
	Severity  Severity `json:"severity"`
	VulnClass string   `json:"vuln_class,omitempty"`

	// BaseScore is the unclamped sum of all components.
	BaseScore float64 `json:"base_score"`
	// NormalizedScore is BaseScore clamped to [0, 10].
	NormalizedScore float64 `json:"normalized_score"`

	Components ScoreComponents `json:"components"`
}

// ScoreComponents records every additive term of a heuristic score.
type ScoreComponents struct {
	SeverityBase         float64 `json:"severity_base"`
	RuleBonus            float64 `json:"rule_bonus"`
	ConfidenceAdjustment float64 `json:"confidence_adjustment"`
	RecencyBonus         float64 `json:"recency_bonus"`
	ContextBonus         float64 `json:"context_bonus"`
}

// AssessmentSource tells where an ExternalScore came from.
type AssessmentSource string

const (
	SourceStub     AssessmentSource = "stub"
	SourceLLM      AssessmentSource = "llm"
	SourceCache    AssessmentSource = "cache"
	SourceFallback AssessmentSource = "fallback"
)

// ExternalScore is the optional opinion of an external assessor. A finding
// without an opinion carries a nil *ExternalScore, never a zero value.
// A score with Source fallback records a failed assessment; it carries a
// rationale but does not take part in the blend.
type ExternalScore struct {
	RiskScore     float64 `json:"risk_score"`     // [0, 10]
	FPProbability float64 `json:"fp_probability"` // [0, 1]

	// Severity is the refined band, empty when the assessor gave none.
	Severity  Severity         `json:"severity,omitempty"`
	Rationale string           `json:"rationale,omitempty"`
	Source    AssessmentSource `json:"source"`
}

// IsUsable reports whether the score is a real opinion that may be blended.
func (e *ExternalScore) IsUsable() bool {
	return e != nil && e.Source != SourceFallback
}

// RiskScoringResult is the complete evaluation of one finding.
type RiskScoringResult struct {
	Finding       Finding        `json:"finding"`
	Heuristic     HeuristicScore `json:"heuristic"`
	External      *ExternalScore `json:"external,omitempty"`
	FinalScore    float64        `json:"final_score"`
	FinalSeverity Severity       `json:"final_severity"`
}

// ScoreBasis names the signal a final score was derived from.
type ScoreBasis string

const (
	BasisAI        ScoreBasis = "ai"
	BasisHeuristic ScoreBasis = "heuristic_fallback"
)

// PrioritizedFinding is a scoring result flattened for the report layer,
// together with its position in the final order.
type PrioritizedFinding struct {
	Rank    int     `json:"rank"`
	Finding Finding `json:"finding"`

	HeuristicSeverity Severity `json:"heuristic_severity"`
	VulnClass         string   `json:"vuln_class,omitempty"`
	BaseScore         float64  `json:"base_score"`
	NormalizedScore   float64  `json:"normalized_score"`

	AIRiskScore     *float64         `json:"ai_risk_score,omitempty"`
	AIFPProbability *float64         `json:"ai_fp_probability,omitempty"`
	AISeverity      Severity         `json:"ai_severity,omitempty"`
	AIRationale     *string          `json:"ai_rationale,omitempty"`
	AISource        AssessmentSource `json:"ai_source,omitempty"`

	FinalScore    float64    `json:"final_score"`
	FinalSeverity Severity   `json:"final_severity"`
	Basis         ScoreBasis `json:"basis"`
}

// NewPrioritizedFinding flattens a scoring result. The rank is assigned by
// the ranking engine once the total order is known.
func NewPrioritizedFinding(r RiskScoringResult) PrioritizedFinding {
	pf := PrioritizedFinding{
		Finding:           r.Finding,
		HeuristicSeverity: r.Heuristic.Severity,
		VulnClass:         r.Heuristic.VulnClass,
		BaseScore:         r.Heuristic.BaseScore,
		NormalizedScore:   r.Heuristic.NormalizedScore,
		FinalScore:        r.FinalScore,
		FinalSeverity:     r.FinalSeverity,
		Basis:             BasisHeuristic,
	}
	if ext := r.External; ext != nil {
		risk, fp, rationale := ext.RiskScore, ext.FPProbability, ext.Rationale
		pf.AIRiskScore = &risk
		pf.AIFPProbability = &fp
		pf.AIRationale = &rationale
		pf.AISeverity = ext.Severity
		pf.AISource = ext.Source
		if ext.Source != SourceFallback {
			pf.Basis = BasisAI
		}
	}
	return pf
}
