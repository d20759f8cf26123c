package ingest

import (
	"fmt"
	"strconv"

	"github.com/xkilldash9x/sastrank/api/schemas"
)

const brakemanTool = "brakeman"

type brakemanReport struct {
	Warnings []brakemanWarning `json:"warnings"`
}

type brakemanWarning struct {
	WarningType string `json:"warning_type"`
	WarningCode *int   `json:"warning_code"`
	Fingerprint string `json:"fingerprint"`
	Message     string `json:"message"`
	File        string `json:"file"`
	Line        *int   `json:"line"`
	Link        string `json:"link"`
	Code        string `json:"code"`
	Confidence  string `json:"confidence"`
}

// BrakemanAdapter converts a Brakeman JSON report.
type BrakemanAdapter struct{}

// FromReport maps every warning to a finding, in report order.
func (BrakemanAdapter) FromReport(raw []byte) ([]schemas.Finding, error) {
	var report brakemanReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("failed to decode brakeman report: %w", err)
	}

	findings := make([]schemas.Finding, 0, len(report.Warnings))
	for _, w := range report.Warnings {
		findings = append(findings, w.toFinding())
	}
	return findings, nil
}

func (w brakemanWarning) toFinding() schemas.Finding {
	var ruleID string
	if w.WarningCode != nil {
		ruleID = strconv.Itoa(*w.WarningCode)
	}
	var line int
	if w.Line != nil && *w.Line > 0 {
		line = *w.Line
	}

	return schemas.Finding{
		ID:            schemas.DeriveFindingID(w.Fingerprint, brakemanTool, ruleID, w.File, line),
		Tool:          brakemanTool,
		RuleID:        ruleID,
		Category:      w.WarningType,
		ConfidenceRaw: w.Confidence,
		Confidence:    normalizeConfidence(w.Confidence),
		FilePath:      w.File,
		LineStart:     line,
		LineEnd:       line,
		Message:       w.Message,
		CodeContext:   w.Code,
		Link:          w.Link,
	}
}
