package ingest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xkilldash9x/sastrank/api/schemas"
	"github.com/xkilldash9x/sastrank/internal/reporting/sarif"
)

// SARIFAdapter converts a SARIF 2.1.0 log. Every run contributes its results.
type SARIFAdapter struct{}

// FromReport maps every result of every run to a finding, in log order.
func (SARIFAdapter) FromReport(raw []byte) ([]schemas.Finding, error) {
	var log sarif.Log
	if err := json.Unmarshal(raw, &log); err != nil {
		return nil, fmt.Errorf("failed to decode SARIF log: %w", err)
	}

	var findings []schemas.Finding
	for _, run := range log.Runs {
		if run == nil {
			continue
		}
		tool, rules := runTool(run)
		for _, res := range run.Results {
			if res == nil {
				continue
			}
			findings = append(findings, resultToFinding(tool, rules, res))
		}
	}
	if findings == nil {
		findings = []schemas.Finding{}
	}
	return findings, nil
}

func runTool(run *sarif.Run) (string, []*sarif.ReportingDescriptor) {
	if run.Tool == nil || run.Tool.Driver == nil {
		return "sarif", nil
	}
	name := strings.ToLower(strings.TrimSpace(run.Tool.Driver.Name))
	if name == "" {
		name = "sarif"
	}
	return name, run.Tool.Driver.Rules
}

func resultToFinding(tool string, rules []*sarif.ReportingDescriptor, res *sarif.Result) schemas.Finding {
	rule := findRule(rules, res)
	ruleID := res.RuleID
	if ruleID == "" && rule != nil {
		ruleID = rule.ID
	}

	f := schemas.Finding{
		Tool:    tool,
		RuleID:  ruleID,
		Message: messageText(res.Message),
	}

	if rule != nil {
		f.Category = sarif.Deref(rule.Name)
		if f.Category == "" && rule.ShortDescription != nil {
			f.Category = sarif.Deref(rule.ShortDescription.Text)
		}
		f.Link = sarif.Deref(rule.HelpURI)
	}

	f.ConfidenceRaw = res.Properties.String("confidence")
	if f.ConfidenceRaw == "" && rule != nil {
		f.ConfidenceRaw = rule.Properties.String("precision")
	}
	if f.ConfidenceRaw == "" {
		f.ConfidenceRaw = string(res.Level)
	}
	f.Confidence = normalizeConfidence(f.ConfidenceRaw)

	if loc := firstPhysicalLocation(res); loc != nil {
		if loc.ArtifactLocation != nil {
			f.FilePath = strings.TrimPrefix(sarif.Deref(loc.ArtifactLocation.URI), "file://")
		}
		if r := loc.Region; r != nil {
			if r.StartLine != nil && *r.StartLine > 0 {
				f.LineStart = *r.StartLine
				f.LineEnd = f.LineStart
			}
			if r.EndLine != nil && *r.EndLine >= f.LineStart && f.LineStart > 0 {
				f.LineEnd = *r.EndLine
			}
			if r.Snippet != nil {
				f.CodeContext = sarif.Deref(r.Snippet.Text)
			}
		}
	}

	f.ID = schemas.DeriveFindingID(fingerprint(res), tool, ruleID, f.FilePath, f.LineStart)
	return f
}

func findRule(rules []*sarif.ReportingDescriptor, res *sarif.Result) *sarif.ReportingDescriptor {
	if res.RuleIndex != nil && *res.RuleIndex >= 0 && *res.RuleIndex < len(rules) {
		return rules[*res.RuleIndex]
	}
	for _, r := range rules {
		if r != nil && r.ID == res.RuleID {
			return r
		}
	}
	return nil
}

func messageText(m *sarif.Message) string {
	if m == nil {
		return ""
	}
	return sarif.Deref(m.Text)
}

func firstPhysicalLocation(res *sarif.Result) *sarif.PhysicalLocation {
	for _, loc := range res.Locations {
		if loc != nil && loc.PhysicalLocation != nil {
			return loc.PhysicalLocation
		}
	}
	return nil
}

// fingerprint prefers full fingerprints over partial ones and picks the
// first key in sorted order so the choice is stable.
func fingerprint(res *sarif.Result) string {
	for _, set := range []map[string]string{res.Fingerprints, res.PartialFingerprints} {
		if len(set) == 0 {
			continue
		}
		keys := make([]string, 0, len(set))
		for k := range set {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return set[keys[0]]
	}
	return ""
}
