// internal/reporting/sarif_reporter.go
package reporting

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/sastrank/api/schemas"
	"github.com/xkilldash9x/sastrank/internal/reporting/sarif"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName    = "sastrank"
	ToolInfoURI = "https://github.com/xkilldash9x/sastrank"
)

// ruleIDSanitizer replaces characters not typically safe or allowed in SARIF Rule IDs.
// Alphanumerics, underscore and dot are kept. Everything else is replaced by a
// single hyphen, collapsing consecutive sequences.
var ruleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.]+`)

// RuleFingerprint identifies a rule definition by the tool, rule ID and category.
type RuleFingerprint string

func calculateFingerprint(f schemas.Finding) RuleFingerprint {
	h := sha1.New()
	h.Write([]byte(strings.Join([]string{f.Tool, f.RuleID, f.Category}, "\x00")))
	return RuleFingerprint(hex.EncodeToString(h.Sum(nil)))
}

// SARIFReporter exports ranked findings as SARIF 2.1.0 so that code scanning
// UIs can show the final score next to the original warning.
// It is thread safe.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	log    *sarif.Log
	// mu protects the log structure and the maps.
	mu sync.Mutex
	// rulesByFingerprint maps a content fingerprint to the index of its rule.
	rulesByFingerprint map[RuleFingerprint]int
	// ruleIDUsage tracks how many times a base Rule ID has been used, to handle collisions.
	ruleIDUsage map[string]int
}

// NewSARIFReporter creates a new reporter that writes SARIF output.
func NewSARIFReporter(writer io.WriteCloser, toolVersion string, logger *zap.Logger) *SARIFReporter {
	driver := &sarif.ToolComponent{
		Name:           ToolName,
		InformationURI: sarif.String(ToolInfoURI),
		Rules:          []*sarif.ReportingDescriptor{},
	}
	if toolVersion != "" {
		driver.Version = sarif.String(toolVersion)
	}

	return &SARIFReporter{
		writer: writer,
		logger: logger.Named("sarif_reporter"),
		log: &sarif.Log{
			Version: sarif.Version,
			Schema:  sarif.Schema,
			Runs: []*sarif.Run{
				{
					Tool:    &sarif.Tool{Driver: driver},
					Results: []*sarif.Result{},
				},
			},
		},
		rulesByFingerprint: make(map[RuleFingerprint]int),
		ruleIDUsage:        make(map[string]int),
	}
}

// Write adds one SARIF result per ranked finding, in rank order.
func (r *SARIFReporter) Write(report *schemas.RankedReport) error {
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	for _, pf := range report.Findings {
		ruleID, ruleIndex := r.ensureRule(pf.Finding)

		message := pf.Finding.Message
		if message == "" {
			message = pf.Finding.Category
		}

		props := sarif.PropertyBag{
			"final_score":        pf.FinalScore,
			"final_severity":     string(pf.FinalSeverity),
			"rank":               pf.Rank,
			"heuristic_score":    pf.NormalizedScore,
			"heuristic_severity": string(pf.HeuristicSeverity),
			"basis":              string(pf.Basis),
			"tool":               pf.Finding.Tool,
		}
		if pf.Basis == schemas.BasisAI && pf.AIFPProbability != nil {
			props["fp_probability"] = *pf.AIFPProbability
		}
		if pf.AIRationale != nil {
			props["rationale"] = *pf.AIRationale
		}

		run.Results = append(run.Results, &sarif.Result{
			RuleID:              ruleID,
			RuleIndex:           sarif.Int(ruleIndex),
			Message:             &sarif.Message{Text: sarif.String(message)},
			Level:               mapSeverityToSARIFLevel(pf.FinalSeverity),
			Locations:           createLocations(pf.Finding),
			PartialFingerprints: map[string]string{"sastrankFindingId/v1": pf.Finding.ID},
			Properties:          props,
		})
	}

	r.logger.Debug("Wrote findings to SARIF buffer",
		zap.Int("findings_count", len(report.Findings)),
		zap.Duration("duration_ms", time.Since(startTime)),
	)
	return nil
}

// Close finalizes the SARIF log and writes it to the output writer.
func (r *SARIFReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	r.logger.Info("Finalizing SARIF report",
		zap.Int("total_results", len(run.Results)),
		zap.Int("total_rules", len(run.Tool.Driver.Rules)),
	)

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ") // Pretty print

	var encodeErr error
	if err := encoder.Encode(r.log); err != nil {
		r.logger.Error("Failed to encode SARIF log to JSON", zap.Error(err))
		encodeErr = fmt.Errorf("failed to encode SARIF output: %w", err)
	}
	// Always attempt to close the writer, regardless of encoding success.
	return closeWriter(r.writer, encodeErr, r.logger)
}

// sanitizeRuleName creates a standardized base name for the rule ID.
func sanitizeRuleName(name string) string {
	sanitized := ruleIDSanitizer.ReplaceAllString(strings.TrimSpace(name), "-")
	sanitized = strings.Trim(sanitized, "-")
	if sanitized == "" {
		return "UNKNOWN-RULE"
	}
	return sanitized
}

// ensureRule ensures a unique rule definition exists for the finding and
// returns its ID and index in the driver's rule list.
// NOTE: Must be called while holding the mutex.
func (r *SARIFReporter) ensureRule(f schemas.Finding) (string, int) {
	driver := r.log.Runs[0].Tool.Driver

	fingerprint := calculateFingerprint(f)
	if idx, exists := r.rulesByFingerprint[fingerprint]; exists {
		return driver.Rules[idx].ID, idx
	}

	base := f.RuleID
	if base == "" {
		base = f.Category
	}
	baseRuleID := sanitizeRuleName(f.Tool) + "/" + sanitizeRuleName(base)

	usageCount := r.ruleIDUsage[baseRuleID]
	r.ruleIDUsage[baseRuleID] = usageCount + 1

	finalRuleID := baseRuleID
	if usageCount > 0 {
		// Same tool and rule ID but a different category.
		finalRuleID = fmt.Sprintf("%s-%d", baseRuleID, usageCount)
		r.logger.Debug("Rule ID collision detected, generated new ID with suffix",
			zap.String("base_id", baseRuleID),
			zap.String("final_id", finalRuleID),
		)
	}

	rule := &sarif.ReportingDescriptor{
		ID:               finalRuleID,
		ShortDescription: &sarif.MultiformatMessageString{Text: sarif.String(f.Category)},
		Properties: sarif.PropertyBag{
			"tags":        []string{"security", f.Tool},
			"source_rule": f.RuleID,
		},
	}
	if f.Category != "" {
		rule.Name = sarif.String(f.Category)
	}
	if f.Link != "" {
		rule.HelpURI = sarif.String(f.Link)
	}
	driver.Rules = append(driver.Rules, rule)
	idx := len(driver.Rules) - 1
	r.rulesByFingerprint[fingerprint] = idx
	return finalRuleID, idx
}

// createLocations converts the finding location into SARIF location objects.
func createLocations(f schemas.Finding) []*sarif.Location {
	if f.FilePath == "" {
		return nil
	}
	loc := &sarif.PhysicalLocation{
		ArtifactLocation: &sarif.ArtifactLocation{URI: sarif.String(f.FilePath)},
	}
	if f.LineStart > 0 {
		loc.Region = &sarif.Region{StartLine: sarif.Int(f.LineStart)}
		if f.LineEnd >= f.LineStart {
			loc.Region.EndLine = sarif.Int(f.LineEnd)
		}
	}
	return []*sarif.Location{{PhysicalLocation: loc}}
}

// mapSeverityToSARIFLevel converts a final severity to the SARIF standard.
func mapSeverityToSARIFLevel(severity schemas.Severity) sarif.Level {
	switch severity {
	case schemas.SeverityCritical, schemas.SeverityHigh:
		return sarif.LevelError
	case schemas.SeverityMedium:
		return sarif.LevelWarning
	default:
		return sarif.LevelNote
	}
}
