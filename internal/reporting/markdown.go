package reporting

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xkilldash9x/sastrank/api/schemas"
)

const maxMessageChars = 80

// MarkdownReporter renders a ranked run as a Markdown table suitable for a
// CI job summary or a pull request comment.
type MarkdownReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
}

// NewMarkdownReporter takes ownership of writer.
func NewMarkdownReporter(writer io.WriteCloser, logger *zap.Logger) *MarkdownReporter {
	return &MarkdownReporter{writer: writer, logger: logger.Named("markdown_reporter")}
}

// Write renders the report to the underlying writer.
func (r *MarkdownReporter) Write(report *schemas.RankedReport) error {
	if _, err := io.WriteString(r.writer, RenderMarkdown(report)); err != nil {
		return fmt.Errorf("failed to write markdown report: %w", err)
	}
	r.logger.Debug("Wrote markdown report", zap.Int("findings_count", len(report.Findings)))
	return nil
}

// Close closes the underlying writer.
func (r *MarkdownReporter) Close() error {
	return closeWriter(r.writer, nil, r.logger)
}

// RenderMarkdown returns the Markdown document for a report.
func RenderMarkdown(report *schemas.RankedReport) string {
	var b strings.Builder

	b.WriteString("# sastrank Report\n\n")
	fmt.Fprintf(&b, "Run `%s` generated %s from `%s`.\n\n",
		report.RunID, report.GeneratedAt.UTC().Format("2006-01-02 15:04:05 MST"), mdEscape(report.Source))

	s := report.Summary
	fmt.Fprintf(&b, "**Findings:** %d (critical %d, high %d, medium %d, low %d, unknown %d)  \n",
		s.Total,
		s.BySeverity[schemas.SeverityCritical], s.BySeverity[schemas.SeverityHigh],
		s.BySeverity[schemas.SeverityMedium], s.BySeverity[schemas.SeverityLow],
		s.BySeverity[schemas.SeverityUnknown])
	fmt.Fprintf(&b, "**Assessed:** %d, fallbacks %d, max score %.1f  \n", s.AIScored, s.Fallbacks, s.MaxScore)

	p := report.Policy
	if p.Violated {
		fmt.Fprintf(&b, "**Policy:** VIOLATED (%d finding(s) at or above %.1f", len(p.Offending), p.Threshold)
	} else {
		fmt.Fprintf(&b, "**Policy:** passed (threshold %.1f", p.Threshold)
	}
	if p.Expression != "" {
		fmt.Fprintf(&b, ", expression `%s`", mdEscape(p.Expression))
	}
	b.WriteString(")\n\n")

	b.WriteString("| # | Risk | FP Prob | Severity | Confidence | Tool | File | Line | Rule | Category | Heuristic | Basis | Message |\n")
	b.WriteString("|---|------|---------|----------|------------|------|------|------|------|----------|-----------|-------|---------|\n")

	for _, pf := range report.Findings {
		f := pf.Finding

		line := ""
		if f.LineStart > 0 {
			line = fmt.Sprintf("%d", f.LineStart)
		}
		fp := ""
		if pf.AIFPProbability != nil && pf.Basis == schemas.BasisAI {
			fp = fmt.Sprintf("%.2f", *pf.AIFPProbability)
		}

		fmt.Fprintf(&b, "| %d | %.1f | %s | %s | %s | %s | %s | %s | %s | %s | %.1f | %s | %s |\n",
			pf.Rank,
			pf.FinalScore,
			fp,
			mdEscape(string(pf.FinalSeverity)),
			mdEscape(string(f.Confidence)),
			mdEscape(f.Tool),
			mdEscape(f.FilePath),
			line,
			mdEscape(f.RuleID),
			mdEscape(f.Category),
			pf.NormalizedScore,
			pf.Basis,
			shortMessage(f.Message),
		)
	}

	b.WriteString("\n_Risk is the blended final score (0-10) when an assessment is available, otherwise the heuristic score. ")
	b.WriteString("FP Prob is the assessed false-positive probability (0-1). Heuristic is shown for reference._\n")

	return b.String()
}

// mdEscape keeps a value on one table row and stops it from closing a cell.
func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func shortMessage(msg string) string {
	msg = mdEscape(msg)
	if utf8.RuneCountInString(msg) <= maxMessageChars {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:maxMessageChars-3]) + "..."
}
