package assessor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/sastrank/api/schemas"
	"github.com/xkilldash9x/sastrank/internal/config"
	"github.com/xkilldash9x/sastrank/internal/llmutil"
	"github.com/xkilldash9x/sastrank/internal/observability"
)

const (
	systemPrompt     = "You are an application security expert helping to prioritize static analysis findings in a CI pipeline."
	truncationMarker = "\n# ... truncated ..."
	noRationale      = "No rationale provided by the assessor."

	defaultMaxCodeChars    = 2000
	defaultMaxContextChars = 2000
	defaultMaxMessageChars = 1000
)

var errRateLimited = errors.New("rate limiter wait failed")

// assessmentResponse is the JSON object the model must answer with.
type assessmentResponse struct {
	RiskScore     float64 `json:"risk_score"`
	FPProbability float64 `json:"fp_probability"`
	SeverityLabel string  `json:"severity_label"`
	Rationale     string  `json:"rationale"`
}

var requiredResponseKeys = []string{"risk_score", "fp_probability", "severity_label", "rationale"}

type contextFile struct {
	path    string
	content string
}

// Live asks an LLM for its opinion on each finding. It is safe for
// concurrent use as long as the LLM client is.
type Live struct {
	client       schemas.LLMClient
	cfg          config.AssessorConfig
	limiter      *rate.Limiter
	contextFiles []contextFile
	logger       *zap.Logger
}

// NewLive builds a live assessor. Context files are read once here; files
// that cannot be read are logged and skipped.
func NewLive(client schemas.LLMClient, cfg config.AssessorConfig, logger *zap.Logger) (*Live, error) {
	if client == nil {
		return nil, fmt.Errorf("live assessor requires an LLM client")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxCodeChars <= 0 {
		cfg.MaxCodeChars = defaultMaxCodeChars
	}
	if cfg.MaxContextCharsPerFile <= 0 {
		cfg.MaxContextCharsPerFile = defaultMaxContextChars
	}
	if cfg.MaxMessageChars <= 0 {
		cfg.MaxMessageChars = defaultMaxMessageChars
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1))
	}

	l := &Live{
		client:  client,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger.Named("assessor.live"),
	}
	l.loadContextFiles()
	return l, nil
}

// Assess returns the model's opinion, or a fallback score when anything
// between the rate limiter and the parsed response goes wrong.
func (l *Live) Assess(ctx context.Context, f schemas.Finding, h schemas.HeuristicScore) (ext *schemas.ExternalScore) {
	defer func() {
		if r := recover(); r != nil {
			observability.ForContext(ctx, l.logger).Error("Panic recovered during external assessment",
				zap.String("finding_id", f.ID),
				zap.Any("panic_value", r),
			)
			ext = fallbackScore(h, "assessment panicked")
		}
	}()

	score, err := l.assess(ctx, f, h)
	if err != nil {
		observability.ForContext(ctx, l.logger).Warn("External assessment failed, falling back to heuristic.",
			zap.String("finding_id", f.ID),
			zap.Error(err),
		)
		return fallbackScore(h, fallbackReason(err))
	}
	return score
}

func (l *Live) assess(ctx context.Context, f schemas.Finding, h schemas.HeuristicScore) (*schemas.ExternalScore, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", errRateLimited, err)
	}

	callCtx := ctx
	if l.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, l.cfg.CallTimeout)
		defer cancel()
	}

	req := schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   l.buildPrompt(f, h),
		Tier:         schemas.TierFast,
		Options: schemas.GenerationOptions{
			ForceJSONFormat: true,
			Temperature:     0.0,
		},
	}

	response, err := l.client.Generate(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("LLM generation failed: %w", err)
	}

	parsed, err := llmutil.ParseStrictJSON[assessmentResponse](response, requiredResponseKeys...)
	if err != nil {
		l.logger.Debug("Failed to parse assessment response.", zap.String("raw_response", response))
		return nil, err
	}

	severity, ok := schemas.ParseSeverity(parsed.SeverityLabel)
	if !ok {
		return nil, fmt.Errorf("%w: invalid severity_label %q", llmutil.ErrMalformedResponse, parsed.SeverityLabel)
	}
	if severity == schemas.SeverityUnknown {
		// No refined band; the heuristic band stays in effect.
		severity = ""
	}

	rationale := strings.TrimSpace(parsed.Rationale)
	if rationale == "" {
		rationale = noRationale
	}

	return &schemas.ExternalScore{
		RiskScore:     clampRange(parsed.RiskScore, 0, 10),
		FPProbability: clampRange(parsed.FPProbability, 0, 1),
		Severity:      severity,
		Rationale:     rationale,
		Source:        schemas.SourceLLM,
	}, nil
}

// -- Prompt --

func (l *Live) buildPrompt(f schemas.Finding, h schemas.HeuristicScore) string {
	var b strings.Builder

	b.WriteString("You get a single SAST finding and a heuristic risk estimate.\n\n")
	b.WriteString("Your tasks:\n")
	b.WriteString("1. Estimate a refined risk_score between 0 and 10.\n")
	b.WriteString("   - 0 = harmless / pure false positive.\n")
	b.WriteString("   - 10 = critical vulnerability with high impact (e.g. RCE, SQLi on sensitive data).\n")
	b.WriteString("2. Estimate fp_probability between 0 and 1 (likelihood that the finding is a false positive).\n")
	b.WriteString("3. Provide severity_label as one of: LOW, MEDIUM, HIGH, CRITICAL, or UNKNOWN if you cannot tell.\n")
	b.WriteString("4. Provide a short rationale (max. 4 sentences).\n\n")
	b.WriteString("Always answer as a single JSON object with exactly these keys:\n")
	b.WriteString("{\n")
	b.WriteString("  \"risk_score\": <float between 0 and 10>,\n")
	b.WriteString("  \"fp_probability\": <float between 0 and 1>,\n")
	b.WriteString("  \"severity_label\": \"<LOW|MEDIUM|HIGH|CRITICAL|UNKNOWN>\",\n")
	b.WriteString("  \"rationale\": \"<short explanation>\"\n")
	b.WriteString("}\n\n")

	b.WriteString("Context of the finding:\n")
	fmt.Fprintf(&b, "- Tool: %s\n", f.Tool)
	fmt.Fprintf(&b, "- Rule ID: %s\n", f.RuleID)
	fmt.Fprintf(&b, "- Category: %s\n", f.Category)
	fmt.Fprintf(&b, "- Tool confidence: %s\n", f.ConfidenceRaw)
	fmt.Fprintf(&b, "- Normalized confidence: %s\n", f.Confidence)
	fmt.Fprintf(&b, "- Heuristic severity: %s\n", h.Severity)
	fmt.Fprintf(&b, "- Heuristic score: %.2f\n", h.NormalizedScore)
	fmt.Fprintf(&b, "- File path: %s\n", f.FilePath)
	fmt.Fprintf(&b, "- Line start: %d\n", f.LineStart)
	fmt.Fprintf(&b, "- Commit SHA: %s\n", f.CommitSHA)
	fmt.Fprintf(&b, "- Author: %s\n", f.Author)
	fmt.Fprintf(&b, "- Commit date (RFC 3339): %s\n\n", f.CommitDate)

	b.WriteString("Tool message:\n")
	b.WriteString(llmutil.TruncateRunes(f.Message, l.cfg.MaxMessageChars, truncationMarker))
	b.WriteString("\n\n")

	snippet := l.truncateCode(f.CodeContext)
	if snippet == "" {
		snippet = "<no code snippet available>"
	}
	b.WriteString("Code snippet:\n```\n")
	b.WriteString(snippet)
	b.WriteString("\n```\n")

	if len(l.contextFiles) > 0 {
		b.WriteString("\nAdditional project context files (may be truncated):\n")
		for _, cf := range l.contextFiles {
			fmt.Fprintf(&b, "\n--- File: %s ---\n```\n%s\n```\n", cf.path, cf.content)
		}
	}

	return b.String()
}

func (l *Live) truncateCode(code string) string {
	if code == "" {
		return ""
	}
	code = strings.ReplaceAll(code, "\r\n", "\n")
	return llmutil.TruncateRunes(code, l.cfg.MaxCodeChars, truncationMarker)
}

func (l *Live) loadContextFiles() {
	root := l.cfg.ProjectRoot
	if root == "" {
		root = "."
	}
	for _, name := range l.cfg.ContextFiles {
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, name)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn("Could not read context file, skipping.", zap.String("path", path), zap.Error(err))
			continue
		}
		content := strings.ToValidUTF8(string(data), "�")
		l.contextFiles = append(l.contextFiles, contextFile{
			path:    path,
			content: llmutil.TruncateRunes(content, l.cfg.MaxContextCharsPerFile, truncationMarker),
		})
	}
}

// -- Fallback --

func fallbackScore(h schemas.HeuristicScore, reason string) *schemas.ExternalScore {
	return &schemas.ExternalScore{
		RiskScore:     h.NormalizedScore,
		FPProbability: 0.5,
		Severity:      h.Severity,
		Rationale:     fmt.Sprintf("Fallback: heuristic score only (%s).", reason),
		Source:        schemas.SourceFallback,
	}
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, errRateLimited):
		return "rate limit wait failed"
	case errors.Is(err, context.DeadlineExceeded):
		return "assessment timed out"
	case errors.Is(err, context.Canceled):
		return "assessment cancelled"
	case errors.Is(err, llmutil.ErrMalformedResponse):
		return "invalid assessment response"
	default:
		return "assessment call failed"
	}
}

func clampRange(v, lo, hi float64) float64 {
	if v != v || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
