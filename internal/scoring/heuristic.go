package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/xkilldash9x/sastrank/api/schemas"
)

// -- Weight Tables --

// severityWeights is the base weight per band on the 0-10 scale. Adjacent
// bands are 2.0 apart, which exceeds MaxRuleBonus plus the confidence swing.
var severityWeights = map[schemas.Severity]float64{
	schemas.SeverityCritical: 8.0,
	schemas.SeverityHigh:     6.0,
	schemas.SeverityMedium:   4.0,
	schemas.SeverityLow:      2.0,
	schemas.SeverityUnknown:  0.0,
}

// SeverityWeight returns the base weight of a band. The ranking engine
// breaks score ties with the same table.
func SeverityWeight(s schemas.Severity) float64 {
	return severityWeights[s]
}

var confidenceAdjustments = map[schemas.Confidence]float64{
	schemas.ConfidenceHigh:    0.5,
	schemas.ConfidenceMedium:  0.0,
	schemas.ConfidenceLow:     -0.5,
	schemas.ConfidenceUnknown: 0.0,
}

// recencySteps must stay sorted by maxDays.
var recencySteps = []struct {
	maxDays float64
	bonus   float64
}{
	{7, 1.0},
	{30, 0.7},
	{90, 0.4},
	{365, 0.2},
}

// commitDateLayouts are tried in order. The first is what provenance writes;
// the others cover dates copied from git log output.
var commitDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

type pathRule struct {
	bonus   float64
	markers []string
}

// pathRules are matched against "/" + the normalized path. The first rule
// with a matching marker wins.
var pathRules = []pathRule{
	// tests and fixtures
	{-1.0, []string{"/test/", "/tests/", "/spec/", "/specs/", "/fixtures/", "/__tests__/", "_test.", "_spec.", ".test.", ".spec."}},
	// vendored code
	{-0.5, []string{"/vendor/", "/node_modules/", "/third_party/", "/third-party/", "/bower_components/"}},
	// request entry points
	{1.0, []string{"/controllers/", "_controller.", "/routes/", "/routes.", "/handlers/", "/api/", "/endpoints/"}},
	// data, view and background layers
	{0.6, []string{"/models/", "/views/", "/jobs/", "/workers/", "/serializers/", "/helpers/", "/mailers/", "/services/"}},
	// configuration and schema
	{0.2, []string{"/config/", "/db/", "/migrate/", "/migrations/", "/initializers/"}},
}

// -- Scorer --

// Scorer computes the deterministic heuristic score of a finding. It has no
// mutable state and is safe for concurrent use.
type Scorer struct {
	rules *RuleTable
	now   func() time.Time
}

// ScorerOption configures a Scorer.
type ScorerOption func(*Scorer)

// WithClock replaces the reference clock used for the recency bonus.
func WithClock(now func() time.Time) ScorerOption {
	return func(s *Scorer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRuleTable replaces the built-in rule table.
func WithRuleTable(t *RuleTable) ScorerOption {
	return func(s *Scorer) {
		if t != nil {
			s.rules = t
		}
	}
}

// NewScorer returns a Scorer with the built-in rule table and wall clock.
func NewScorer(opts ...ScorerOption) *Scorer {
	s := &Scorer{
		rules: DefaultRuleTable(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score never fails; every missing signal contributes its neutral term.
func (s *Scorer) Score(f schemas.Finding) schemas.HeuristicScore {
	class, profile := s.rules.Classify(f)

	c := schemas.ScoreComponents{
		SeverityBase:         SeverityWeight(profile.Severity),
		RuleBonus:            clamp(profile.Bonus, 0, MaxRuleBonus),
		ConfidenceAdjustment: confidenceAdjustments[f.Confidence],
		RecencyBonus:         recencyBonus(f.CommitDate, s.now()),
		ContextBonus:         contextBonus(f.FilePath),
	}
	base := c.SeverityBase + c.RuleBonus + c.ConfidenceAdjustment + c.RecencyBonus + c.ContextBonus

	return schemas.HeuristicScore{
		FindingID:       f.ID,
		Severity:        profile.Severity,
		VulnClass:       string(class),
		BaseScore:       base,
		NormalizedScore: clamp(base, 0, 10),
		Components:      c,
	}
}

func parseCommitDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range commitDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func recencyBonus(commitDate string, now time.Time) float64 {
	committed, ok := parseCommitDate(commitDate)
	if !ok {
		return 0
	}
	// Clock skew can put a commit in the future; that counts as brand new.
	ageDays := math.Max(0, now.Sub(committed).Hours()/24)
	for _, step := range recencySteps {
		if ageDays <= step.maxDays {
			return step.bonus
		}
	}
	return 0
}

// normalizePath lower-cases, converts separators and anchors the path with
// a leading slash so that markers match on whole segments.
func normalizePath(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	return "/" + strings.TrimLeft(p, "/")
}

func contextBonus(filePath string) float64 {
	p := normalizePath(filePath)
	if p == "" {
		return 0
	}
	for _, rule := range pathRules {
		for _, marker := range rule.markers {
			if strings.Contains(p, marker) {
				return rule.bonus
			}
		}
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(hi, math.Max(lo, v))
}
