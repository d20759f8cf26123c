package results

import (
	"context"
	"time"

	"github.com/xkilldash9x/sastrank/api/schemas"
)

// Loader reads an analyzer report from disk and normalizes it.
type Loader func(path string) ([]schemas.Finding, string, error)

// Enricher adds context to findings before they are scored.
// Implementations must not drop or reorder findings.
type Enricher interface {
	Enrich(ctx context.Context, findings []schemas.Finding) []schemas.Finding
}

// Ranker scores findings and returns them in rank order.
type Ranker interface {
	Rank(ctx context.Context, findings []schemas.Finding) []schemas.PrioritizedFinding
}

// Gate decides whether a ranked run passes the CI policy.
type Gate interface {
	Evaluate(findings []schemas.PrioritizedFinding) schemas.PolicyVerdict
}

// RunStore keeps the history of ranked runs.
type RunStore interface {
	PersistRun(ctx context.Context, report *schemas.RankedReport) error
}

// Publisher delivers a finished report outside the run.
type Publisher interface {
	Publish(ctx context.Context, report *schemas.RankedReport) error
}

// Output is one rendered report destination. An empty path means stdout.
type Output struct {
	Format string
	Path   string
}

// Clock returns the current time.
type Clock func() time.Time
