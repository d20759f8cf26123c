package publish

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-github/v58/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/sastrank/api/schemas"
	"github.com/xkilldash9x/sastrank/internal/config"
)

type MockIssues struct {
	mock.Mock
}

func (m *MockIssues) CreateComment(ctx context.Context, owner, repo string, number int, comment *github.IssueComment) (*github.IssueComment, *github.Response, error) {
	args := m.Called(ctx, owner, repo, number, comment)
	var c *github.IssueComment
	if v := args.Get(0); v != nil {
		c = v.(*github.IssueComment)
	}
	return c, nil, args.Error(2)
}

func sampleReport() *schemas.RankedReport {
	return &schemas.RankedReport{
		RunID:       "run-42",
		GeneratedAt: time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC),
		Source:      "brakeman.json",
		Findings: []schemas.PrioritizedFinding{{
			Rank:              1,
			Finding:           schemas.Finding{ID: "f1", Tool: "brakeman", RuleID: "SQL", FilePath: "app/models/user.rb", LineStart: 3, Message: "Possible SQL injection"},
			HeuristicSeverity: schemas.SeverityCritical,
			NormalizedScore:   10,
			FinalScore:        10,
			FinalSeverity:     schemas.SeverityCritical,
			Basis:             schemas.BasisHeuristic,
		}},
		Summary: schemas.RunSummary{Total: 1, BySeverity: map[schemas.Severity]int{schemas.SeverityCritical: 1}, MaxScore: 10, MeanScore: 10},
		Policy:  schemas.PolicyVerdict{Violated: true, Threshold: 8, Offending: []string{"f1"}},
	}
}

func TestNewCommentPublisher_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.GitHubConfig
		wantErr string
	}{
		{"no pr", config.GitHubConfig{Owner: "acme", Repo: "app", Token: "t"}, "pull request number"},
		{"no repo", config.GitHubConfig{Owner: "acme", Token: "t", PRNumber: 1}, "owner and repo are required"},
		{"no token", config.GitHubConfig{Owner: "acme", Repo: "app", PRNumber: 1}, "token is required"},
		{"bad base url", config.GitHubConfig{Owner: "acme", Repo: "app", PRNumber: 1, Token: "t", BaseURL: "://nope"}, "invalid github base url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCommentPublisher(tt.cfg, zap.NewNop())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCommentPublisher_PostsToPullRequest(t *testing.T) {
	var gotBody, gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/app/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id": 1, "html_url": "https://github.example/acme/app/pull/7#issuecomment-1"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	core, logs := observer.New(zapcore.InfoLevel)
	p, err := NewCommentPublisher(config.GitHubConfig{
		Owner: "acme", Repo: "app", PRNumber: 7, Token: "secret", BaseURL: server.URL,
	}, zap.New(core))
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), sampleReport()))

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Contains(t, gotBody, "# sastrank Report")
	assert.Contains(t, gotBody, "Possible SQL injection")

	entries := logs.FilterMessage("Posted report to pull request.").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "https://github.example/acme/app/pull/7#issuecomment-1", entries[0].ContextMap()["url"])
}

func TestCommentPublisher_PropagatesAPIErrors(t *testing.T) {
	issues := new(MockIssues)
	apiErr := errors.New("403 forbidden")
	issues.On("CreateComment", mock.Anything, "acme", "app", 3, mock.AnythingOfType("*github.IssueComment")).
		Return(nil, nil, apiErr)

	p := NewCommentPublisherWithService(issues, "acme", "app", 3, zap.NewNop())
	err := p.Publish(context.Background(), sampleReport())

	require.Error(t, err)
	assert.ErrorIs(t, err, apiErr)
	assert.Contains(t, err.Error(), "acme/app#3")
	issues.AssertExpectations(t)
}

func TestCommentBody_Truncates(t *testing.T) {
	short := "# report"
	assert.Equal(t, short, commentBody(short))

	long := strings.Repeat("é", maxCommentRunes+10)
	body := commentBody(long)
	assert.Len(t, []rune(body), maxCommentRunes)
	assert.True(t, strings.HasSuffix(body, truncatedNotice))
}
