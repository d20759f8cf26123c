// Package publish posts ranked reports to code review systems.
package publish

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v58/github"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sastrank/api/schemas"
	"github.com/xkilldash9x/sastrank/internal/config"
	"github.com/xkilldash9x/sastrank/internal/reporting"
)

// maxCommentRunes stays under the GitHub comment body limit of 65536 characters.
const maxCommentRunes = 65000

const truncatedNotice = "\n\n_Report truncated. See the full report artifact._\n"

// IssuesService is the subset of the GitHub issues API used for PR comments.
type IssuesService interface {
	CreateComment(ctx context.Context, owner, repo string, number int, comment *github.IssueComment) (*github.IssueComment, *github.Response, error)
}

// Publisher delivers a finished report somewhere outside the run.
type Publisher interface {
	Publish(ctx context.Context, report *schemas.RankedReport) error
}

// CommentPublisher posts the Markdown report as a pull request comment.
type CommentPublisher struct {
	issues IssuesService
	owner  string
	repo   string
	pr     int
	logger *zap.Logger
}

// NewCommentPublisher builds a publisher from the GitHub section of the config.
func NewCommentPublisher(cfg config.GitHubConfig, logger *zap.Logger) (*CommentPublisher, error) {
	if !cfg.Enabled() {
		return nil, errors.New("github publishing requires a pull request number")
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.New("github owner and repo are required")
	}
	if cfg.Token == "" {
		return nil, errors.New("github token is required to publish comments")
	}

	client := github.NewClient(nil).WithAuthToken(cfg.Token)
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid github base url %q: %w", cfg.BaseURL, err)
		}
		client.BaseURL = u
	}

	return NewCommentPublisherWithService(client.Issues, cfg.Owner, cfg.Repo, cfg.PRNumber, logger), nil
}

// NewCommentPublisherWithService wires a publisher around an existing issues client.
func NewCommentPublisherWithService(issues IssuesService, owner, repo string, pr int, logger *zap.Logger) *CommentPublisher {
	return &CommentPublisher{
		issues: issues,
		owner:  owner,
		repo:   repo,
		pr:     pr,
		logger: logger.Named("publish"),
	}
}

// Publish posts the rendered report on the configured pull request.
func (p *CommentPublisher) Publish(ctx context.Context, report *schemas.RankedReport) error {
	body := commentBody(reporting.RenderMarkdown(report))

	comment, _, err := p.issues.CreateComment(ctx, p.owner, p.repo, p.pr, &github.IssueComment{Body: github.String(body)})
	if err != nil {
		return fmt.Errorf("failed to comment on %s/%s#%d: %w", p.owner, p.repo, p.pr, err)
	}

	p.logger.Info("Posted report to pull request.",
		zap.String("repo", p.owner+"/"+p.repo),
		zap.Int("pr", p.pr),
		zap.String("url", comment.GetHTMLURL()),
	)
	return nil
}

func commentBody(markdown string) string {
	runes := []rune(markdown)
	if len(runes) <= maxCommentRunes {
		return markdown
	}
	return string(runes[:maxCommentRunes-len([]rune(truncatedNotice))]) + truncatedNotice
}
