// Package provenance attaches git blame information to findings.
package provenance

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sastrank/api/schemas"
)

type fileBlame struct {
	lines []*git.Line
	err   error
}

// BlameEnricher blames finding locations against HEAD. Blame results are
// computed once per file and reused for every finding in it.
type BlameEnricher struct {
	root     string // absolute project root that finding paths are relative to
	worktree string // absolute top of the git worktree
	commit   *object.Commit
	logger   *zap.Logger

	mu    sync.Mutex
	cache map[string]fileBlame
}

// NewBlameEnricher opens the repository containing root.
func NewBlameEnricher(root string, logger *zap.Logger) (*BlameEnricher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve git root %s: %w", root, err)
	}

	repo, err := git.PlainOpenWithOptions(absRoot, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository at %s: %w", absRoot, err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to load HEAD commit: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree: %w", err)
	}

	return &BlameEnricher{
		root:     absRoot,
		worktree: wt.Filesystem.Root(),
		commit:   commit,
		logger:   logger.Named("provenance"),
		cache:    make(map[string]fileBlame),
	}, nil
}

// Enrich returns copies of the findings with commit SHA, author and commit
// date filled in where blame succeeds. Findings without a location, or whose
// blame fails, are returned unchanged.
func (e *BlameEnricher) Enrich(ctx context.Context, findings []schemas.Finding) []schemas.Finding {
	out := make([]schemas.Finding, len(findings))
	copy(out, findings)

	enriched := 0
	for i := range out {
		if ctx.Err() != nil {
			break
		}
		f := &out[i]
		if f.FilePath == "" || f.LineStart <= 0 {
			continue
		}
		line, err := e.lineAt(f.FilePath, f.LineStart)
		if err != nil {
			e.logger.Debug("Skipping provenance for finding.",
				zap.String("finding_id", f.ID),
				zap.String("file", f.FilePath),
				zap.Error(err),
			)
			continue
		}
		f.CommitSHA = line.Hash.String()
		f.Author = formatAuthor(line.AuthorName, line.Author)
		if !line.Date.IsZero() {
			f.CommitDate = line.Date.UTC().Format(time.RFC3339)
		}
		enriched++
	}

	e.logger.Info("Provenance enrichment complete.",
		zap.Int("findings", len(findings)),
		zap.Int("enriched", enriched),
	)
	return out
}

func (e *BlameEnricher) lineAt(path string, lineNo int) (*git.Line, error) {
	rel, err := e.repoPath(path)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	fb, ok := e.cache[rel]
	if !ok {
		result, err := git.Blame(e.commit, rel)
		if err != nil {
			fb = fileBlame{err: fmt.Errorf("blame failed for %s: %w", rel, err)}
		} else {
			fb = fileBlame{lines: result.Lines}
		}
		e.cache[rel] = fb
	}
	e.mu.Unlock()

	if fb.err != nil {
		return nil, fb.err
	}
	if lineNo > len(fb.lines) {
		return nil, fmt.Errorf("line %d is beyond the end of %s (%d lines)", lineNo, rel, len(fb.lines))
	}
	return fb.lines[lineNo-1], nil
}

// repoPath converts a finding path into a slash separated path relative to
// the worktree top.
func (e *BlameEnricher) repoPath(path string) (string, error) {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(e.root, path)
	}
	rel, err := filepath.Rel(e.worktree, abs)
	if err != nil {
		return "", fmt.Errorf("failed to relativize %s: %w", path, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside the repository", path)
	}
	return rel, nil
}

func formatAuthor(name, email string) string {
	name, email = strings.TrimSpace(name), strings.TrimSpace(email)
	switch {
	case name != "" && email != "":
		return fmt.Sprintf("%s <%s>", name, email)
	case name != "":
		return name
	default:
		return email
	}
}
