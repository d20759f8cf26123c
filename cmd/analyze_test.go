package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/sastrank/api/schemas"
	"github.com/xkilldash9x/sastrank/internal/config"
	"github.com/xkilldash9x/sastrank/internal/results"
)

func TestRunAnalyze(t *testing.T) {
	t.Run("violated gate passes without the fail flag", func(t *testing.T) {
		cfg := testConfig(t)
		report := writeFile(t, "brakeman.json", brakemanReport)
		core, logs := observer.New(zapcore.WarnLevel)

		err := runAnalyze(context.Background(), zap.New(core), cfg, report, false, buildPipeline)
		require.NoError(t, err)

		entries := logs.FilterMessage("Policy gate violated.").All()
		require.Len(t, entries, 1)
		assert.Equal(t, []interface{}{"sqli-1"}, entries[0].ContextMap()["offending"])
		assert.FileExists(t, cfg.Report().Markdown)
		assert.FileExists(t, cfg.Report().JSON)
	})

	t.Run("violated gate fails with the fail flag", func(t *testing.T) {
		cfg := testConfig(t)
		report := writeFile(t, "brakeman.json", brakemanReport)

		err := runAnalyze(context.Background(), zap.NewNop(), cfg, report, true, buildPipeline)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPolicyViolation)
		assert.Equal(t, 2, ExitCode(err))
	})

	t.Run("factory errors are wrapped", func(t *testing.T) {
		factoryErr := errors.New("redis unreachable")
		failing := func(context.Context, config.Interface, *zap.Logger) (*results.Pipeline, func(), error) {
			return nil, nil, factoryErr
		}

		err := runAnalyze(context.Background(), zap.NewNop(), testConfig(t), "unused.json", true, failing)
		assert.ErrorIs(t, err, factoryErr)
		assert.Contains(t, err.Error(), "failed to initialize components")
	})

	t.Run("unreadable report", func(t *testing.T) {
		cfg := testConfig(t)
		err := runAnalyze(context.Background(), zap.NewNop(), cfg, filepath.Join(t.TempDir(), "missing.json"), false, buildPipeline)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read report")
	})
}

func TestBuildPipeline_RulesFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.ScoringCfg.RulesFile = writeFile(t, "rules.yaml", "rules:\n  \"0\": no_such_class\n")

	_, _, err := buildPipeline(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown class")
}

func TestAnalyzeCmd(t *testing.T) {
	t.Run("requires a report argument", func(t *testing.T) {
		resetForTest(t)
		_, err := executeCommand(t, "analyze")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "accepts 1 arg(s)")
	})

	t.Run("flags override config defaults", func(t *testing.T) {
		resetForTest(t)
		dir := t.TempDir()
		report := writeFile(t, "brakeman.json", brakemanReport)
		md := filepath.Join(dir, "out.md")
		sarif := filepath.Join(dir, "out.sarif")

		_, err := executeCommand(t, "analyze", report,
			"--git=false", "--assessor", "mirror", "--threshold", "9.5",
			"--markdown", md, "--json", "", "--sarif", sarif,
			"--fail-on-policy-violation")
		require.NoError(t, err, "mirror scores stay below 9.5")

		content, err := os.ReadFile(md)
		require.NoError(t, err)
		assert.Contains(t, string(content), "Possible SQL injection")
		assert.Contains(t, string(content), "| ai |")
		assert.FileExists(t, sarif)
	})

	t.Run("fails on violation", func(t *testing.T) {
		resetForTest(t)
		dir := t.TempDir()
		report := writeFile(t, "brakeman.json", brakemanReport)

		_, err := executeCommand(t, "analyze", report,
			"--git=false", "--assessor", "mirror", "--threshold", "8",
			"--markdown", filepath.Join(dir, "out.md"), "--json", "",
			"--fail-on-policy-violation")
		assert.ErrorIs(t, err, ErrPolicyViolation)
	})

	t.Run("policy expression flag", func(t *testing.T) {
		resetForTest(t)
		dir := t.TempDir()
		report := writeFile(t, "brakeman.json", brakemanReport)

		_, err := executeCommand(t, "analyze", report,
			"--git=false", "--threshold", "10", "--policy", `file_path.startsWith("lib/")`,
			"--markdown", filepath.Join(dir, "out.md"), "--json", "",
			"--fail-on-policy-violation")
		assert.ErrorIs(t, err, ErrPolicyViolation)
	})
}

// -- History --

type fakeRunReader struct {
	runs map[string]*schemas.RankedReport
}

func (f fakeRunReader) GetRun(_ context.Context, runID string) (*schemas.RankedReport, error) {
	r, ok := f.runs[runID]
	if !ok {
		return nil, errors.New("run not found: " + runID)
	}
	return r, nil
}

func rootWithHistory(open historyOpener) *cobra.Command {
	root := NewRootCommand()
	for _, c := range root.Commands() {
		if c.Name() == "history" {
			root.RemoveCommand(c)
		}
	}
	root.AddCommand(newHistoryCmd(open))
	return root
}

func TestHistoryCmd(t *testing.T) {
	reader := fakeRunReader{runs: map[string]*schemas.RankedReport{
		"run-7": {
			RunID:  "run-7",
			Source: "semgrep.sarif",
			Findings: []schemas.PrioritizedFinding{{
				Rank:          1,
				Finding:       schemas.Finding{ID: "f1", Tool: "semgrep", Message: "Tainted SQL string"},
				FinalScore:    7.5,
				FinalSeverity: schemas.SeverityHigh,
				Basis:         schemas.BasisHeuristic,
			}},
		},
	}}
	closed := false
	open := func(context.Context, config.Interface, *zap.Logger) (runReader, func(), error) {
		return reader, func() { closed = true }, nil
	}

	t.Run("renders a stored run", func(t *testing.T) {
		resetForTest(t)
		root := rootWithHistory(open)
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetArgs([]string{"history", "run-7", "--format", "json"})

		require.NoError(t, root.ExecuteContext(context.Background()))
		assert.Contains(t, out.String(), `"run_id": "run-7"`)
		assert.Contains(t, out.String(), "Tainted SQL string")
		assert.True(t, closed)
	})

	t.Run("unknown run", func(t *testing.T) {
		resetForTest(t)
		root := rootWithHistory(open)
		root.SetArgs([]string{"history", "run-404"})
		err := root.ExecuteContext(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "run-404")
	})

	t.Run("requires a database", func(t *testing.T) {
		resetForTest(t)
		_, err := executeCommand(t, "history", "run-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database URL is not configured")
	})
}
