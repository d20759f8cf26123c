package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sastrank/internal/config"
	"github.com/xkilldash9x/sastrank/internal/observability"
)

// ErrPolicyViolation is returned by analyze when the policy gate fails and
// --fail-on-policy-violation is set.
var ErrPolicyViolation = errors.New("policy gate violated")

func newAnalyzeCmd(build pipelineFactory) *cobra.Command {
	var failOnViolation bool

	analyzeCmd := &cobra.Command{
		Use:   "analyze <report>",
		Short: "Score, rank and gate the findings of an analyzer report",
		Long: `Reads a Brakeman JSON or SARIF report, enriches the findings with git
provenance, scores and ranks them, evaluates the policy gate and writes the
configured reports. The exit status is non-zero for a violated gate only
when --fail-on-policy-violation is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runAnalyze(ctx, observability.GetLogger(), cfg, args[0], failOnViolation, build)
		},
	}

	flags := analyzeCmd.Flags()
	flags.String("assessor", string(config.AssessorDisabled), "External assessor mode: disabled, mirror or live")
	flags.Int("workers", 4, "Concurrent assessments")
	flags.String("rules", "", "YAML file with rule table overrides")
	flags.Float64("threshold", 8.0, "Policy threshold on the final score (inclusive)")
	flags.String("policy", "", "Additional CEL policy expression")
	flags.Bool("git", true, "Enrich findings with git blame provenance")
	flags.String("git-root", ".", "Repository used for provenance")
	flags.String("markdown", "sastrank-report.md", "Markdown report path (empty to disable)")
	flags.String("json", "sastrank-report.json", "JSON report path (empty to disable)")
	flags.String("sarif", "", "SARIF report path (empty to disable)")
	flags.String("database-url", "", "PostgreSQL URL for run history")
	flags.Int("pr", 0, "Pull request number to comment on")
	flags.Bool("metrics", false, "Log run metrics at the end")
	flags.BoolVar(&failOnViolation, "fail-on-policy-violation", false, "Exit non-zero when the policy gate is violated")

	return analyzeCmd
}

// runAnalyze contains the testable core of the analyze command.
func runAnalyze(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	reportPath string,
	failOnViolation bool,
	build pipelineFactory,
) error {
	pipeline, cleanup, err := build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer cleanup()

	report, err := pipeline.Run(ctx, reportPath)
	if err != nil {
		return err
	}

	if !report.Policy.Violated {
		logger.Info("Policy gate passed.", zap.String("run_id", report.RunID))
		return nil
	}

	logger.Warn("Policy gate violated.",
		zap.String("run_id", report.RunID),
		zap.Float64("threshold", report.Policy.Threshold),
		zap.Strings("offending", report.Policy.Offending),
	)
	if failOnViolation {
		return fmt.Errorf("%w: %d finding(s)", ErrPolicyViolation, len(report.Policy.Offending))
	}
	return nil
}
