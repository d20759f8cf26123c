package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sastrank/api/schemas"
	"github.com/xkilldash9x/sastrank/internal/config"
	"github.com/xkilldash9x/sastrank/internal/observability"
	"github.com/xkilldash9x/sastrank/internal/reporting"
)

// runReader loads a stored run.
type runReader interface {
	GetRun(ctx context.Context, runID string) (*schemas.RankedReport, error)
}

// historyOpener connects to the run history.
type historyOpener func(ctx context.Context, cfg config.Interface, logger *zap.Logger) (runReader, func(), error)

func openHistory(ctx context.Context, cfg config.Interface, logger *zap.Logger) (runReader, func(), error) {
	url := cfg.Database().URL
	if url == "" {
		return nil, nil, errors.New("database URL is not configured (SASTRANK_DATABASE_URL)")
	}
	s, cleanup, err := connectStore(ctx, url, logger)
	if err != nil {
		return nil, nil, err
	}
	return s, cleanup, nil
}

func newHistoryCmd(open historyOpener) *cobra.Command {
	var format string

	historyCmd := &cobra.Command{
		Use:   "history <run-id>",
		Short: "Render a stored ranked run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			reader, cleanup, err := open(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := reader.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			return renderRun(cmd, report, format, logger)
		},
	}

	historyCmd.Flags().StringVarP(&format, "format", "f", reporting.FormatMarkdown, "Output format: markdown, json or sarif")
	historyCmd.Flags().String("database-url", "", "PostgreSQL URL for run history")
	return historyCmd
}

// renderRun writes report to the command output in the given format.
func renderRun(cmd *cobra.Command, report *schemas.RankedReport, format string, logger *zap.Logger) error {
	r, err := reporting.NewForWriter(format, cmd.OutOrStdout(), Version, logger)
	if err != nil {
		return err
	}
	if err := r.Write(report); err != nil {
		_ = r.Close()
		return fmt.Errorf("failed to render run %s: %w", report.RunID, err)
	}
	return r.Close()
}
