package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/sastrank/api/schemas"
	"github.com/xkilldash9x/sastrank/internal/assessor"
	"github.com/xkilldash9x/sastrank/internal/config"
	"github.com/xkilldash9x/sastrank/internal/llmclient"
	"github.com/xkilldash9x/sastrank/internal/observability"
	"github.com/xkilldash9x/sastrank/internal/policy"
	"github.com/xkilldash9x/sastrank/internal/provenance"
	"github.com/xkilldash9x/sastrank/internal/publish"
	"github.com/xkilldash9x/sastrank/internal/reporting"
	"github.com/xkilldash9x/sastrank/internal/results"
	"github.com/xkilldash9x/sastrank/internal/scoring"
	"github.com/xkilldash9x/sastrank/internal/store"
)

// pipelineFactory builds a ready pipeline and the function releasing its resources.
type pipelineFactory func(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*results.Pipeline, func(), error)

// cleanupStack releases resources in reverse order of acquisition.
type cleanupStack []func()

func (c *cleanupStack) push(fn func()) { *c = append(*c, fn) }

func (c cleanupStack) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// buildPipeline wires every component from the configuration.
func buildPipeline(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*results.Pipeline, func(), error) {
	var cleanup cleanupStack
	fail := func(err error) (*results.Pipeline, func(), error) {
		cleanup.run()
		return nil, nil, err
	}

	// -- Metrics --
	var metrics *observability.Metrics
	if cfg.Metrics().Enabled {
		mp := observability.NewRunMeterProvider()
		m, err := observability.NewMetrics(mp)
		if err != nil {
			return fail(err)
		}
		metrics = m
		cleanup.push(func() {
			if err := mp.LogSummary(context.Background(), logger.Named("metrics")); err != nil {
				logger.Warn("Failed to log metrics summary.", zap.Error(err))
			}
			_ = mp.Shutdown(context.Background())
		})
	}

	// -- Scoring --
	rules := scoring.DefaultRuleTable()
	if path := cfg.Scoring().RulesFile; path != "" {
		t, err := scoring.LoadRuleOverrides(path, rules)
		if err != nil {
			return fail(err)
		}
		rules = t
	}
	scorer := scoring.NewScorer(scoring.WithRuleTable(rules))

	ext, err := buildAssessor(ctx, cfg, logger, metrics, &cleanup)
	if err != nil {
		return fail(err)
	}

	sc := cfg.Scoring()
	service := scoring.NewService(scorer, logger,
		scoring.WithAssessor(ext),
		scoring.WithWeights(scoring.Weights{Alpha: sc.Alpha, Beta: sc.Beta, Gamma: sc.Gamma}),
		scoring.WithWorkers(sc.Workers),
		scoring.WithMetrics(metrics),
	)

	gate, err := policy.NewGateFromConfig(cfg.Policy(), logger)
	if err != nil {
		return fail(err)
	}

	opts := []results.Option{
		results.WithToolVersion(Version),
		results.WithMetrics(metrics),
	}

	// -- Provenance --
	if g := cfg.Git(); g.Enabled {
		enricher, err := provenance.NewBlameEnricher(g.Root, logger)
		if err != nil {
			// A report can be ranked without blame data.
			logger.Warn("Git provenance disabled.", zap.String("root", g.Root), zap.Error(err))
		} else {
			opts = append(opts, results.WithEnricher(enricher))
		}
	}

	// -- Outputs --
	rc := cfg.Report()
	for _, out := range []results.Output{
		{Format: reporting.FormatMarkdown, Path: rc.Markdown},
		{Format: reporting.FormatJSON, Path: rc.JSON},
		{Format: reporting.FormatSARIF, Path: rc.SARIF},
	} {
		if out.Path != "" {
			opts = append(opts, results.WithOutputs(out))
		}
	}

	// -- History --
	if url := cfg.Database().URL; url != "" {
		s, closeStore, err := connectStore(ctx, url, logger)
		if err != nil {
			return fail(err)
		}
		cleanup.push(closeStore)
		if err := s.EnsureSchema(ctx); err != nil {
			return fail(err)
		}
		opts = append(opts, results.WithStore(s))
	}

	// -- Publishing --
	if gh := cfg.GitHub(); gh.Enabled() {
		pub, err := publish.NewCommentPublisher(gh, logger)
		if err != nil {
			return fail(err)
		}
		opts = append(opts, results.WithPublisher(pub))
	}

	return results.NewPipeline(scoring.NewEngine(service), gate, logger, opts...), cleanup.run, nil
}

// buildAssessor creates the external assessor. Live mode also opens the LLM
// client and, when configured, the Redis cache.
func buildAssessor(ctx context.Context, cfg config.Interface, logger *zap.Logger, metrics *observability.Metrics, cleanup *cleanupStack) (assessor.Assessor, error) {
	opts := []assessor.Option{assessor.WithMetrics(metrics)}
	var client schemas.LLMClient

	if cfg.Assessor().Mode == config.AssessorLive {
		c, err := llmclient.NewClient(ctx, cfg.LLM(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		client = c
		cleanup.push(func() { _ = c.Close() })

		if url := cfg.Cache().RedisURL; url != "" {
			rdb, err := assessor.OpenRedis(ctx, url)
			if err != nil {
				return nil, err
			}
			cleanup.push(func() { _ = rdb.Close() })
			opts = append(opts, assessor.WithCache(rdb, cfg.Cache().TTL))
		}
	}

	return assessor.New(cfg, client, logger, opts...)
}

// connectStore opens the database pool and the run store on top of it.
func connectStore(ctx context.Context, url string, logger *zap.Logger) (*store.Store, func(), error) {
	pool, err := store.Connect(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	s, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}, nil
}
