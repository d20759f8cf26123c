// Package store keeps the history of ranked runs in PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sastrank/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS ranking_runs (
        run_id           TEXT PRIMARY KEY,
        generated_at     TIMESTAMPTZ NOT NULL,
        source           TEXT NOT NULL DEFAULT '',
        format           TEXT NOT NULL DEFAULT '',
        total            INTEGER NOT NULL,
        policy_violated  BOOLEAN NOT NULL,
        policy_threshold DOUBLE PRECISION NOT NULL,
        summary          JSONB NOT NULL,
        policy           JSONB NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS ranked_findings (
        run_id             TEXT NOT NULL REFERENCES ranking_runs(run_id) ON DELETE CASCADE,
        rank               INTEGER NOT NULL,
        finding_id         TEXT NOT NULL,
        finding            JSONB NOT NULL,
        heuristic_severity TEXT NOT NULL,
        vuln_class         TEXT NOT NULL DEFAULT '',
        base_score         DOUBLE PRECISION NOT NULL,
        normalized_score   DOUBLE PRECISION NOT NULL,
        ai_risk_score      DOUBLE PRECISION,
        ai_fp_probability  DOUBLE PRECISION,
        ai_severity        TEXT NOT NULL DEFAULT '',
        ai_rationale       TEXT,
        ai_source          TEXT NOT NULL DEFAULT '',
        final_score        DOUBLE PRECISION NOT NULL,
        final_severity     TEXT NOT NULL,
        basis              TEXT NOT NULL,
        PRIMARY KEY (run_id, rank)
    );`,
	`CREATE INDEX IF NOT EXISTS ranked_findings_finding_id_idx ON ranked_findings (finding_id);`,
}

const sqlInsertRun = `
        INSERT INTO ranking_runs (run_id, generated_at, source, format, total, policy_violated, policy_threshold, summary, policy)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
    `

const sqlSelectRun = `
        SELECT generated_at, source, format, summary, policy
        FROM ranking_runs
        WHERE run_id = $1;
    `

const sqlSelectRankedFindings = `
        SELECT rank, finding, heuristic_severity, vuln_class, base_score, normalized_score,
               ai_risk_score, ai_fp_probability, ai_severity, ai_rationale, ai_source,
               final_score, final_severity, basis
        FROM ranked_findings
        WHERE run_id = $1
        ORDER BY rank ASC;
    `

var rankedFindingColumns = []string{
	"run_id", "rank", "finding_id", "finding", "heuristic_severity", "vuln_class",
	"base_score", "normalized_score", "ai_risk_score", "ai_fp_probability",
	"ai_severity", "ai_rationale", "ai_source", "final_score", "final_severity", "basis",
}

// Store persists ranked runs.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// Connect opens a connection pool for url.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	return pool, nil
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// PersistRun stores the run header and every ranked finding in one transaction.
func (s *Store) PersistRun(ctx context.Context, report *schemas.RankedReport) error {
	summary, err := json.Marshal(report.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}
	policy, err := json.Marshal(report.Policy)
	if err != nil {
		return fmt.Errorf("failed to encode policy verdict: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, sqlInsertRun,
		report.RunID, report.GeneratedAt.UTC(), report.Source, report.Format, len(report.Findings),
		report.Policy.Violated, report.Policy.Threshold, summary, policy,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", report.RunID, err)
	}

	if len(report.Findings) > 0 {
		if err := s.persistFindings(ctx, tx, report.RunID, report.Findings); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Persisted ranked run", zap.String("run_id", report.RunID), zap.Int("findings", len(report.Findings)))
	return nil
}

func (s *Store) persistFindings(ctx context.Context, tx pgx.Tx, runID string, findings []schemas.PrioritizedFinding) error {
	rows := make([][]interface{}, len(findings))
	for i, pf := range findings {
		finding, err := json.Marshal(pf.Finding)
		if err != nil {
			return fmt.Errorf("failed to encode finding %s: %w", pf.Finding.ID, err)
		}
		rows[i] = []interface{}{
			runID, pf.Rank, pf.Finding.ID, finding,
			string(pf.HeuristicSeverity), pf.VulnClass, pf.BaseScore, pf.NormalizedScore,
			pf.AIRiskScore, pf.AIFPProbability, string(pf.AISeverity), pf.AIRationale, string(pf.AISource),
			pf.FinalScore, string(pf.FinalSeverity), string(pf.Basis),
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"ranked_findings"}, rankedFindingColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy ranked findings: %w", err)
	}
	if int(copyCount) != len(findings) {
		return fmt.Errorf("mismatch in copied findings count: expected %d, got %d", len(findings), copyCount)
	}
	return nil
}

// ErrRunNotFound is returned by GetRun for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// GetRun loads a stored run together with its findings.
func (s *Store) GetRun(ctx context.Context, runID string) (*schemas.RankedReport, error) {
	report := &schemas.RankedReport{RunID: runID}
	var summary, policy []byte

	err := s.pool.QueryRow(ctx, sqlSelectRun, runID).Scan(&report.GeneratedAt, &report.Source, &report.Format, &summary, &policy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", runID, err)
	}
	if err := json.Unmarshal(summary, &report.Summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary of run %s: %w", runID, err)
	}
	if err := json.Unmarshal(policy, &report.Policy); err != nil {
		return nil, fmt.Errorf("failed to decode policy of run %s: %w", runID, err)
	}

	report.Findings, err = s.GetRankedFindings(ctx, runID)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// GetRankedFindings returns the findings of a run in rank order.
func (s *Store) GetRankedFindings(ctx context.Context, runID string) ([]schemas.PrioritizedFinding, error) {
	rows, err := s.pool.Query(ctx, sqlSelectRankedFindings, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ranked findings: %w", err)
	}
	defer rows.Close()

	var findings []schemas.PrioritizedFinding
	for rows.Next() {
		var (
			pf                                             schemas.PrioritizedFinding
			rawFinding                                     []byte
			heuristicSev, aiSev, aiSource, finalSev, basis string
		)
		err := rows.Scan(
			&pf.Rank, &rawFinding, &heuristicSev, &pf.VulnClass, &pf.BaseScore, &pf.NormalizedScore,
			&pf.AIRiskScore, &pf.AIFPProbability, &aiSev, &pf.AIRationale, &aiSource,
			&pf.FinalScore, &finalSev, &basis,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ranked finding row: %w", err)
		}
		if err := json.Unmarshal(rawFinding, &pf.Finding); err != nil {
			return nil, fmt.Errorf("failed to decode stored finding at rank %d: %w", pf.Rank, err)
		}

		pf.HeuristicSeverity = schemas.Severity(heuristicSev)
		pf.AISeverity = schemas.Severity(aiSev)
		pf.AISource = schemas.AssessmentSource(aiSource)
		pf.FinalSeverity = schemas.Severity(finalSev)
		pf.Basis = schemas.ScoreBasis(basis)
		findings = append(findings, pf)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return findings, nil
}
