package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/chatlift/funnel-cli/internal/db"
	"github.com/chatlift/funnel-cli/internal/funnel"
	"github.com/chatlift/funnel-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":     `INSERT INTO funnel.runs (id, trigger_kind, config_digest, status, window_start, window_end, started_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"complete_run":   `UPDATE funnel.runs SET status = $1, finished_at = $2, companies = $3, excluded = $4, diagnostics = $5 WHERE id = $6`,
	"fail_run":       `UPDATE funnel.runs SET status = $1, finished_at = $2, error = $3 WHERE id = $4`,
	"get_run":        `SELECT id, trigger_kind, config_digest, status, window_start, window_end, started_at, finished_at, companies, excluded, error, diagnostics FROM funnel.runs WHERE id = $1`,
	"last_completed": `SELECT id, trigger_kind, config_digest, status, window_start, window_end, started_at, finished_at, companies, excluded, error, diagnostics FROM funnel.runs WHERE status = 'completed' ORDER BY finished_at DESC LIMIT 1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool, mainly for tests.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE SCHEMA IF NOT EXISTS funnel;

CREATE TABLE IF NOT EXISTS funnel.runs (
	id           TEXT PRIMARY KEY,
	trigger_kind TEXT NOT NULL DEFAULT 'cli',
	config_digest TEXT,
	status       TEXT NOT NULL DEFAULT 'running',
	window_start TIMESTAMPTZ NOT NULL,
	window_end   TIMESTAMPTZ,
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at  TIMESTAMPTZ,
	companies    INTEGER NOT NULL DEFAULT 0,
	excluded     BIGINT NOT NULL DEFAULT 0,
	error        TEXT,
	diagnostics  JSONB
);

CREATE TABLE IF NOT EXISTS funnel.datasets (
	run_id     TEXT PRIMARY KEY REFERENCES funnel.runs(id),
	columns    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS funnel.combined_dataset (
	run_id     TEXT NOT NULL REFERENCES funnel.runs(id),
	company_id BIGINT NOT NULL,
	cells      JSONB NOT NULL,
	PRIMARY KEY (run_id, company_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON funnel.runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_finished_at ON funnel.runs(finished_at DESC);
CREATE INDEX IF NOT EXISTS idx_combined_dataset_run ON funnel.combined_dataset(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) error {
	var windowEnd *time.Time
	if !run.WindowEnd.IsZero() {
		windowEnd = &run.WindowEnd
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO funnel.runs (id, trigger_kind, config_digest, status, window_start, window_end, started_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.Trigger, run.ConfigDigest, string(run.Status), run.WindowStart, windowEnd, run.StartedAt,
	)
	return eris.Wrap(err, "postgres: insert run")
}

func (s *PostgresStore) CompleteRun(ctx context.Context, run *model.Run) error {
	diagJSON, err := json.Marshal(run.Diagnostics)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal diagnostics")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE funnel.runs SET status = $1, finished_at = $2, companies = $3, excluded = $4, diagnostics = $5 WHERE id = $6`,
		string(model.RunStatusCompleted), run.FinishedAt, run.Companies, run.Excluded, diagJSON, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, runErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE funnel.runs SET status = $1, finished_at = $2, error = $3 WHERE id = $4`,
		string(model.RunStatusFailed), time.Now().UTC(), runErr, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, trigger_kind, config_digest, status, window_start, window_end, started_at, finished_at, companies, excluded, error, diagnostics FROM funnel.runs WHERE id = $1`,
		runID,
	)
	r, err := scanPostgresRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) LastCompleted(ctx context.Context) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, trigger_kind, config_digest, status, window_start, window_end, started_at, finished_at, companies, excluded, error, diagnostics FROM funnel.runs WHERE status = 'completed' ORDER BY finished_at DESC LIMIT 1`,
	)
	r, err := scanPostgresRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: last completed run")
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, trigger_kind, config_digest, status, window_start, window_end, started_at, finished_at, companies, excluded, error, diagnostics FROM funnel.runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND started_at >= $%d`, argIdx)
		args = append(args, filter.Since)
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// SaveDataset records the column header and bulk-loads the rendered rows
// via COPY into a temp table. Re-saving a run's dataset replaces it.
func (s *PostgresStore) SaveDataset(ctx context.Context, runID string, ds *funnel.Dataset) error {
	colsJSON, err := json.Marshal(ds.Columns)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal columns")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO funnel.datasets (run_id, columns, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (run_id) DO UPDATE SET columns = $2, created_at = $3`,
		runID, colsJSON, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert dataset header %s", runID)
	}

	rows := make([][]any, 0, len(ds.Rows))
	for _, row := range ds.Rows {
		id, err := model.ParseCompanyID(row[0])
		if err != nil {
			return eris.Wrap(err, "postgres: dataset row company id")
		}
		cellsJSON, err := json.Marshal(row)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal cells")
		}
		rows = append(rows, []any{runID, int64(id), cellsJSON})
	}

	_, err = db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "funnel.combined_dataset",
		Columns:      []string{"run_id", "company_id", "cells"},
		ConflictKeys: []string{"run_id", "company_id"},
	}, rows)
	return eris.Wrapf(err, "postgres: bulk upsert dataset %s", runID)
}

// LatestDataset reloads the most recently completed run's dataset. Rows
// come back ordered by company id, matching the order they were written.
func (s *PostgresStore) LatestDataset(ctx context.Context) (string, *funnel.Dataset, error) {
	var runID string
	var colsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT d.run_id, d.columns FROM funnel.datasets d
		 JOIN funnel.runs r ON r.id = d.run_id
		 WHERE r.status = 'completed'
		 ORDER BY r.finished_at DESC LIMIT 1`,
	).Scan(&runID, &colsJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil, nil
		}
		return "", nil, eris.Wrap(err, "postgres: latest dataset header")
	}

	ds := &funnel.Dataset{}
	if err := json.Unmarshal(colsJSON, &ds.Columns); err != nil {
		return "", nil, eris.Wrap(err, "postgres: unmarshal columns")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT cells FROM funnel.combined_dataset WHERE run_id = $1 ORDER BY company_id`,
		runID,
	)
	if err != nil {
		return "", nil, eris.Wrapf(err, "postgres: latest dataset rows %s", runID)
	}
	defer rows.Close()

	for rows.Next() {
		var cellsJSON []byte
		if err := rows.Scan(&cellsJSON); err != nil {
			return "", nil, eris.Wrap(err, "postgres: scan dataset row")
		}
		var cells []string
		if err := json.Unmarshal(cellsJSON, &cells); err != nil {
			return "", nil, eris.Wrap(err, "postgres: unmarshal cells")
		}
		ds.Rows = append(ds.Rows, cells)
	}
	return runID, ds, eris.Wrap(rows.Err(), "postgres: latest dataset iterate")
}

// pgxScannable covers pgx.Row and pgx.Rows.
type pgxScannable interface {
	Scan(dest ...any) error
}

func scanPostgresRun(row pgxScannable) (*model.Run, error) {
	var r model.Run
	var status string
	var digest *string
	var windowEnd, finishedAt *time.Time
	var runErr *string
	var diagJSON []byte

	err := row.Scan(&r.ID, &r.Trigger, &digest, &status, &r.WindowStart, &windowEnd,
		&r.StartedAt, &finishedAt, &r.Companies, &r.Excluded, &runErr, &diagJSON)
	if err != nil {
		return nil, err
	}

	r.Status = model.RunStatus(status)
	if digest != nil {
		r.ConfigDigest = *digest
	}

	if windowEnd != nil {
		r.WindowEnd = *windowEnd
	}
	if finishedAt != nil {
		r.FinishedAt = *finishedAt
	}
	if runErr != nil {
		r.Error = *runErr
	}
	if len(diagJSON) > 0 {
		r.Diagnostics = &model.Diagnostics{}
		if err := json.Unmarshal(diagJSON, r.Diagnostics); err != nil {
			return nil, eris.Wrap(err, "unmarshal diagnostics")
		}
	}
	return &r, nil
}
