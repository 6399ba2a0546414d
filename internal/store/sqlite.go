package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/chatlift/funnel-cli/internal/funnel"
	"github.com/chatlift/funnel-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	trigger_kind TEXT NOT NULL DEFAULT 'cli',
	config_digest TEXT,
	status       TEXT NOT NULL DEFAULT 'running',
	window_start DATETIME NOT NULL,
	window_end   DATETIME,
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at  DATETIME,
	companies    INTEGER NOT NULL DEFAULT 0,
	excluded     INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	diagnostics  TEXT
);

CREATE TABLE IF NOT EXISTS datasets (
	run_id     TEXT PRIMARY KEY REFERENCES runs(id),
	columns    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS combined_dataset (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	company_id INTEGER NOT NULL,
	cells      TEXT NOT NULL,
	PRIMARY KEY (run_id, company_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_finished_at ON runs(finished_at);
CREATE INDEX IF NOT EXISTS idx_combined_dataset_run ON combined_dataset(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	var windowEnd any
	if !run.WindowEnd.IsZero() {
		windowEnd = run.WindowEnd
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, trigger_kind, config_digest, status, window_start, window_end, started_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Trigger, run.ConfigDigest, string(run.Status), run.WindowStart, windowEnd, run.StartedAt,
	)
	return eris.Wrap(err, "sqlite: insert run")
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, run *model.Run) error {
	diagJSON, err := json.Marshal(run.Diagnostics)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal diagnostics")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, companies = ?, excluded = ?, diagnostics = ? WHERE id = ?`,
		string(model.RunStatusCompleted), run.FinishedAt, run.Companies, run.Excluded, string(diagJSON), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", run.ID)
	}
	return checkRowsAffected(res, "run", run.ID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, runErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, error = ? WHERE id = ?`,
		string(model.RunStatusFailed), time.Now().UTC(), runErr, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, trigger_kind, config_digest, status, window_start, window_end, started_at, finished_at, companies, excluded, error, diagnostics FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) LastCompleted(ctx context.Context) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, trigger_kind, config_digest, status, window_start, window_end, started_at, finished_at, companies, excluded, error, diagnostics FROM runs
		 WHERE status = 'completed' ORDER BY finished_at DESC LIMIT 1`,
	)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: last completed run")
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, trigger_kind, config_digest, status, window_start, window_end, started_at, finished_at, companies, excluded, error, diagnostics FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, filter.Since)
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveDataset(ctx context.Context, runID string, ds *funnel.Dataset) error {
	colsJSON, err := json.Marshal(ds.Columns)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal columns")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO datasets (run_id, columns, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (run_id) DO UPDATE SET columns = excluded.columns, created_at = excluded.created_at`,
		runID, string(colsJSON), time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert dataset header %s", runID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO combined_dataset (run_id, company_id, cells) VALUES (?, ?, ?)
		 ON CONFLICT (run_id, company_id) DO UPDATE SET cells = excluded.cells`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare dataset insert")
	}
	defer stmt.Close()

	for _, row := range ds.Rows {
		id, err := model.ParseCompanyID(row[0])
		if err != nil {
			return eris.Wrap(err, "sqlite: dataset row company id")
		}
		cellsJSON, err := json.Marshal(row)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal cells")
		}
		if _, err := stmt.ExecContext(ctx, runID, int64(id), string(cellsJSON)); err != nil {
			return eris.Wrapf(err, "sqlite: insert dataset row %s", row[0])
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit dataset")
}

func (s *SQLiteStore) LatestDataset(ctx context.Context) (string, *funnel.Dataset, error) {
	var runID string
	var colsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT d.run_id, d.columns FROM datasets d
		 JOIN runs r ON r.id = d.run_id
		 WHERE r.status = 'completed'
		 ORDER BY r.finished_at DESC LIMIT 1`,
	).Scan(&runID, &colsJSON)
	if err == sql.ErrNoRows {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, eris.Wrap(err, "sqlite: latest dataset header")
	}

	ds := &funnel.Dataset{}
	if err := json.Unmarshal([]byte(colsJSON), &ds.Columns); err != nil {
		return "", nil, eris.Wrap(err, "sqlite: unmarshal columns")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT cells FROM combined_dataset WHERE run_id = ? ORDER BY company_id`,
		runID,
	)
	if err != nil {
		return "", nil, eris.Wrapf(err, "sqlite: latest dataset rows %s", runID)
	}
	defer rows.Close()

	for rows.Next() {
		var cellsJSON string
		if err := rows.Scan(&cellsJSON); err != nil {
			return "", nil, eris.Wrap(err, "sqlite: scan dataset row")
		}
		var cells []string
		if err := json.Unmarshal([]byte(cellsJSON), &cells); err != nil {
			return "", nil, eris.Wrap(err, "sqlite: unmarshal cells")
		}
		ds.Rows = append(ds.Rows, cells)
	}
	return runID, ds, eris.Wrap(rows.Err(), "sqlite: latest dataset iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var status string
	var digest sql.NullString
	var windowEnd, finishedAt sql.NullTime
	var runErr, diagJSON sql.NullString

	err := row.Scan(&r.ID, &r.Trigger, &digest, &status, &r.WindowStart, &windowEnd,
		&r.StartedAt, &finishedAt, &r.Companies, &r.Excluded, &runErr, &diagJSON)
	if err != nil {
		return nil, err
	}

	r.Status = model.RunStatus(status)
	if digest.Valid {
		r.ConfigDigest = digest.String
	}
	if windowEnd.Valid {
		r.WindowEnd = windowEnd.Time
	}
	if finishedAt.Valid {
		r.FinishedAt = finishedAt.Time
	}
	if runErr.Valid {
		r.Error = runErr.String
	}
	if diagJSON.Valid && diagJSON.String != "" && diagJSON.String != "null" {
		r.Diagnostics = &model.Diagnostics{}
		if err := json.Unmarshal([]byte(diagJSON.String), r.Diagnostics); err != nil {
			return nil, eris.Wrap(err, "unmarshal diagnostics")
		}
	}
	return &r, nil
}
