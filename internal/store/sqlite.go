package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/brandscan/internal/model"
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
	id         TEXT PRIMARY KEY,
	config     TEXT NOT NULL,
	status     TEXT NOT NULL,
	stage      TEXT NOT NULL,
	report     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_results (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL REFERENCES runs(id),
	content_hash TEXT NOT NULL,
	record       TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_results_run_id ON run_results(run_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_run_results_hash ON run_results(run_id, content_hash);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, id string, cfg model.DiagnosisConfig) (*model.Run, error) {
	now := time.Now().UTC()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal config")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, config, status, stage, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(cfgJSON), string(model.RunStatusInitializing), model.StageInitializing, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Config:    cfg,
		Status:    model.RunStatusInitializing,
		Stage:     model.StageInitializing,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunState(ctx context.Context, runID string, status model.RunStatus, stage string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, stage = ?, updated_at = ? WHERE id = ?`,
		string(status), stage, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run state %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) AppendResult(ctx context.Context, runID string, contentHash string, record model.ResultRecord) error {
	recJSON, err := json.Marshal(record)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal record")
	}

	// INSERT OR IGNORE plus the unique (run_id, content_hash) index makes
	// replayed appends no-ops.
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO run_results (id, run_id, content_hash, record, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), runID, contentHash, string(recJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: append result for run %s", runID)
}

func (s *SQLiteStore) FinalizeRun(ctx context.Context, runID string, status model.RunStatus, report *model.RunReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, stage = ?, report = ?, updated_at = ? WHERE id = ?`,
		string(status), model.StageFinalized, string(reportJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finalize run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, config, status, stage, report, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) GetResults(ctx context.Context, runID string) ([]model.ResultRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM run_results WHERE run_id = ? ORDER BY created_at, id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get results for run %s", runID)
	}
	defer rows.Close()

	var records []model.ResultRecord
	for rows.Next() {
		var recJSON string
		if err := rows.Scan(&recJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		var rec model.ResultRecord
		if err := json.Unmarshal([]byte(recJSON), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal record")
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: iterate results")
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, config, status, stage, report, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Brand != "" {
		query += ` AND json_extract(config, '$.brand') = ?`
		args = append(args, filter.Brand)
	}
	query += ` ORDER BY created_at DESC`

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
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrRunNotFound, "%s", runID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var cfgJSON string
	var reportJSON sql.NullString

	err := row.Scan(&r.ID, &cfgJSON, &r.Status, &r.Stage, &reportJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(cfgJSON), &r.Config); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal config")
	}
	if reportJSON.Valid {
		r.Report = &model.RunReport{}
		if err := json.Unmarshal([]byte(reportJSON.String), r.Report); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal report")
		}
	}
	return &r, nil
}
