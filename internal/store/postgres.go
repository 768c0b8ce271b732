package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/brandscan/internal/model"
)

// pgRunner is the subset of pgxpool.Pool the store uses; pgxmock satisfies
// it in tests.
type pgRunner interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	runner pgRunner
}

// NewPostgres connects a pool from the given URL.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, runner: pool}, nil
}

// NewPostgresWithRunner wires an explicit query runner; tests use this with
// pgxmock.
func NewPostgresWithRunner(runner pgRunner) *PostgresStore {
	return &PostgresStore{runner: runner}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	config     JSONB NOT NULL,
	status     TEXT NOT NULL,
	stage      TEXT NOT NULL,
	report     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_results (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL REFERENCES runs(id),
	content_hash TEXT NOT NULL,
	record       JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_results_run_id ON run_results(run_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_run_results_hash ON run_results(run_id, content_hash);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.runner.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, id string, cfg model.DiagnosisConfig) (*model.Run, error) {
	now := time.Now().UTC()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal config")
	}

	_, err = s.runner.Exec(ctx,
		`INSERT INTO runs (id, config, status, stage, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, cfgJSON, string(model.RunStatusInitializing), model.StageInitializing, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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

func (s *PostgresStore) UpdateRunState(ctx context.Context, runID string, status model.RunStatus, stage string) error {
	tag, err := s.runner.Exec(ctx,
		`UPDATE runs SET status = $1, stage = $2, updated_at = $3 WHERE id = $4`,
		string(status), stage, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run state %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "%s", runID)
	}
	return nil
}

func (s *PostgresStore) AppendResult(ctx context.Context, runID string, contentHash string, record model.ResultRecord) error {
	recJSON, err := json.Marshal(record)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal record")
	}

	_, err = s.runner.Exec(ctx,
		`INSERT INTO run_results (id, run_id, content_hash, record, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (run_id, content_hash) DO NOTHING`,
		uuid.New().String(), runID, contentHash, recJSON, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: append result for run %s", runID)
}

func (s *PostgresStore) FinalizeRun(ctx context.Context, runID string, status model.RunStatus, report *model.RunReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}

	tag, err := s.runner.Exec(ctx,
		`UPDATE runs SET status = $1, stage = $2, report = $3, updated_at = $4 WHERE id = $5`,
		string(status), model.StageFinalized, reportJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finalize run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "%s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.runner.QueryRow(ctx,
		`SELECT id, config, status, stage, report, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	return scanPgRun(row)
}

func (s *PostgresStore) GetResults(ctx context.Context, runID string) ([]model.ResultRecord, error) {
	rows, err := s.runner.Query(ctx,
		`SELECT record FROM run_results WHERE run_id = $1 ORDER BY created_at, id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get results for run %s", runID)
	}
	defer rows.Close()

	var records []model.ResultRecord
	for rows.Next() {
		var recJSON []byte
		if err := rows.Scan(&recJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		var rec model.ResultRecord
		if err := json.Unmarshal(recJSON, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal record")
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: iterate results")
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, config, status, stage, report, created_at, updated_at FROM runs WHERE 1=1`
	var args []any
	n := 0

	next := func(v any) string {
		n++
		args = append(args, v)
		return "$" + strconv.Itoa(n)
	}

	if filter.Status != "" {
		query += ` AND status = ` + next(string(filter.Status))
	}
	if filter.Brand != "" {
		query += ` AND config->>'brand' = ` + next(filter.Brand)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + next(limit)

	if filter.Offset > 0 {
		query += ` OFFSET ` + next(filter.Offset)
	}

	rows, err := s.runner.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var cfgJSON []byte
	var reportJSON []byte

	err := row.Scan(&r.ID, &cfgJSON, &r.Status, &r.Stage, &reportJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}

	if err := json.Unmarshal(cfgJSON, &r.Config); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal config")
	}
	if len(reportJSON) > 0 {
		r.Report = &model.RunReport{}
		if err := json.Unmarshal(reportJSON, r.Report); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal report")
		}
	}
	return &r, nil
}
