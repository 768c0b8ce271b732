package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/brandscan/internal/model"
)

func newMockPostgres(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	return NewPostgresWithRunner(mock), mock
}

func TestPostgresCreateRun(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs("run-1", pgxmock.AnyArg(), "initializing", model.StageInitializing, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := st.CreateRun(context.Background(), "run-1", testConfig())
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusInitializing, run.Status)
	assert.Equal(t, "Acme", run.Config.Brand)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetRunNotFound(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT id, config, status, stage, report, created_at, updated_at FROM runs`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := st.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetRun(t *testing.T) {
	st, mock := newMockPostgres(t)

	cfgJSON, err := json.Marshal(testConfig())
	require.NoError(t, err)
	reportJSON, err := json.Marshal(&model.RunReport{TotalTasks: 1, SucceededTasks: 1})
	require.NoError(t, err)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, config, status, stage, report, created_at, updated_at FROM runs`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "config", "status", "stage", "report", "created_at", "updated_at"}).
			AddRow("run-1", cfgJSON, "completed", model.StageFinalized, reportJSON, now, now))

	run, err := st.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, "Acme", run.Config.Brand)
	require.NotNil(t, run.Report)
	assert.Equal(t, 1, run.Report.SucceededTasks)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateRunState(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("running", model.StageDispatching, pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := st.UpdateRunState(context.Background(), "run-1", model.RunStatusRunning, model.StageDispatching)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateRunStateNotFound(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("running", model.StageDispatching, pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.UpdateRunState(context.Background(), "missing", model.RunStatusRunning, model.StageDispatching)
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendResultConflictIsNoop(t *testing.T) {
	st, mock := newMockPostgres(t)
	rec := model.ResultRecord{Brand: "Acme", ProviderID: "openai", Text: "Acme wins."}

	mock.ExpectExec(`ON CONFLICT \(run_id, content_hash\) DO NOTHING`).
		WithArgs(pgxmock.AnyArg(), "run-1", "hash-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`ON CONFLICT \(run_id, content_hash\) DO NOTHING`).
		WithArgs(pgxmock.AnyArg(), "run-1", "hash-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, st.AppendResult(context.Background(), "run-1", "hash-1", rec))
	require.NoError(t, st.AppendResult(context.Background(), "run-1", "hash-1", rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFinalizeRun(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectExec(`UPDATE runs SET status .+ report`).
		WithArgs("completed", model.StageFinalized, pgxmock.AnyArg(), pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := st.FinalizeRun(context.Background(), "run-1", model.RunStatusCompleted, &model.RunReport{TotalTasks: 2})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetResults(t *testing.T) {
	st, mock := newMockPostgres(t)

	recJSON, err := json.Marshal(model.ResultRecord{Brand: "Acme", Text: "Acme leads."})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT record FROM run_results`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"record"}).AddRow(recJSON))

	records, err := st.GetResults(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Acme leads.", records[0].Text)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListRunsFilters(t *testing.T) {
	st, mock := newMockPostgres(t)

	cfgJSON, err := json.Marshal(testConfig())
	require.NoError(t, err)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM runs WHERE 1=1 AND status = \$1 AND config->>'brand' = \$2 ORDER BY created_at DESC LIMIT \$3`).
		WithArgs("running", "Acme", 5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "config", "status", "stage", "report", "created_at", "updated_at"}).
			AddRow("run-1", cfgJSON, "running", model.StageDispatching, []byte(nil), now, now))

	runs, err := st.ListRuns(context.Background(), RunFilter{
		Status: model.RunStatusRunning,
		Brand:  "Acme",
		Limit:  5,
	})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Nil(t, runs[0].Report)
	assert.NoError(t, mock.ExpectationsWereMet())
}
