package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/brandscan/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()

	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testConfig() model.DiagnosisConfig {
	return model.DiagnosisConfig{
		Brand:       "Acme",
		Competitors: []string{"Globex"},
		Questions:   []model.Question{{ID: "q1", Text: "Which CRM is best?"}},
		Families:    []string{"openai"},
	}
}

func TestSQLiteRunLifecycle(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "run-1", testConfig())
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusInitializing, run.Status)
	assert.Equal(t, model.StageInitializing, run.Stage)

	require.NoError(t, st.UpdateRunState(ctx, "run-1", model.RunStatusRunning, model.StageDispatching))

	got, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, got.Status)
	assert.Equal(t, model.StageDispatching, got.Stage)
	assert.Equal(t, "Acme", got.Config.Brand)
	assert.Nil(t, got.Report)

	report := &model.RunReport{TotalTasks: 1, CompletedTasks: 1, SucceededTasks: 1}
	require.NoError(t, st.FinalizeRun(ctx, "run-1", model.RunStatusCompleted, report))

	got, err = st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	assert.Equal(t, model.StageFinalized, got.Stage)
	require.NotNil(t, got.Report)
	assert.Equal(t, 1, got.Report.SucceededTasks)
}

func TestSQLiteRunNotFound(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	_, err := st.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	err = st.UpdateRunState(ctx, "missing", model.RunStatusRunning, model.StageDispatching)
	assert.ErrorIs(t, err, ErrRunNotFound)

	err = st.FinalizeRun(ctx, "missing", model.RunStatusFailed, &model.RunReport{})
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestSQLiteAppendResultIdempotent(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	_, err := st.CreateRun(ctx, "run-1", testConfig())
	require.NoError(t, err)

	rec := model.ResultRecord{Brand: "Acme", Question: "q", ProviderID: "openai", Text: "Acme wins."}

	// Replayed appends with the same content hash are no-ops.
	require.NoError(t, st.AppendResult(ctx, "run-1", "hash-1", rec))
	require.NoError(t, st.AppendResult(ctx, "run-1", "hash-1", rec))
	require.NoError(t, st.AppendResult(ctx, "run-1", "hash-2", rec))

	records, err := st.GetResults(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, "Acme wins.", records[0].Text)
}

func TestSQLiteListRunsFilter(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	cfgA := testConfig()
	cfgB := testConfig()
	cfgB.Brand = "Globex"

	_, err := st.CreateRun(ctx, "run-a", cfgA)
	require.NoError(t, err)
	_, err = st.CreateRun(ctx, "run-b", cfgB)
	require.NoError(t, err)
	require.NoError(t, st.UpdateRunState(ctx, "run-b", model.RunStatusRunning, model.StageDispatching))

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	running, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "run-b", running[0].ID)

	byBrand, err := st.ListRuns(ctx, RunFilter{Brand: "Acme"})
	require.NoError(t, err)
	require.Len(t, byBrand, 1)
	assert.Equal(t, "run-a", byBrand[0].ID)

	limited, err := st.ListRuns(ctx, RunFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
