package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/brandscan/internal/model"
	"github.com/sells-group/brandscan/internal/monitoring"
	"github.com/sells-group/brandscan/internal/provider"
	"github.com/sells-group/brandscan/internal/resilience"
	"github.com/sells-group/brandscan/internal/store"
)

// memStore is an in-memory Store for engine tests.
type memStore struct {
	mu      sync.Mutex
	runs    map[string]*model.Run
	results map[string]map[string]model.ResultRecord
}

func newMemStore() *memStore {
	return &memStore{
		runs:    make(map[string]*model.Run),
		results: make(map[string]map[string]model.ResultRecord),
	}
}

func (m *memStore) CreateRun(_ context.Context, id string, cfg model.DiagnosisConfig) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	run := &model.Run{ID: id, Config: cfg, Status: model.RunStatusInitializing, Stage: model.StageInitializing, CreatedAt: now, UpdatedAt: now}
	m.runs[id] = run
	m.results[id] = make(map[string]model.ResultRecord)
	return run, nil
}

func (m *memStore) UpdateRunState(_ context.Context, runID string, status model.RunStatus, stage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return store.ErrRunNotFound
	}
	run.Status = status
	run.Stage = stage
	run.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memStore) AppendResult(_ context.Context, runID string, contentHash string, record model.ResultRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.results[runID][contentHash]; ok {
		return nil
	}
	m.results[runID][contentHash] = record
	return nil
}

func (m *memStore) FinalizeRun(_ context.Context, runID string, status model.RunStatus, report *model.RunReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return store.ErrRunNotFound
	}
	run.Status = status
	run.Stage = model.StageFinalized
	run.Report = report
	run.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memStore) GetRun(_ context.Context, runID string) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, store.ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (m *memStore) GetResults(_ context.Context, runID string) ([]model.ResultRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ResultRecord
	for _, rec := range m.results[runID] {
		out = append(out, rec)
	}
	return out, nil
}

func (m *memStore) ListRuns(_ context.Context, _ store.RunFilter) ([]model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Run
	for _, r := range m.runs {
		out = append(out, *r)
	}
	return out, nil
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Close() error                  { return nil }

// fixedAdapter always returns the same response.
type fixedAdapter struct {
	id   string
	mu   sync.Mutex
	n    int
	resp func(req model.GenerationRequest) model.GenerationResponse
}

func (a *fixedAdapter) ID() string { return a.id }

func (a *fixedAdapter) Generate(_ context.Context, req model.GenerationRequest) model.GenerationResponse {
	a.mu.Lock()
	a.n++
	a.mu.Unlock()
	return a.resp(req)
}

func (a *fixedAdapter) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.n
}

func succeedsWith(content string) func(model.GenerationRequest) model.GenerationResponse {
	return func(req model.GenerationRequest) model.GenerationResponse {
		return model.GenerationResponse{Content: content + " " + req.Prompt, LatencyMs: 3, Usage: model.TokenUsage{InputTokens: 10, OutputTokens: 20}}
	}
}

func failsWith(kind model.ErrorKind) func(model.GenerationRequest) model.GenerationResponse {
	return func(model.GenerationRequest) model.GenerationResponse {
		return model.ErrorResponse(kind, string(kind))
	}
}

func newTestEngine(t *testing.T, st store.Store, families map[string][]string, adapters ...*fixedAdapter) *Engine {
	t.Helper()

	reg := provider.NewRegistry()
	for _, a := range adapters {
		reg.Register(a)
	}
	breakers := resilience.NewProviderBreakers(resilience.CircuitBreakerConfig{FailureThreshold: 100})
	ctrl := resilience.NewController(reg, breakers, resilience.RetryConfig{
		MaxRetries:     0,
		InitialBackoff: time.Millisecond,
	})
	collector := monitoring.NewCollector(breakers)

	return New(st, ctrl, collector, Config{
		Families:    families,
		Concurrency: 2,
		TaskTimeout: time.Second,
		RunTimeout:  5 * time.Second,
	})
}

func waitTerminal(t *testing.T, eng *Engine, runID string) model.RunSnapshot {
	t.Helper()
	var snap model.RunSnapshot
	require.Eventually(t, func() bool {
		var err error
		snap, err = eng.GetStatus(context.Background(), runID)
		require.NoError(t, err)
		return snap.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return snap
}

func twoQuestionConfig(families ...string) model.DiagnosisConfig {
	return model.DiagnosisConfig{
		Brand:       "Acme",
		Competitors: []string{"Globex"},
		Questions: []model.Question{
			{ID: "q1", Text: "Which CRM do you recommend for startups?"},
			{ID: "q2", Text: "Who leads the CRM market today?"},
		},
		Families: families,
	}
}

func TestStartRunValidation(t *testing.T) {
	eng := newTestEngine(t, newMemStore(), map[string][]string{"fa": {"a"}})

	_, err := eng.StartRun(context.Background(), model.DiagnosisConfig{})
	assert.Error(t, err)

	cfg := twoQuestionConfig("unknown")
	_, err = eng.StartRun(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown model family")
}

func TestRunCompletes(t *testing.T) {
	a := &fixedAdapter{id: "a", resp: succeedsWith("Acme is great and beats Globex.")}
	st := newMemStore()
	eng := newTestEngine(t, st, map[string][]string{"fa": {"a"}}, a)

	runID, err := eng.StartRun(context.Background(), twoQuestionConfig("fa"))
	require.NoError(t, err)

	snap := waitTerminal(t, eng, runID)
	assert.Equal(t, model.RunStatusCompleted, snap.Status)
	assert.Equal(t, model.StageFinalized, snap.Stage)
	assert.Equal(t, 2, snap.CompletedTasks)
	assert.Equal(t, 2, a.calls())

	report, err := eng.GetReport(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, 2, report.SucceededTasks)
	assert.Zero(t, report.FailedTasks)
	assert.Equal(t, int64(20), report.Usage.InputTokens)
	require.NotNil(t, report.Exposure)
	require.NotNil(t, report.Gap)
	assert.Equal(t, "Acme", report.Gap.MainBrand)
	assert.Len(t, report.Cleaned, 2)
}

func TestRunPartialSuccess(t *testing.T) {
	// Two questions across two families: family fa succeeds on both tasks,
	// family fb times out on both with no fallback.
	a := &fixedAdapter{id: "a", resp: succeedsWith("Acme leads this market segment clearly.")}
	b := &fixedAdapter{id: "b", resp: failsWith(model.ErrKindTimeout)}
	st := newMemStore()
	eng := newTestEngine(t, st, map[string][]string{"fa": {"a"}, "fb": {"b"}}, a, b)

	runID, err := eng.StartRun(context.Background(), twoQuestionConfig("fa", "fb"))
	require.NoError(t, err)

	snap := waitTerminal(t, eng, runID)
	assert.Equal(t, model.RunStatusPartialSuccess, snap.Status)
	assert.Equal(t, 4, snap.CompletedTasks)

	var succeeded, failed int
	for _, rec := range snap.Results {
		if rec.Failed {
			failed++
			assert.Equal(t, "b", rec.ProviderID)
		} else {
			succeeded++
			assert.Equal(t, "a", rec.ProviderID)
		}
	}
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 2, failed)

	report, err := eng.GetReport(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, 2, report.SucceededTasks)
	assert.Equal(t, 2, report.FailedTasks)
	require.NotNil(t, report.Exposure, "successful records still aggregate")
}

func TestRunAllFailuresIsFailed(t *testing.T) {
	b := &fixedAdapter{id: "b", resp: failsWith(model.ErrKindInvalidResponse)}
	st := newMemStore()
	eng := newTestEngine(t, st, map[string][]string{"fb": {"b"}}, b)

	runID, err := eng.StartRun(context.Background(), twoQuestionConfig("fb"))
	require.NoError(t, err)

	snap := waitTerminal(t, eng, runID)
	assert.Equal(t, model.RunStatusFailed, snap.Status)

	report, err := eng.GetReport(context.Background(), runID)
	require.NoError(t, err)
	assert.Zero(t, report.SucceededTasks)
	assert.Equal(t, 2, report.FailedTasks)
	assert.True(t, report.InsufficientData)
	assert.Nil(t, report.Exposure)
}

func TestRunObservesFailedOverProviders(t *testing.T) {
	// Provider a exhausts its quota and the task fails over to b. The
	// report's provider stats must still carry a's quota failure, or
	// alerting would never see it.
	a := &fixedAdapter{id: "a", resp: failsWith(model.ErrKindQuotaExhausted)}
	b := &fixedAdapter{id: "b", resp: succeedsWith("Acme carries the fallback traffic.")}
	st := newMemStore()
	eng := newTestEngine(t, st, map[string][]string{"fa": {"a", "b"}}, a, b)

	cfg := model.DiagnosisConfig{
		Brand:       "Acme",
		Competitors: []string{"Globex"},
		Questions:   []model.Question{{ID: "q1", Text: "Which CRM do you recommend for startups?"}},
		Families:    []string{"fa"},
	}
	runID, err := eng.StartRun(context.Background(), cfg)
	require.NoError(t, err)

	snap := waitTerminal(t, eng, runID)
	assert.Equal(t, model.RunStatusCompleted, snap.Status)

	report, err := eng.GetReport(context.Background(), runID)
	require.NoError(t, err)

	require.Contains(t, report.Providers, "a")
	assert.Equal(t, 1, report.Providers["a"].Calls)
	assert.Equal(t, 1, report.Providers["a"].Failures["quota_exhausted"])

	require.Contains(t, report.Providers, "b")
	assert.Equal(t, 1, report.Providers["b"].Calls)
	assert.Equal(t, 1, report.Providers["b"].Successes)
}

func TestRunWatchdogTimeout(t *testing.T) {
	fast := &fixedAdapter{id: "fast", resp: succeedsWith("Acme answers quickly with a clear pick.")}
	slow := &fixedAdapter{id: "slow", resp: func(req model.GenerationRequest) model.GenerationResponse {
		time.Sleep(600 * time.Millisecond)
		return model.GenerationResponse{Content: "late answer " + req.Prompt}
	}}

	st := newMemStore()
	reg := provider.NewRegistry()
	reg.Register(fast)
	reg.Register(slow)
	breakers := resilience.NewProviderBreakers(resilience.CircuitBreakerConfig{FailureThreshold: 100})
	ctrl := resilience.NewController(reg, breakers, resilience.RetryConfig{InitialBackoff: time.Millisecond})

	eng := New(st, ctrl, monitoring.NewCollector(breakers), Config{
		Families:    map[string][]string{"ff": {"fast"}, "fs": {"slow"}},
		Concurrency: 4,
		TaskTimeout: time.Second,
		RunTimeout:  150 * time.Millisecond,
	})

	runID, err := eng.StartRun(context.Background(), twoQuestionConfig("ff", "fs"))
	require.NoError(t, err)

	// The watchdog flips the run to TimedOut first; finalization then
	// settles it as PartialSuccess because the fast family's results landed.
	var snap model.RunSnapshot
	require.Eventually(t, func() bool {
		var err error
		snap, err = eng.GetStatus(context.Background(), runID)
		require.NoError(t, err)
		return snap.Status == model.RunStatusPartialSuccess
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 4, snap.TotalTasks)
	assert.Equal(t, 2, snap.CompletedTasks, "late results are dropped, not appended")
	for _, rec := range snap.Results {
		assert.Equal(t, "fast", rec.ProviderID)
	}

	run, err := st.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPartialSuccess, run.Status)
	require.NotNil(t, run.Report)
	assert.Equal(t, 2, run.Report.SucceededTasks)
	assert.Equal(t, 4, run.Report.TotalTasks)
}

func TestRunPersistedToStore(t *testing.T) {
	a := &fixedAdapter{id: "a", resp: succeedsWith("Acme again.")}
	st := newMemStore()
	eng := newTestEngine(t, st, map[string][]string{"fa": {"a"}}, a)

	runID, err := eng.StartRun(context.Background(), twoQuestionConfig("fa"))
	require.NoError(t, err)
	waitTerminal(t, eng, runID)

	run, err := st.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, model.StageFinalized, run.Stage)
	require.NotNil(t, run.Report)

	records, err := st.GetResults(context.Background(), runID)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestGetReportBeforeTerminal(t *testing.T) {
	st := newMemStore()
	eng := newTestEngine(t, st, map[string][]string{"fa": {"a"}})

	_, err := st.CreateRun(context.Background(), "pending", twoQuestionConfig("fa"))
	require.NoError(t, err)
	require.NoError(t, st.UpdateRunState(context.Background(), "pending", model.RunStatusRunning, model.StageDispatching))

	_, err = eng.GetReport(context.Background(), "pending")
	assert.ErrorContains(t, err, "has not finished")
}

func TestExpandTasks(t *testing.T) {
	cfg := twoQuestionConfig("fa", "fb")
	tasks := expandTasks(cfg)

	require.Len(t, tasks, 4)
	assert.Equal(t, cfg.TotalTasks(), len(tasks))
	assert.Equal(t, "q1", tasks[0].question.ID)
	assert.Equal(t, "fa", tasks[0].family)
	assert.Equal(t, "fb", tasks[1].family)
}
