// Package engine schedules diagnosis runs: it expands the question×family
// matrix into tasks, dispatches them through the failover controller on a
// bounded worker pool, and drives each run through cleaning, aggregation,
// and persistence.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/brandscan/internal/cleaning"
	"github.com/sells-group/brandscan/internal/model"
	"github.com/sells-group/brandscan/internal/monitoring"
	"github.com/sells-group/brandscan/internal/resilience"
	"github.com/sells-group/brandscan/internal/stats"
	"github.com/sells-group/brandscan/internal/store"
)

// Config tunes run scheduling.
type Config struct {
	// Families maps each model family to its priority-ordered provider
	// candidates.
	Families map[string][]string

	// Concurrency is the dispatch pool width. Default 1: strictly serial,
	// the safe choice against rate-sensitive upstreams.
	Concurrency int

	// TaskTimeout bounds each provider call.
	TaskTimeout time.Duration

	// RunTimeout is the watchdog bound on run wall-clock time.
	RunTimeout time.Duration

	Cleaning cleaning.Options
	Stats    stats.Options
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 60 * time.Second
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 15 * time.Minute
	}
	return c
}

// Engine owns run lifecycles. One Engine instance is the exclusive writer
// of every RunState it creates.
type Engine struct {
	store     store.Store
	failover  *resilience.Controller
	collector *monitoring.Collector
	cfg       Config
	states    *stateRegistry
}

// New creates an engine. collector may be nil.
func New(st store.Store, failover *resilience.Controller, collector *monitoring.Collector, cfg Config) *Engine {
	return &Engine{
		store:     st,
		failover:  failover,
		collector: collector,
		cfg:       cfg.withDefaults(),
		states:    newStateRegistry(),
	}
}

// task is one cell of the question×family dispatch matrix.
type task struct {
	question model.Question
	family   string
}

func expandTasks(cfg model.DiagnosisConfig) []task {
	tasks := make([]task, 0, cfg.TotalTasks())
	for _, q := range cfg.Questions {
		for _, f := range cfg.Families {
			tasks = append(tasks, task{question: q, family: f})
		}
	}
	return tasks
}

// StartRun validates the config, persists the new run, and kicks off
// execution in the background. Returns the run ID immediately.
func (e *Engine) StartRun(ctx context.Context, cfg model.DiagnosisConfig) (string, error) {
	if cfg.Brand == "" {
		return "", eris.New("engine: brand is required")
	}
	if len(cfg.Questions) == 0 {
		return "", eris.New("engine: at least one question is required")
	}
	if len(cfg.Families) == 0 {
		return "", eris.New("engine: at least one model family is required")
	}
	for _, f := range cfg.Families {
		if len(e.cfg.Families[f]) == 0 {
			return "", eris.Errorf("engine: unknown model family %q", f)
		}
	}

	runID := uuid.New().String()
	if _, err := e.store.CreateRun(ctx, runID, cfg); err != nil {
		return "", eris.Wrap(err, "engine: create run")
	}

	state := newRunState(runID, cfg.TotalTasks())
	e.states.add(runID, state)

	// The run outlives the caller's request context.
	go e.execute(runID, state, cfg)

	zap.L().Info("run started",
		zap.String("run_id", runID),
		zap.String("brand", cfg.Brand),
		zap.Int("total_tasks", cfg.TotalTasks()),
	)
	return runID, nil
}

// GetStatus returns a read-only snapshot of the run. Runs started by
// another process are reconstructed from the store.
func (e *Engine) GetStatus(ctx context.Context, runID string) (model.RunSnapshot, error) {
	if state := e.states.get(runID); state != nil {
		return state.Snapshot(), nil
	}

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return model.RunSnapshot{}, err
	}
	snap := model.RunSnapshot{
		RunID:      run.ID,
		Status:     run.Status,
		Stage:      run.Stage,
		TotalTasks: run.Config.TotalTasks(),
		StartedAt:  run.CreatedAt,
	}
	if run.Report != nil {
		snap.CompletedTasks = run.Report.CompletedTasks
	}
	return snap, nil
}

// GetReport returns the final report of a terminal run.
func (e *Engine) GetReport(ctx context.Context, runID string) (*model.RunReport, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !run.Status.Terminal() {
		return nil, eris.Errorf("engine: run %s has not finished (status %s)", runID, run.Status)
	}
	if run.Report == nil {
		return nil, eris.Errorf("engine: run %s finished without a report", runID)
	}
	return run.Report, nil
}

// execute drives one run end to end. It is the only writer of the run's
// state and the only caller of the store for this run.
func (e *Engine) execute(runID string, state *RunState, cfg model.DiagnosisConfig) {
	log := zap.L().With(zap.String("run_id", runID))

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RunTimeout)
	defer cancel()

	e.transition(ctx, state, model.RunStatusRunning, model.StageDispatching)

	// Watchdog: once the run deadline passes, the state flips to TimedOut
	// and every late worker append is dropped.
	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		<-ctx.Done()
		if ctx.Err() == context.DeadlineExceeded {
			if state.Transition(model.RunStatusTimedOut, model.StageDispatching) {
				log.Warn("run timed out", zap.Duration("bound", e.cfg.RunTimeout))
			}
		}
	}()

	e.dispatch(ctx, state, cfg)

	cancel()
	<-watchdogDone

	e.finalize(state, cfg, log)
}

// dispatch runs the task matrix on a bounded pool. Every task produces
// exactly one terminal ResultRecord; failures are records, not errors.
func (e *Engine) dispatch(ctx context.Context, state *RunState, cfg model.DiagnosisConfig) {
	exhausted := resilience.NewExhaustedSet()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	for _, t := range expandTasks(cfg) {
		t := t
		g.Go(func() error {
			rec := e.runTask(gctx, cfg, t, exhausted)
			hash := cleaning.ContentHash(rec.Brand, rec.Question, rec.ProviderID, rec.Text)
			if !state.AppendResult(rec, hash) {
				zap.L().Debug("dropping late or duplicate result",
					zap.String("run_id", state.runID),
					zap.String("question", t.question.ID),
					zap.String("family", t.family),
				)
				return nil
			}
			if err := e.store.AppendResult(context.WithoutCancel(gctx), state.runID, hash, rec); err != nil {
				zap.L().Error("failed to persist result",
					zap.String("run_id", state.runID),
					zap.Error(err),
				)
			}
			return nil
		})
	}

	g.Wait() //nolint:errcheck // workers never return errors
}

// runTask executes one matrix cell through the failover controller.
func (e *Engine) runTask(ctx context.Context, cfg model.DiagnosisConfig, t task, exhausted *resilience.ExhaustedSet) model.ResultRecord {
	req := model.GenerationRequest{
		Prompt:    t.question.Text,
		Timeout:   e.cfg.TaskTimeout,
		RequestID: uuid.New().String(),
	}

	candidates := e.cfg.Families[t.family]
	resp, providerID, attempts := e.failover.Execute(ctx, candidates, exhausted, req)

	if e.collector != nil {
		// The final attempt produced the terminal response and carries its
		// latency. Earlier attempts were failed over from; they still count
		// toward failure-rate and quota alerting, just without latency.
		for i, a := range attempts {
			if providerID != "" && i == len(attempts)-1 {
				e.collector.Observe(a.ProviderID, resp)
				continue
			}
			e.collector.Observe(a.ProviderID, model.ErrorResponse(a.Kind, string(a.Kind)))
		}
	}

	if providerID == "" {
		// Total failover failure; attribute the record to the last provider
		// that was actually tried, falling back to the family name.
		providerID = t.family
		if len(attempts) > 0 {
			providerID = attempts[len(attempts)-1].ProviderID
		}
	}

	rec := model.ResultRecord{
		Brand:      cfg.Brand,
		Question:   t.question.Text,
		ProviderID: providerID,
		LatencyMs:  resp.LatencyMs,
		Usage:      resp.Usage,
		Timestamp:  time.Now().UTC(),
	}
	if resp.Failed() {
		rec.Failed = true
		rec.ErrorKind = resp.ErrorKind
		rec.Error = resp.ErrorMessage
	} else {
		rec.Text = resp.Content
	}
	return rec
}

// finalize verifies completion, cleans and aggregates results, decides the
// terminal status, and persists the report.
func (e *Engine) finalize(state *RunState, cfg model.DiagnosisConfig, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snap := state.Snapshot()
	timedOut := snap.Status == model.RunStatusTimedOut

	if !timedOut {
		e.transition(ctx, state, model.RunStatusRunning, model.StageCleaning)
	}

	pipeline := cleaning.New(cfg.Brand, cfg.Competitors, e.cfg.Cleaning)
	cleaned := pipeline.CleanAll(snap.Results)

	if !timedOut {
		e.transition(ctx, state, model.RunStatusRunning, model.StageAggregating)
	}

	report := e.buildReport(snap, cleaned, cfg)
	status := terminalStatus(snap, report, timedOut)
	if status != model.RunStatusCompleted && report.Reason != "" {
		state.SetError(report.Reason)
	}

	state.Transition(status, model.StageFinalized)
	if err := e.store.FinalizeRun(ctx, state.runID, status, report); err != nil {
		log.Error("failed to finalize run", zap.Error(err))
	}

	log.Info("run finalized",
		zap.String("status", string(status)),
		zap.Int("total_tasks", report.TotalTasks),
		zap.Int("completed_tasks", report.CompletedTasks),
		zap.Int("succeeded_tasks", report.SucceededTasks),
	)
}

func (e *Engine) buildReport(snap model.RunSnapshot, cleaned []model.CleanedRecord, cfg model.DiagnosisConfig) *model.RunReport {
	report := &model.RunReport{
		Cleaned:        cleaned,
		TotalTasks:     snap.TotalTasks,
		CompletedTasks: snap.CompletedTasks,
	}

	// Aggregate only records whose source call succeeded; failed records
	// carry no text to count mentions in.
	var aggregable []model.CleanedRecord
	for i, rec := range snap.Results {
		report.Usage.Add(rec.Usage)
		if rec.Failed {
			report.FailedTasks++
			continue
		}
		report.SucceededTasks++
		aggregable = append(aggregable, cleaned[i])
	}

	dist, err := stats.Compute(aggregable, e.cfg.Stats)
	if err != nil {
		report.InsufficientData = true
		report.Reason = eris.Cause(err).Error()
	} else {
		report.Exposure = dist
		report.Gap = stats.AnalyzeGaps(dist, cfg.Brand, cfg.Competitors, e.cfg.Stats)
	}

	if e.collector != nil {
		report.Providers = e.collector.Snapshot().Providers
	}
	return report
}

// terminalStatus applies the terminal state machine rules: full success only when
// every task succeeded and the books balance; zero successes with attempts
// made is Failed; everything between is PartialSuccess.
func terminalStatus(snap model.RunSnapshot, report *model.RunReport, timedOut bool) model.RunStatus {
	switch {
	case report.SucceededTasks == 0:
		return model.RunStatusFailed
	case timedOut:
		return model.RunStatusPartialSuccess
	case report.SucceededTasks == snap.TotalTasks && snap.CompletedTasks == snap.TotalTasks:
		return model.RunStatusCompleted
	default:
		// Either some tasks failed, or completion verification found a
		// mismatch; both degrade to partial success.
		return model.RunStatusPartialSuccess
	}
}

// transition applies an in-memory transition and mirrors it to the store.
func (e *Engine) transition(ctx context.Context, state *RunState, status model.RunStatus, stage string) {
	if !state.Transition(status, stage) {
		return
	}
	if err := e.store.UpdateRunState(ctx, state.runID, status, stage); err != nil {
		zap.L().Error("failed to persist run state",
			zap.String("run_id", state.runID),
			zap.String("status", string(status)),
			zap.String("stage", stage),
			zap.Error(err),
		)
	}
}
