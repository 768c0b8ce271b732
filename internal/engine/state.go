package engine

import (
	"sync"
	"time"

	"github.com/sells-group/brandscan/internal/model"
)

// RunState is the single mutable object shared by dispatch workers, the
// watchdog, and external pollers. All mutation goes through Transition and
// AppendResult; both update their fields inside one critical section so a
// reader never observes status and stage out of step.
type RunState struct {
	mu sync.Mutex

	runID      string
	status     model.RunStatus
	stage      string
	totalTasks int
	results    []model.ResultRecord
	seen       map[string]bool
	errMsg     string
	startedAt  time.Time
	finishedAt *time.Time
}

func newRunState(runID string, totalTasks int) *RunState {
	return &RunState{
		runID:      runID,
		status:     model.RunStatusInitializing,
		stage:      model.StageInitializing,
		totalTasks: totalTasks,
		seen:       make(map[string]bool),
		startedAt:  time.Now().UTC(),
	}
}

// Transition moves the run to a new status and stage together. Transitions
// out of a terminal state are refused, with one exception: a TimedOut run
// may still finalize as PartialSuccess or Failed once its workers drain.
// Returns whether the transition was applied.
func (s *RunState) Transition(status model.RunStatus, stage string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		finalizing := s.status == model.RunStatusTimedOut &&
			(status == model.RunStatusPartialSuccess || status == model.RunStatusFailed)
		if !finalizing {
			return false
		}
	}

	s.status = status
	s.stage = stage
	if status.Terminal() && s.finishedAt == nil {
		now := time.Now().UTC()
		s.finishedAt = &now
	}
	return true
}

// SetError records a run-level error message.
func (s *RunState) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = msg
}

// AppendResult appends one terminal task outcome. Late results arriving
// after the run reached a terminal state are dropped, as are results whose
// content hash was already recorded. Returns whether the record was kept.
func (s *RunState) AppendResult(rec model.ResultRecord, contentHash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return false
	}
	if s.seen[contentHash] {
		return false
	}
	s.seen[contentHash] = true
	s.results = append(s.results, rec)
	return true
}

// Snapshot returns a read-only copy of the run state. Results are copied so
// the caller can never observe a partial append.
func (s *RunState) Snapshot() model.RunSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]model.ResultRecord, len(s.results))
	copy(results, s.results)

	return model.RunSnapshot{
		RunID:          s.runID,
		Status:         s.status,
		Stage:          s.stage,
		TotalTasks:     s.totalTasks,
		CompletedTasks: len(results),
		Results:        results,
		Error:          s.errMsg,
		StartedAt:      s.startedAt,
		FinishedAt:     s.finishedAt,
	}
}

// stateRegistry tracks the live RunState of every run started by this
// process.
type stateRegistry struct {
	mu   sync.RWMutex
	runs map[string]*RunState
}

func newStateRegistry() *stateRegistry {
	return &stateRegistry{runs: make(map[string]*RunState)}
}

func (r *stateRegistry) add(runID string, state *RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[runID] = state
}

func (r *stateRegistry) get(runID string) *RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runs[runID]
}
