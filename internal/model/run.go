package model

import "time"

// RunStatus is the lifecycle state of a diagnosis run.
type RunStatus string

const (
	RunStatusInitializing   RunStatus = "initializing"
	RunStatusRunning        RunStatus = "running"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusPartialSuccess RunStatus = "partial_success"
	RunStatusFailed         RunStatus = "failed"
	RunStatusTimedOut       RunStatus = "timed_out"
)

// Terminal reports whether the status is a final state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusPartialSuccess, RunStatusFailed, RunStatusTimedOut:
		return true
	default:
		return false
	}
}

// Run stages, always updated together with status.
const (
	StageInitializing = "initializing"
	StageDispatching  = "dispatching"
	StageCleaning     = "cleaning"
	StageAggregating  = "aggregating"
	StageFinalized    = "finalized"
)

// Question is a single diagnosis question posed to every provider.
type Question struct {
	ID   string `json:"id" yaml:"id"`
	Text string `json:"text" yaml:"text"`
}

// DiagnosisConfig describes one diagnosis run: whose visibility to measure,
// against whom, with which questions, across which model families.
type DiagnosisConfig struct {
	Brand       string     `json:"brand"`
	Competitors []string   `json:"competitors"`
	Questions   []Question `json:"questions"`
	Families    []string   `json:"families"`
}

// TotalTasks is the size of the question×family dispatch matrix.
func (c DiagnosisConfig) TotalTasks() int {
	return len(c.Questions) * len(c.Families)
}

// RunSnapshot is a read-only copy of run state handed to external observers.
// Status and Stage are captured inside the same critical section that
// mutates them, so a snapshot never shows them out of step.
type RunSnapshot struct {
	RunID          string         `json:"run_id"`
	Status         RunStatus      `json:"status"`
	Stage          string         `json:"stage"`
	TotalTasks     int            `json:"total_tasks"`
	CompletedTasks int            `json:"completed_tasks"`
	Results        []ResultRecord `json:"results"`
	Error          string         `json:"error,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
}

// Progress returns completion as a fraction in [0,1].
func (s RunSnapshot) Progress() float64 {
	if s.TotalTasks == 0 {
		return 0
	}
	return float64(s.CompletedTasks) / float64(s.TotalTasks)
}

// Run is the persisted view of a diagnosis run.
type Run struct {
	ID        string          `json:"id"`
	Config    DiagnosisConfig `json:"config"`
	Status    RunStatus       `json:"status"`
	Stage     string          `json:"stage"`
	Report    *RunReport      `json:"report,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
