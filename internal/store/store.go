// Package store persists diagnosis runs and their results.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/brandscan/internal/model"
)

// ErrRunNotFound is returned when a run ID has no persisted row.
var ErrRunNotFound = eris.New("store: run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Brand  string          `json:"brand,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the diagnosis engine. It is
// an at-least-once sink: AppendResult keys rows on the record content hash,
// so replayed appends are harmless.
type Store interface {
	CreateRun(ctx context.Context, id string, cfg model.DiagnosisConfig) (*model.Run, error)
	// UpdateRunState sets status and stage together; they are never
	// persisted independently.
	UpdateRunState(ctx context.Context, runID string, status model.RunStatus, stage string) error
	AppendResult(ctx context.Context, runID string, contentHash string, record model.ResultRecord) error
	FinalizeRun(ctx context.Context, runID string, status model.RunStatus, report *model.RunReport) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	GetResults(ctx context.Context, runID string) ([]model.ResultRecord, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	Migrate(ctx context.Context) error
	Close() error
}
