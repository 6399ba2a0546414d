package store

import (
	"context"
	"time"

	"github.com/chatlift/funnel-cli/internal/funnel"
	"github.com/chatlift/funnel-cli/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Since  time.Time       `json:"since,omitzero"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the run log and the
// combined dataset archive.
type Store interface {
	// Run log
	CreateRun(ctx context.Context, run *model.Run) error
	CompleteRun(ctx context.Context, run *model.Run) error
	FailRun(ctx context.Context, runID string, runErr string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	LastCompleted(ctx context.Context) (*model.Run, error)

	// Dataset archive
	SaveDataset(ctx context.Context, runID string, ds *funnel.Dataset) error
	LatestDataset(ctx context.Context) (string, *funnel.Dataset, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
