package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlift/funnel-cli/internal/funnel"
	"github.com/chatlift/funnel-cli/internal/model"
	"github.com/chatlift/funnel-cli/internal/store"
)

// mockStore implements store.Store for testing.
type mockStore struct {
	runs    []model.Run
	last    *model.Run
	listErr error
	lastErr error
}

func (m *mockStore) ListRuns(_ context.Context, filter store.RunFilter) ([]model.Run, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var filtered []model.Run
	for _, r := range m.runs {
		if !filter.Since.IsZero() && r.StartedAt.Before(filter.Since) {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered, nil
}

func (m *mockStore) LastCompleted(context.Context) (*model.Run, error) {
	return m.last, m.lastErr
}

// Unused store methods — satisfy the interface.
func (m *mockStore) CreateRun(context.Context, *model.Run) error          { return nil }
func (m *mockStore) CompleteRun(context.Context, *model.Run) error        { return nil }
func (m *mockStore) FailRun(context.Context, string, string) error        { return nil }
func (m *mockStore) GetRun(context.Context, string) (*model.Run, error)   { return nil, nil }
func (m *mockStore) SaveDataset(context.Context, string, *funnel.Dataset) error {
	return nil
}
func (m *mockStore) LatestDataset(context.Context) (string, *funnel.Dataset, error) {
	return "", nil, nil
}
func (m *mockStore) Migrate(context.Context) error { return nil }
func (m *mockStore) Close() error                  { return nil }

func TestCollector_EmptyStore(t *testing.T) {
	st := &mockStore{}
	c := NewCollector(st)

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.RunsTotal)
	assert.Equal(t, 0, snap.RunsFailed)
	assert.Equal(t, 0.0, snap.FailRate)
	assert.Empty(t, snap.LastRunID)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_RunMetrics(t *testing.T) {
	now := time.Now().UTC()
	diag := model.NewDiagnostics()
	diag.Source("workflow_executions").Unresolved = 12
	diag.Source("workflow_executions").RowsRead = 240
	diag.Source("invoices")
	diag.NoteReferential(999)
	diag.InconsistentFunnels = 2
	diag.PreSignupActivity = 4

	st := &mockStore{
		runs: []model.Run{
			{ID: "1", Status: model.RunStatusCompleted, StartedAt: now.Add(-1 * time.Hour)},
			{ID: "2", Status: model.RunStatusCompleted, StartedAt: now.Add(-2 * time.Hour)},
			{ID: "3", Status: model.RunStatusFailed, StartedAt: now.Add(-3 * time.Hour)},
			{ID: "4", Status: model.RunStatusRunning, StartedAt: now.Add(-30 * time.Minute)},
			// Outside lookback window — should be filtered out.
			{ID: "5", Status: model.RunStatusFailed, StartedAt: now.Add(-48 * time.Hour)},
		},
		last: &model.Run{
			ID:          "1",
			Status:      model.RunStatusCompleted,
			FinishedAt:  now.Add(-1 * time.Hour),
			Companies:   97,
			Excluded:    3,
			Diagnostics: diag,
		},
	}

	c := NewCollector(st)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsCompleted)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsRunning)
	assert.InDelta(t, 1.0/3.0, snap.FailRate, 0.001) // 1 failed / 3 finished

	assert.Equal(t, "1", snap.LastRunID)
	assert.InDelta(t, 1.0, snap.StalenessHours, 0.1)
	assert.Equal(t, 97, snap.Companies)
	assert.Equal(t, int64(3), snap.Excluded)
	assert.Equal(t, int64(12), snap.UnresolvedIdentities)
	assert.Equal(t, int64(1), snap.ReferentialAnomalies)
	assert.Equal(t, int64(2), snap.InconsistentFunnels)
	assert.Equal(t, int64(4), snap.PreSignupActivity)

	assert.Equal(t, int64(240), snap.SourceRows["workflow_executions"])
	assert.Equal(t, []string{"invoices"}, snap.SilentSources)
}

func TestCollector_FailureRateZeroFinished(t *testing.T) {
	now := time.Now().UTC()
	st := &mockStore{
		runs: []model.Run{
			{ID: "1", Status: model.RunStatusRunning, StartedAt: now.Add(-1 * time.Hour)},
			{ID: "2", Status: model.RunStatusRunning, StartedAt: now.Add(-2 * time.Hour)},
		},
	}

	c := NewCollector(st)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	// No finished runs, so failure rate should be 0.
	assert.Equal(t, 0.0, snap.FailRate)
}

func TestCollector_NoDiagnostics(t *testing.T) {
	now := time.Now().UTC()
	st := &mockStore{
		last: &model.Run{ID: "1", Status: model.RunStatusCompleted, FinishedAt: now},
	}

	c := NewCollector(st)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, "1", snap.LastRunID)
	assert.Equal(t, int64(0), snap.UnresolvedIdentities)
}
