package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/chatlift/funnel-cli/internal/model"
	"github.com/chatlift/funnel-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of reconciliation health.
type MetricsSnapshot struct {
	// Run counts within the lookback window.
	RunsTotal     int     `json:"runs_total"`
	RunsCompleted int     `json:"runs_completed"`
	RunsFailed    int     `json:"runs_failed"`
	RunsRunning   int     `json:"runs_running"`
	FailRate      float64 `json:"fail_rate"`

	// Last completed run.
	LastRunID      string    `json:"last_run_id,omitempty"`
	LastFinishedAt time.Time `json:"last_finished_at,omitzero"`
	StalenessHours float64   `json:"staleness_hours"`
	Companies      int       `json:"companies"`
	Excluded       int64     `json:"excluded"`

	// Anomaly totals from the last completed run's diagnostics.
	UnresolvedIdentities int64 `json:"unresolved_identities"`
	ReferentialAnomalies int64 `json:"referential_anomalies"`
	InconsistentFunnels  int64 `json:"inconsistent_funnels"`
	PreSignupActivity    int64 `json:"pre_signup_activity"`

	// Per-source freshness from the last completed run: rows each source
	// contributed, and the sources that went silent (read zero rows).
	SourceRows    map[string]int64 `json:"source_rows,omitempty"`
	SilentSources []string         `json:"silent_sources,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the run log.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of run health over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		Since: cutoff,
		Limit: 10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusCompleted:
			snap.RunsCompleted++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
	}
	if finished := snap.RunsCompleted + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}

	last, err := c.store.LastCompleted(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: last completed run")
	}
	if last != nil {
		snap.LastRunID = last.ID
		snap.LastFinishedAt = last.FinishedAt
		snap.StalenessHours = now.Sub(last.FinishedAt).Hours()
		snap.Companies = last.Companies
		snap.Excluded = last.Excluded
		if d := last.Diagnostics; d != nil {
			snap.UnresolvedIdentities = d.TotalUnresolved()
			snap.ReferentialAnomalies = d.ReferentialCount
			snap.InconsistentFunnels = d.InconsistentFunnels
			snap.PreSignupActivity = d.PreSignupActivity

			snap.SourceRows = make(map[string]int64, len(d.Sources))
			for name, s := range d.Sources {
				snap.SourceRows[name] = s.RowsRead
				if s.RowsRead == 0 {
					snap.SilentSources = append(snap.SilentSources, name)
				}
			}
			sort.Strings(snap.SilentSources)
		}
	}

	return snap, nil
}
