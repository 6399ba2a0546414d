package model

import "time"

// RunStatus represents the current state of a reconciliation run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one reconciliation execution as recorded in the run log.
// ConfigDigest fingerprints the settings that shaped the run, so two runs
// with the same digest and the same extracts are comparable.
type Run struct {
	ID           string       `json:"id"`
	Trigger      string       `json:"trigger"`
	ConfigDigest string       `json:"config_digest,omitempty"`
	Status       RunStatus    `json:"status"`
	WindowStart  time.Time    `json:"window_start"`
	WindowEnd    time.Time    `json:"window_end,omitzero"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at,omitzero"`
	Companies    int          `json:"companies"`
	Excluded     int64        `json:"excluded"`
	Error        string       `json:"error,omitempty"`
	Diagnostics  *Diagnostics `json:"diagnostics,omitempty"`
}

// Duration is the wall-clock run time, zero while still running.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
