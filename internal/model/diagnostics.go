package model

import "sort"

// sampleCap bounds how many offending keys a diagnostic keeps for display.
const sampleCap = 5

// SourceStats tracks what happened to one source's rows on the way into
// aggregation. Every dropped row lands in exactly one counter so the read
// and kept totals always reconcile.
type SourceStats struct {
	Source           string   `json:"source"`
	RowsRead         int64    `json:"rows_read"`
	RowsKept         int64    `json:"rows_kept"`
	Malformed        int64    `json:"malformed,omitempty"`
	Unresolved       int64    `json:"unresolved,omitempty"`
	UnresolvedSample []string `json:"unresolved_sample,omitempty"`
	Excluded         int64    `json:"excluded,omitempty"`
	OutOfWindow      int64    `json:"out_of_window,omitempty"`
	Deduplicated     int64    `json:"deduplicated,omitempty"`
	Companies        int      `json:"companies"`
}

// NoteUnresolved counts a row whose native key had no identity mapping and
// keeps a bounded sample of the offending keys.
func (s *SourceStats) NoteUnresolved(nativeKey string) {
	s.Unresolved++
	if len(s.UnresolvedSample) < sampleCap {
		s.UnresolvedSample = append(s.UnresolvedSample, nativeKey)
	}
}

// Diagnostics is the run's anomaly ledger. The combined dataset is never
// emitted without it: a consumer must always be able to see what was
// dropped, deduplicated, or flagged instead of trusting a silently
// complete-looking table.
type Diagnostics struct {
	Sources             map[string]*SourceStats `json:"sources"`
	ReferentialCount    int64                   `json:"referential_count,omitempty"`
	ReferentialSample   []CompanyID             `json:"referential_sample,omitempty"`
	InconsistentFunnels int64                   `json:"inconsistent_funnels,omitempty"`
	PreSignupActivity   int64                   `json:"pre_signup_activity,omitempty"`
	UnknownByStage      map[string]int64        `json:"unknown_by_stage,omitempty"`
}

// NewDiagnostics returns an empty ledger.
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{
		Sources:        make(map[string]*SourceStats),
		UnknownByStage: make(map[string]int64),
	}
}

// Source returns the stats bucket for a source, creating it on first use.
func (d *Diagnostics) Source(name string) *SourceStats {
	s, ok := d.Sources[name]
	if !ok {
		s = &SourceStats{Source: name}
		d.Sources[name] = s
	}
	return s
}

// NoteReferential records a company observed downstream without a signup
// row, keeping a bounded sample of ids.
func (d *Diagnostics) NoteReferential(id CompanyID) {
	d.ReferentialCount++
	if len(d.ReferentialSample) < sampleCap {
		d.ReferentialSample = append(d.ReferentialSample, id)
	}
}

// NoteUnknownStage counts a record whose stage evaluated to Unknown, the
// surface consumers use to pick their own funnel denominators.
func (d *Diagnostics) NoteUnknownStage(stage string) {
	d.UnknownByStage[stage]++
}

// TotalUnresolved sums unresolved-identity drops across all sources.
func (d *Diagnostics) TotalUnresolved() int64 {
	var n int64
	for _, s := range d.Sources {
		n += s.Unresolved
	}
	return n
}

// SourceNames returns the tracked sources in stable order.
func (d *Diagnostics) SourceNames() []string {
	names := make([]string, 0, len(d.Sources))
	for name := range d.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
