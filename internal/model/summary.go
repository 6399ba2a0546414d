package model

import (
	"strings"
	"time"
)

// Metric address prefixes understood by SourceSummary.Metric. Stage
// predicates reference summary fields through these names so the stage
// config stays declarative.
const (
	MetricTotal    = "total"
	MetricCategory = "category"
	MetricMarker   = "marker"
	MetricDistinct = "distinct"
	MetricSum      = "sum"
	MetricMax      = "max"
)

// SourceSummary is the aggregation of one source for one company. A company
// with no surviving rows in a source has no summary at all; every field
// inside an existing summary is an observed value, zeroes included.
type SourceSummary struct {
	Source     string             `json:"source"`
	Total      int64              `json:"total"`
	FirstAt    time.Time          `json:"first_at,omitzero"`
	LastAt     time.Time          `json:"last_at,omitzero"`
	Categories map[string]int64   `json:"categories,omitempty"`
	Markers    map[string]int64   `json:"markers,omitempty"`
	Distinct   map[string]int64   `json:"distinct,omitempty"`
	Sums       map[string]float64 `json:"sums,omitempty"`
	Maxes      map[string]float64 `json:"maxes,omitempty"`
}

// Metric resolves a metric address ("total", "category:<value>",
// "distinct:<col>", "sum:<col>", "max:<col>") to its numeric value. The
// second return is false when the summary does not track that address,
// which signals a stage-config mistake rather than an observed zero.
func (s *SourceSummary) Metric(name string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	kind, arg, _ := strings.Cut(name, ":")
	switch kind {
	case MetricTotal:
		return float64(s.Total), true
	case MetricCategory:
		v, ok := s.Categories[arg]
		return float64(v), ok
	case MetricMarker:
		v, ok := s.Markers[arg]
		return float64(v), ok
	case MetricDistinct:
		v, ok := s.Distinct[arg]
		return float64(v), ok
	case MetricSum:
		v, ok := s.Sums[arg]
		return v, ok
	case MetricMax:
		v, ok := s.Maxes[arg]
		return v, ok
	default:
		return 0, false
	}
}

// Observe folds an occurred-at timestamp into the first/last extremes.
// Zero timestamps (undated sources) are ignored.
func (s *SourceSummary) Observe(t time.Time) {
	if t.IsZero() {
		return
	}
	if s.FirstAt.IsZero() || t.Before(s.FirstAt) {
		s.FirstAt = t
	}
	if s.LastAt.IsZero() || t.After(s.LastAt) {
		s.LastAt = t
	}
}
