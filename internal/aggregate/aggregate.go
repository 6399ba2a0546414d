// Package aggregate collapses one source's rows into per-company
// summaries using the source's declared reducer rules. Rows flow through
// resolve → exclude → window → dedupe before any counting, so an excluded
// or out-of-window row can never leak into an aggregate.
package aggregate

import (
	"strconv"
	"strings"
	"time"

	"github.com/chatlift/funnel-cli/internal/model"
	"github.com/chatlift/funnel-cli/internal/resolve"
	"github.com/chatlift/funnel-cli/internal/source"
)

// Result is one source's aggregation output. Attrs is populated only for
// the base signup source, Activity only for sources declared as retention
// activity feeds; both ride along so the engine never re-walks the rows.
// Stats is the diagnostics bucket the drop counters land in directly, so
// the run ledger and the aggregator can never disagree.
type Result struct {
	Summaries map[model.CompanyID]*model.SourceSummary
	Attrs     map[model.CompanyID]model.SignupAttrs
	Activity  map[model.CompanyID][]time.Time
	Stats     model.SourceStats
}

// acc carries the working state for one company that plain SourceSummary
// fields cannot: distinct-value sets and whether a max has seen a value.
type acc struct {
	summary  *model.SourceSummary
	distinct map[string]map[string]struct{}
	maxSeen  map[string]bool
}

// Aggregate reduces a materialized table to one summary per resolved,
// non-excluded company. A company with zero surviving rows gets no
// summary at all — absence must survive into the merge phase.
func Aggregate(t *source.Table, r *resolve.Resolver, excluded map[model.CompanyID]struct{}, window model.TimeWindow) *Result {
	spec := t.Spec
	res := &Result{
		Summaries: make(map[model.CompanyID]*model.SourceSummary),
		Stats:     model.SourceStats{Source: spec.Name},
	}
	if spec.Base {
		res.Attrs = make(map[model.CompanyID]model.SignupAttrs)
	}
	if spec.Activity {
		res.Activity = make(map[model.CompanyID][]time.Time)
	}

	accs := make(map[model.CompanyID]*acc)
	seenKeys := make(map[string]struct{}, len(t.Records))

	for _, rec := range t.Records {
		id, ok := r.Resolve(spec, rec)
		if !ok {
			res.Stats.NoteUnresolved(rec.Identity)
			continue
		}
		if _, ok := excluded[id]; ok {
			res.Stats.Excluded++
			continue
		}
		if spec.Dated() && !window.Contains(rec.OccurredAt) {
			res.Stats.OutOfWindow++
			continue
		}
		if _, dup := seenKeys[rec.Key]; dup {
			res.Stats.Deduplicated++
			continue
		}
		seenKeys[rec.Key] = struct{}{}
		res.Stats.RowsKept++

		a, ok := accs[id]
		if !ok {
			a = newAcc(spec)
			accs[id] = a
			if spec.Base {
				res.Attrs[id] = signupAttrs(rec)
			}
		}
		reduce(a, spec, rec)
		if spec.Activity {
			res.Activity[id] = append(res.Activity[id], rec.OccurredAt)
		}
	}

	for id, a := range accs {
		finalize(a)
		res.Summaries[id] = a.summary
	}
	if spec.Base {
		// The signup date is the summary's earliest in-window timestamp,
		// authoritative for retention regardless of other sources.
		for id, attrs := range res.Attrs {
			attrs.SignupAt = res.Summaries[id].FirstAt
			res.Attrs[id] = attrs
		}
	}
	return res
}

// signupAttrs lifts the base source's declared attribute columns off the
// first surviving row for a company.
func signupAttrs(rec source.Record) model.SignupAttrs {
	return model.SignupAttrs{
		Email:       rec.Payload["email"],
		CompanyName: rec.Payload["company_name"],
		Slug:        rec.Payload["slug"],
		Plan:        rec.Payload["plan"],
	}
}

// newAcc pre-seeds every declared bucket with an observed zero. Once a
// company has a summary, a missing bucket would read as "untracked"
// rather than "tracked and zero", which is the wrong kind of absence.
func newAcc(spec *source.Spec) *acc {
	s := &model.SourceSummary{Source: spec.Name}

	if len(spec.Categories) > 0 {
		s.Categories = make(map[string]int64)
		for _, c := range spec.Categories {
			for _, b := range c.Buckets() {
				s.Categories[b] = 0
			}
		}
	}
	if len(spec.Markers) > 0 {
		s.Markers = make(map[string]int64, len(spec.Markers))
		for _, m := range spec.Markers {
			s.Markers[m.Name] = 0
		}
	}
	if len(spec.Distinct) > 0 {
		s.Distinct = make(map[string]int64, len(spec.Distinct))
		for _, col := range spec.Distinct {
			s.Distinct[source.NormCol(col)] = 0
		}
	}
	if len(spec.Sums) > 0 {
		s.Sums = make(map[string]float64, len(spec.Sums))
		for _, col := range spec.Sums {
			s.Sums[source.NormCol(col)] = 0
		}
	}
	if len(spec.Maxes) > 0 {
		s.Maxes = make(map[string]float64, len(spec.Maxes))
		for _, col := range spec.Maxes {
			s.Maxes[source.NormCol(col)] = 0
		}
	}

	a := &acc{summary: s}
	if len(spec.Distinct) > 0 {
		a.distinct = make(map[string]map[string]struct{}, len(spec.Distinct))
		for _, col := range spec.Distinct {
			a.distinct[source.NormCol(col)] = make(map[string]struct{})
		}
	}
	if len(spec.Maxes) > 0 {
		a.maxSeen = make(map[string]bool, len(spec.Maxes))
	}
	return a
}

func reduce(a *acc, spec *source.Spec, rec source.Record) {
	s := a.summary
	s.Total++
	s.Observe(rec.OccurredAt)

	for _, c := range spec.Categories {
		cell := source.NormCell(rec.Payload[source.NormCol(c.Column)])
		if cell == "" {
			continue
		}
		for _, bucket := range matchBuckets(c, cell) {
			s.Categories[bucket]++
		}
	}

	for _, m := range spec.Markers {
		if markerHolds(m, rec) {
			s.Markers[m.Name]++
		}
	}

	for _, col := range spec.Distinct {
		n := source.NormCol(col)
		if v := strings.TrimSpace(rec.Payload[n]); v != "" {
			a.distinct[n][v] = struct{}{}
		}
	}

	for _, col := range spec.Sums {
		n := source.NormCol(col)
		if cell := rec.Payload[n]; cell != "" {
			s.Sums[n] += parseFloat(cell)
		}
	}

	for _, col := range spec.Maxes {
		n := source.NormCol(col)
		cell := rec.Payload[n]
		if cell == "" {
			continue
		}
		v := parseFloat(cell)
		if !a.maxSeen[n] || v > s.Maxes[n] {
			s.Maxes[n] = v
			a.maxSeen[n] = true
		}
	}
}

// matchBuckets resolves a normalized cell to the category buckets it
// counts toward: exact values, labeled values, or substring values when
// the category declares Contains.
func matchBuckets(c source.Category, cell string) []string {
	var buckets []string
	if c.Contains {
		for _, v := range c.Values {
			if strings.Contains(cell, source.NormCell(v)) {
				buckets = append(buckets, v)
			}
		}
	} else {
		for _, v := range c.Values {
			if cell == source.NormCell(v) {
				buckets = append(buckets, v)
			}
		}
	}
	if label, ok := c.Labels[cell]; ok {
		buckets = append(buckets, label)
	}
	return buckets
}

func markerHolds(m source.Marker, rec source.Record) bool {
	for _, w := range m.When {
		if source.NormCell(rec.Payload[source.NormCol(w.Column)]) != source.NormCell(w.Equals) {
			return false
		}
	}
	return true
}

func finalize(a *acc) {
	for col, set := range a.distinct {
		a.summary.Distinct[col] = int64(len(set))
	}
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
