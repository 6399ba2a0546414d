package funnel

import (
	"strconv"
	"time"

	"github.com/chatlift/funnel-cli/internal/model"
	"github.com/chatlift/funnel-cli/internal/source"
)

// Dataset is the combined output table: one row per signup company, cells
// already rendered to their canonical string form. Column order is fixed
// by the registry and stage declarations, row order by company id, so two
// runs over identical inputs serialize byte-identically.
type Dataset struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// identityColumns lead every dataset row.
var identityColumns = []string{
	"company_id", "company_name", "slug", "email", "plan", "signup_at",
}

// BuildDataset renders the merged records into the combined table.
// observedEnd bounds retention observability: a week not fully elapsed by
// it is an empty cell, not "false".
func BuildDataset(records []*model.FunnelRecord, reg *source.Registry, stages []Stage, maxWeeks int, observedEnd time.Time) *Dataset {
	cols := datasetColumns(reg, stages, maxWeeks)
	ds := &Dataset{Columns: cols, Rows: make([][]string, 0, len(records))}
	for _, rec := range records {
		ds.Rows = append(ds.Rows, datasetRow(rec, reg, stages, maxWeeks, observedEnd))
	}
	return ds
}

func datasetColumns(reg *source.Registry, stages []Stage, maxWeeks int) []string {
	cols := append([]string{}, identityColumns...)

	for _, st := range stages {
		cols = append(cols, st.Name+"_flag")
		if st.At != "" {
			cols = append(cols, st.Name+"_at")
		}
	}

	for _, spec := range reg.Aggregated() {
		if spec.Base {
			continue
		}
		cols = append(cols, sourceColumns(spec)...)
	}

	for w := 0; w < maxWeeks; w++ {
		cols = append(cols, "week_"+strconv.Itoa(w))
	}

	return append(cols, "funnel_inconsistent", "pre_signup_events")
}

// sourceColumns lists one source's aggregate columns in declaration
// order: total, timestamps, category buckets, markers, distincts, sums,
// maxes.
func sourceColumns(spec *source.Spec) []string {
	p := spec.Name + "_"
	cols := []string{p + "total"}
	if spec.Dated() {
		cols = append(cols, p+"first_at", p+"last_at")
	}
	for _, c := range spec.Categories {
		for _, b := range c.Buckets() {
			cols = append(cols, p+b)
		}
	}
	for _, m := range spec.Markers {
		cols = append(cols, p+m.Name)
	}
	for _, col := range spec.Distinct {
		cols = append(cols, p+"distinct_"+source.NormCol(col))
	}
	for _, col := range spec.Sums {
		cols = append(cols, p+"sum_"+source.NormCol(col))
	}
	for _, col := range spec.Maxes {
		cols = append(cols, p+"max_"+source.NormCol(col))
	}
	return cols
}

func datasetRow(rec *model.FunnelRecord, reg *source.Registry, stages []Stage, maxWeeks int, observedEnd time.Time) []string {
	row := []string{
		rec.CompanyID.String(),
		rec.Signup.CompanyName,
		rec.Signup.Slug,
		rec.Signup.Email,
		rec.Signup.Plan,
		renderTime(rec.Signup.SignupAt),
	}

	for i, st := range stages {
		row = append(row, rec.Stages[i].Flag.String())
		if st.At != "" {
			row = append(row, renderTime(rec.Stages[i].At))
		}
	}

	for _, spec := range reg.Aggregated() {
		if spec.Base {
			continue
		}
		row = append(row, sourceCells(rec.Summary(spec.Name), spec)...)
	}

	for w := 0; w < maxWeeks; w++ {
		row = append(row, weekCell(rec, w, observedEnd))
	}

	return append(row,
		strconv.FormatBool(len(rec.Inconsistent) > 0),
		strconv.Itoa(rec.Retention.PreSignup),
	)
}

// sourceCells renders one summary block. A nil summary — the source never
// observed this company — renders every cell empty; a present summary
// renders observed values, zeroes included.
func sourceCells(s *model.SourceSummary, spec *source.Spec) []string {
	if s == nil {
		return make([]string, len(sourceColumns(spec)))
	}
	cells := []string{strconv.FormatInt(s.Total, 10)}
	if spec.Dated() {
		cells = append(cells, renderTime(s.FirstAt), renderTime(s.LastAt))
	}
	for _, c := range spec.Categories {
		for _, b := range c.Buckets() {
			cells = append(cells, strconv.FormatInt(s.Categories[b], 10))
		}
	}
	for _, m := range spec.Markers {
		cells = append(cells, strconv.FormatInt(s.Markers[m.Name], 10))
	}
	for _, col := range spec.Distinct {
		cells = append(cells, strconv.FormatInt(s.Distinct[source.NormCol(col)], 10))
	}
	for _, col := range spec.Sums {
		cells = append(cells, renderFloat(s.Sums[source.NormCol(col)]))
	}
	for _, col := range spec.Maxes {
		cells = append(cells, renderFloat(s.Maxes[source.NormCol(col)]))
	}
	return cells
}

// weekCell renders one retention cell: "true" when activity landed in the
// week, "false" when the week has fully elapsed without activity, empty
// when the week is not yet observable.
func weekCell(rec *model.FunnelRecord, week int, observedEnd time.Time) string {
	if rec.Retention.Active(week) {
		return "true"
	}
	if model.WeekObservable(rec.Signup.SignupAt, week, observedEnd) {
		return "false"
	}
	return ""
}

func renderTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func renderFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
