package funnel

import (
	"fmt"
	"sort"

	"github.com/chatlift/funnel-cli/internal/model"
)

// Merge outer-joins the per-source summaries on company identity,
// restricted to companies observed in the base signup source, and
// evaluates the ordered stage predicates for each. Companies observed
// only downstream are referential anomalies: reported in the diagnostics
// ledger, never silently dropped or invented into the dataset.
//
// Records come back sorted by company id so every downstream rendering is
// deterministic.
func Merge(
	summaries map[string]map[model.CompanyID]*model.SourceSummary,
	attrs map[model.CompanyID]model.SignupAttrs,
	baseSource string,
	stages []Stage,
	zeroAbsent map[string]bool,
	diag *model.Diagnostics,
) []*model.FunnelRecord {
	base := summaries[baseSource]

	ids := make([]model.CompanyID, 0, len(base))
	for id := range base {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	noteReferentials(summaries, base, baseSource, diag)

	records := make([]*model.FunnelRecord, 0, len(ids))
	for _, id := range ids {
		rec := &model.FunnelRecord{
			CompanyID: id,
			Signup:    attrs[id],
			Summaries: make(map[string]*model.SourceSummary, len(summaries)),
		}
		for name, bySource := range summaries {
			if s, ok := bySource[id]; ok {
				rec.Summaries[name] = s
			}
		}
		evalStages(rec, stages, zeroAbsent, diag)
		records = append(records, rec)
	}
	return records
}

// evalStages computes the ordered stage results and the monotonicity
// check: a stage confirmed True whose predecessor is not confirmed True
// is an inconsistent funnel. The record is still emitted — one anomaly
// must not block per-company analysis — but the violation is carried on
// the record and counted in diagnostics.
func evalStages(rec *model.FunnelRecord, stages []Stage, zeroAbsent map[string]bool, diag *model.Diagnostics) {
	rec.Stages = make([]model.StageResult, 0, len(stages))
	prev := model.FlagTrue
	prevName := ""
	inconsistent := false

	for _, st := range stages {
		flag := st.Eval(rec, zeroAbsent)
		res := model.StageResult{Name: st.Name, Flag: flag}
		if flag == model.FlagTrue && st.At != "" {
			if s := rec.Summary(st.At); s != nil {
				res.At = s.FirstAt
			}
		}
		if flag == model.FlagUnknown {
			diag.NoteUnknownStage(st.Name)
		}
		if flag == model.FlagTrue && prev != model.FlagTrue {
			rec.Inconsistent = append(rec.Inconsistent,
				fmt.Sprintf("%s is true but %s is %s", st.Name, prevName, prev))
			inconsistent = true
		}
		rec.Stages = append(rec.Stages, res)
		prev, prevName = flag, st.Name
	}

	if inconsistent {
		diag.InconsistentFunnels++
	}
}

// noteReferentials records company ids that appear in a downstream source
// without a signup row, in id order so diagnostic samples are stable.
func noteReferentials(
	summaries map[string]map[model.CompanyID]*model.SourceSummary,
	base map[model.CompanyID]*model.SourceSummary,
	baseSource string,
	diag *model.Diagnostics,
) {
	orphans := make(map[model.CompanyID]struct{})
	for name, bySource := range summaries {
		if name == baseSource {
			continue
		}
		for id := range bySource {
			if _, ok := base[id]; !ok {
				orphans[id] = struct{}{}
			}
		}
	}
	ids := make([]model.CompanyID, 0, len(orphans))
	for id := range orphans {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		diag.NoteReferential(id)
	}
}
