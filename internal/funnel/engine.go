package funnel

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chatlift/funnel-cli/internal/aggregate"
	"github.com/chatlift/funnel-cli/internal/exclusion"
	"github.com/chatlift/funnel-cli/internal/model"
	"github.com/chatlift/funnel-cli/internal/resolve"
	"github.com/chatlift/funnel-cli/internal/retention"
	"github.com/chatlift/funnel-cli/internal/source"
)

const defaultParallelism = 4

// Inputs is everything one reconciliation run consumes. Tables are fully
// materialized before the engine starts; the core performs no I/O, so a
// run is a pure function of these inputs and produces byte-identical
// output when repeated.
type Inputs struct {
	Tables      source.Set
	Registry    *source.Registry
	Window      model.TimeWindow
	Exclusions  *exclusion.Filter
	Stages      []Stage
	MaxWeeks    int
	Parallelism int

	// Now anchors retention observability for open-ended windows.
	// Injectable so tests are reproducible.
	Now time.Time
}

// Result is the combined dataset plus the anomaly ledger that must always
// accompany it.
type Result struct {
	Records     []*model.FunnelRecord
	Dataset     *Dataset
	Diagnostics *model.Diagnostics
	Excluded    int
}

// Engine runs the reconciliation pipeline: resolver cache, exclusion
// pass, parallel per-source aggregation, merge, retention, dataset
// assembly.
type Engine struct {
	log *zap.Logger
}

// NewEngine returns an engine logging under the funnel component.
func NewEngine() *Engine {
	return &Engine{log: zap.L().With(zap.String("component", "funnel"))}
}

// Run executes one reconciliation. Fatal conditions — ambiguous identity,
// a missing or schema-violating base source — abort the whole run; every
// other anomaly degrades into diagnostics on a still-usable result.
func (e *Engine) Run(ctx context.Context, in Inputs) (*Result, error) {
	baseSpec := in.Registry.Base()
	baseTable := in.Tables.Get(baseSpec.Name)
	if baseTable == nil {
		return nil, eris.Errorf("funnel: base source %s not loaded", baseSpec.Name)
	}
	if err := ValidateStages(in.Stages, in.Registry); err != nil {
		return nil, err
	}

	resolver, err := resolve.Build(in.Tables, in.Registry)
	if err != nil {
		return nil, eris.Wrap(err, "funnel: build identity cache")
	}

	excluded := excludedCompanies(baseTable, in.Exclusions)

	diag := model.NewDiagnostics()
	results, err := e.aggregateAll(ctx, in, resolver, excluded)
	if err != nil {
		return nil, err
	}

	summaries := make(map[string]map[model.CompanyID]*model.SourceSummary, len(results))
	activity := make(map[model.CompanyID][]time.Time)
	var attrs map[model.CompanyID]model.SignupAttrs
	for name, res := range results {
		summaries[name] = res.Summaries
		if res.Attrs != nil {
			attrs = res.Attrs
		}
		for id, times := range res.Activity {
			activity[id] = append(activity[id], times...)
		}
		fillStats(diag.Source(name), in.Tables.Get(name), res)
	}

	// A company absent from a loaded complete export is a confirmed
	// zero for stage predicates; absence from an unloaded or snapshot
	// source stays Unknown.
	zeroAbsent := make(map[string]bool)
	for _, spec := range in.Registry.Aggregated() {
		if spec.Complete && in.Tables.Get(spec.Name) != nil {
			zeroAbsent[spec.Name] = true
		}
	}

	records := Merge(summaries, attrs, baseSpec.Name, in.Stages, zeroAbsent, diag)

	for _, rec := range records {
		rec.Retention = retention.Cohort(rec.Signup.SignupAt, activity[rec.CompanyID])
		diag.PreSignupActivity += int64(rec.Retention.PreSignup)
	}

	ds := BuildDataset(records, in.Registry, in.Stages, in.MaxWeeks, in.Window.ObservedEnd(in.Now))

	e.log.Info("reconciliation complete",
		zap.Int("companies", len(records)),
		zap.Int("excluded", len(excluded)),
		zap.Int64("unresolved", diag.TotalUnresolved()),
		zap.Int64("referential", diag.ReferentialCount),
		zap.Int64("inconsistent", diag.InconsistentFunnels),
	)

	return &Result{
		Records:     records,
		Dataset:     ds,
		Diagnostics: diag,
		Excluded:    len(excluded),
	}, nil
}

// aggregateAll fans the per-source aggregators out across a bounded
// errgroup and waits on the fan-in barrier. Each aggregator touches only
// its own table and the read-only resolver cache, so the result slots can
// be written without locks.
func (e *Engine) aggregateAll(
	ctx context.Context,
	in Inputs,
	resolver *resolve.Resolver,
	excluded map[model.CompanyID]struct{},
) (map[string]*aggregate.Result, error) {
	specs := make([]*source.Spec, 0)
	for _, spec := range in.Registry.Aggregated() {
		if in.Tables.Get(spec.Name) != nil {
			specs = append(specs, spec)
		}
	}

	limit := in.Parallelism
	if limit <= 0 {
		limit = defaultParallelism
	}

	slots := make([]*aggregate.Result, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, spec := range specs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t := in.Tables.Get(spec.Name)
			slots[i] = aggregate.Aggregate(t, resolver, excluded, in.Window)
			e.log.Debug("source aggregated",
				zap.String("source", spec.Name),
				zap.Int("companies", len(slots[i].Summaries)),
				zap.Int64("rows_kept", slots[i].Stats.RowsKept),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "funnel: aggregate sources")
	}

	results := make(map[string]*aggregate.Result, len(specs))
	for i, spec := range specs {
		results[spec.Name] = slots[i]
	}
	return results, nil
}

// excludedCompanies walks the base signup rows once and collects every
// company the deny-set matches. The set feeds every aggregator, so an
// excluded account contributes to no aggregate of any source.
func excludedCompanies(base *source.Table, filter *exclusion.Filter) map[model.CompanyID]struct{} {
	out := make(map[model.CompanyID]struct{})
	if filter == nil || filter.Empty() {
		return out
	}
	for _, rec := range base.Records {
		id, err := model.ParseCompanyID(rec.Identity)
		if err != nil {
			continue
		}
		attrs := model.SignupAttrs{
			Email:       rec.Payload["email"],
			CompanyName: rec.Payload["company_name"],
			Slug:        rec.Payload["slug"],
			Plan:        rec.Payload["plan"],
		}
		if filter.Excluded(id, attrs) {
			out[id] = struct{}{}
		}
	}
	return out
}

// fillStats lands one source's aggregation bucket in the diagnostics
// ledger, adding the counters only the loader knows.
func fillStats(s *model.SourceStats, t *source.Table, res *aggregate.Result) {
	st := res.Stats
	st.Source = s.Source
	st.RowsRead = t.RowsRead
	st.Malformed = t.Malformed
	st.Companies = len(res.Summaries)
	*s = st
}
