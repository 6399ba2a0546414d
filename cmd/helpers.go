package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/chatlift/funnel-cli/internal/exclusion"
	"github.com/chatlift/funnel-cli/internal/export"
	"github.com/chatlift/funnel-cli/internal/funnel"
	"github.com/chatlift/funnel-cli/internal/model"
	"github.com/chatlift/funnel-cli/internal/source"
	"github.com/chatlift/funnel-cli/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "funnel.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// declarations is everything a run needs besides the extracts themselves:
// source contracts, stage definitions, the deny-set, and the time window.
type declarations struct {
	registry   *source.Registry
	stages     []funnel.Stage
	exclusions *exclusion.Filter
	window     model.TimeWindow
}

func loadDeclarations() (*declarations, error) {
	specs, err := source.LoadSpecs(cfg.Files.Sources)
	if err != nil {
		return nil, err
	}
	reg, err := source.NewRegistry(specs)
	if err != nil {
		return nil, err
	}

	stages, err := funnel.LoadStages(cfg.Files.Stages)
	if err != nil {
		return nil, err
	}
	if err := funnel.ValidateStages(stages, reg); err != nil {
		return nil, err
	}

	rules, err := exclusion.LoadRules(cfg.Files.Exclusions)
	if err != nil {
		return nil, err
	}

	window, err := cfg.Window.TimeWindow()
	if err != nil {
		return nil, err
	}

	return &declarations{
		registry:   reg,
		stages:     stages,
		exclusions: exclusion.New(rules),
		window:     window,
	}, nil
}

// executeRun performs one full reconciliation: load declarations and
// extracts, run the engine, archive the dataset, and record the run.
// Every failure after CreateRun is recorded on the run before returning.
func executeRun(ctx context.Context, st store.Store, trigger string) (*model.Run, *funnel.Result, error) {
	decls, err := loadDeclarations()
	if err != nil {
		return nil, nil, err
	}

	run := &model.Run{
		ID:           uuid.New().String(),
		Trigger:      trigger,
		ConfigDigest: cfg.Digest(),
		Status:       model.RunStatusRunning,
		WindowStart:  decls.window.Start,
		WindowEnd:    decls.window.End,
		StartedAt:    time.Now().UTC(),
	}
	if err := st.CreateRun(ctx, run); err != nil {
		return nil, nil, err
	}

	fail := func(cause error) (*model.Run, *funnel.Result, error) {
		if ferr := st.FailRun(ctx, run.ID, cause.Error()); ferr != nil {
			zap.L().Error("failed to record run failure",
				zap.String("run_id", run.ID),
				zap.Error(ferr),
			)
		}
		return run, nil, cause
	}

	tables, failed, err := source.LoadAll(ctx, cfg.Data.Dir, decls.registry)
	if err != nil {
		return fail(err)
	}
	for name, lerr := range failed {
		zap.L().Warn("source excluded from run",
			zap.String("run_id", run.ID),
			zap.String("source", name),
			zap.Error(lerr),
		)
	}

	engine := funnel.NewEngine()
	res, err := engine.Run(ctx, funnel.Inputs{
		Tables:      tables,
		Registry:    decls.registry,
		Window:      decls.window,
		Exclusions:  decls.exclusions,
		Stages:      decls.stages,
		MaxWeeks:    cfg.Retention.MaxWeeks,
		Parallelism: cfg.Aggregate.Parallelism,
		Now:         time.Now().UTC(),
	})
	if err != nil {
		return fail(err)
	}

	if err := st.SaveDataset(ctx, run.ID, res.Dataset); err != nil {
		return fail(eris.Wrap(err, "archive dataset"))
	}

	run.Status = model.RunStatusCompleted
	run.FinishedAt = time.Now().UTC()
	run.Companies = len(res.Records)
	run.Excluded = int64(res.Excluded)
	run.Diagnostics = res.Diagnostics
	if err := st.CompleteRun(ctx, run); err != nil {
		return run, res, err
	}

	zap.L().Info("run complete",
		zap.String("run_id", run.ID),
		zap.String("trigger", trigger),
		zap.Int("companies", run.Companies),
		zap.Int64("excluded", run.Excluded),
		zap.Duration("took", run.Duration()),
	)
	return run, res, nil
}

// printDiagnostics renders the run's anomaly ledger as a table. Written to
// w so `run --stdout` keeps its CSV stream clean.
func printDiagnostics(w io.Writer, diag *model.Diagnostics) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tREAD\tKEPT\tMALFORMED\tUNRESOLVED\tEXCLUDED\tOUT_OF_WINDOW\tDEDUPED\tCOMPANIES")
	for _, name := range diag.SourceNames() {
		s := diag.Sources[name]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			s.Source, s.RowsRead, s.RowsKept, s.Malformed, s.Unresolved,
			s.Excluded, s.OutOfWindow, s.Deduplicated, s.Companies)
	}
	if err := tw.Flush(); err != nil {
		return eris.Wrap(err, "print diagnostics")
	}

	fmt.Fprintf(w, "\nreferential anomalies: %d", diag.ReferentialCount)
	if len(diag.ReferentialSample) > 0 {
		fmt.Fprintf(w, " (sample %v)", diag.ReferentialSample)
	}
	fmt.Fprintf(w, "\ninconsistent funnels: %d\n", diag.InconsistentFunnels)
	fmt.Fprintf(w, "pre-signup activity: %d\n", diag.PreSignupActivity)
	for _, stage := range slices.Sorted(maps.Keys(diag.UnknownByStage)) {
		fmt.Fprintf(w, "unknown at %s: %d\n", stage, diag.UnknownByStage[stage])
	}
	return nil
}

// writeOutputs materializes the dataset files named in config. An empty
// XLSX path skips the workbook.
func writeOutputs(ds *funnel.Dataset) error {
	if err := export.WriteCSV(ds, cfg.Output.CSV); err != nil {
		return eris.Wrap(err, "write csv")
	}
	if cfg.Output.XLSX != "" {
		if err := export.WriteXLSX(ds, cfg.Output.XLSX); err != nil {
			return eris.Wrap(err, "write xlsx")
		}
	}
	return nil
}
