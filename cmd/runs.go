package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatlift/funnel-cli/internal/model"
	"github.com/chatlift/funnel-cli/internal/monitoring"
	"github.com/chatlift/funnel-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect reconciliation run history",
	Long:  "Commands for listing, viewing, and health-checking reconciliation runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reconciliation runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		since, _ := cmd.Flags().GetDuration("since")

		filter := store.RunFilter{
			Status: model.RunStatus(status),
			Limit:  limit,
		}
		if since > 0 {
			filter.Since = time.Now().UTC().Add(-since)
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTRIGGER\tSTATUS\tSTARTED\tTOOK\tCOMPANIES\tEXCLUDED")
		for i := range runs {
			r := &runs[i]
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
				r.ID, r.Trigger, r.Status,
				r.StartedAt.Format(time.RFC3339),
				r.Duration().Round(time.Millisecond),
				r.Companies, r.Excluded)
		}
		return w.Flush()
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its diagnostics ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs health --

var runsHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Evaluate run health against the monitor thresholds",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx, cfg.Monitor.LookbackHours)
		if err != nil {
			return err
		}
		alerts := monitoring.NewAlerter(cfg.Monitor).Evaluate(snap)

		out := struct {
			Metrics *monitoring.MetricsSnapshot `json:"metrics"`
			Alerts  []monitoring.Alert          `json:"alerts"`
		}{snap, alerts}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by status (running|completed|failed)")
	runsListCmd.Flags().Int("limit", 20, "max runs to list")
	runsListCmd.Flags().Duration("since", 0, "only runs started within this duration")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsHealthCmd)
	rootCmd.AddCommand(runsCmd)
}
