package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/chatlift/funnel-cli/internal/export"
)

var runStdout bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one funnel reconciliation over the local extracts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("run"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		run, res, err := executeRun(ctx, st, "cli")
		if err != nil {
			return err
		}

		if runStdout {
			if err := export.WriteCSVTo(os.Stdout, res.Dataset); err != nil {
				return err
			}
		} else if err := writeOutputs(res.Dataset); err != nil {
			return err
		}

		if err := printDiagnostics(os.Stderr, res.Diagnostics); err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stderr)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runStdout, "stdout", false, "write the dataset CSV to stdout instead of the configured files")
	rootCmd.AddCommand(runCmd)
}
