package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatlift/funnel-cli/internal/export"
)

var (
	exportCSVPath  string
	exportXLSXPath string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the latest archived dataset without re-running",
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

		runID, ds, err := st.LatestDataset(ctx)
		if err != nil {
			return err
		}
		if ds == nil {
			return eris.New("no completed run has archived a dataset yet")
		}

		csvPath := exportCSVPath
		if csvPath == "" {
			csvPath = cfg.Output.CSV
		}
		if csvPath == "-" {
			if err := export.WriteCSVTo(os.Stdout, ds); err != nil {
				return err
			}
		} else if err := export.WriteCSV(ds, csvPath); err != nil {
			return err
		}

		xlsxPath := exportXLSXPath
		if xlsxPath == "" {
			xlsxPath = cfg.Output.XLSX
		}
		if xlsxPath != "" {
			if err := export.WriteXLSX(ds, xlsxPath); err != nil {
				return err
			}
		}

		zap.L().Info("dataset exported",
			zap.String("run_id", runID),
			zap.Int("rows", len(ds.Rows)),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "CSV output path, or - for stdout (default from config)")
	exportCmd.Flags().StringVar(&exportXLSXPath, "xlsx", "", "XLSX output path (default from config)")
	rootCmd.AddCommand(exportCmd)
}
