package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stirandas/nfd-visualizations/internal/app"
	"github.com/stirandas/nfd-visualizations/internal/flows"
)

var (
	exportFrom        string
	exportTo          string
	exportPNGPath     string
	exportCSVPath     string
	exportParquetPath string
	exportJSONPath    string
	exportMaxPoints   int
	exportUpload      bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export flow snapshots as CSV, PNG chart, Parquet or JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath:     exportPNGPath,
			CSVPath:     exportCSVPath,
			ParquetPath: exportParquetPath,
			JSONPath:    exportJSONPath,
			MaxPoints:   exportMaxPoints,
			Upload:      exportUpload,
		}

		if exportFrom != "" {
			from, err := time.Parse(flows.DateLayout, exportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := time.Parse(flows.DateLayout, exportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "First trading date (YYYY-MM-DD, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Last trading date (YYYY-MM-DD, inclusive)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().StringVar(&exportParquetPath, "parquet", "", "Path to write Parquet data")
	exportCmd.Flags().StringVar(&exportJSONPath, "json", "", "Path to write the /data JSON snapshot")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum rows for CSV and chart (defaults to config)")
	exportCmd.Flags().BoolVar(&exportUpload, "s3", false, "Upload written files to export.s3.bucket")
}
