package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stirandas/nfd-visualizations/internal/app"
)

var inspectSample int

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Describe the flow table and print sample rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		if inspectSample < 0 {
			return fmt.Errorf("--sample must not be negative")
		}
		return getApp().Inspect(cmd.Context(), app.InspectOptions{Sample: inspectSample})
	},
}

func init() {
	inspectCmd.Flags().IntVar(&inspectSample, "sample", 5, "Number of rows to print (0 disables)")
}
