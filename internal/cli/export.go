package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"options-harvester/internal/app"
)

var (
	exportFamily  string
	exportFrom    string
	exportTo      string
	exportCSV     string
	exportParquet string
	exportPNG     string
	exportMaxRows int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored observations as CSV, Parquet and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Family:      exportFamily,
			CSVPath:     exportCSV,
			ParquetPath: exportParquet,
			PNGPath:     exportPNG,
			MaxRows:     exportMaxRows,
		}

		if exportFrom != "" {
			from, err := time.Parse("2006-01-02", exportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := time.Parse("2006-01-02", exportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFamily, "family", "index", "Instrument family: index or constituent")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start date (YYYY-MM-DD, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End date (YYYY-MM-DD, exclusive)")
	exportCmd.Flags().StringVar(&exportCSV, "csv", "", "Path to write CSV data")
	exportCmd.Flags().StringVar(&exportParquet, "parquet", "", "Path to write Parquet data")
	exportCmd.Flags().StringVar(&exportPNG, "png", "", "Path to write PNG overview chart")
	exportCmd.Flags().IntVar(&exportMaxRows, "max-rows", 0, "Maximum rows to export (defaults to config)")
}
