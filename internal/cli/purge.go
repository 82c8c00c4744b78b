package cli

import (
	"github.com/spf13/cobra"

	"options-harvester/internal/app"
)

var (
	purgeFamily    string
	purgeOlderThan int
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete stored observations older than a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Purge(cmd.Context(), app.PurgeOptions{
			Family:        purgeFamily,
			OlderThanDays: purgeOlderThan,
		})
	},
}

func init() {
	purgeCmd.Flags().StringVar(&purgeFamily, "family", "all", "Instrument family: index, constituent or all")
	purgeCmd.Flags().IntVar(&purgeOlderThan, "older-than-days", 0, "Delete rows observed more than this many days ago")
}
