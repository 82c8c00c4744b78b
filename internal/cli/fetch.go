package cli

import (
	"github.com/spf13/cobra"

	"options-harvester/internal/app"
)

var (
	fetchResume bool
	fetchDryRun bool
	fetchPolicy string
	fetchTopN   int
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Run one acquisition session over the configured universe",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Fetch(cmd.Context(), app.FetchOptions{
			Resume: fetchResume,
			DryRun: fetchDryRun,
			Policy: fetchPolicy,
			TopN:   fetchTopN,
		})
	},
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchResume, "resume", false, "Resume the interrupted session instead of starting fresh")
	fetchCmd.Flags().BoolVar(&fetchDryRun, "dry-run", false, "Print the target plan and cost estimate without fetching")
	fetchCmd.Flags().StringVar(&fetchPolicy, "policy", "", "Quota policy for this run: abort or skip (defaults to config)")
	fetchCmd.Flags().IntVar(&fetchTopN, "top-n", 0, "Limit constituents to the first N symbols (defaults to config)")
}
