package cli

import (
	"github.com/spf13/cobra"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show quota consumption against daily and monthly limits",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Usage(cmd.Context())
	},
}
