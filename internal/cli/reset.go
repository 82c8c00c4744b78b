package cli

import (
	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Abandon the current session and start a fresh session id",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ResetSession(cmd.Context())
	},
}
