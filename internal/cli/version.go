package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("nbssh %s (commit %s, built %s)\n", versionStr, commitStr, dateStr)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
