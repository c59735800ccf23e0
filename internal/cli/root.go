// Package cli wires the nbssh command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	versionStr = "dev"
	commitStr  = "none"
	dateStr    = "unknown"

	configFlag string
)

var rootCmd = &cobra.Command{
	Use:   "nbssh",
	Short: "Single-host non-blocking SSH session client",
	Long: `nbssh connects to one remote host, authenticates via agent, key
file, or password, runs commands over a managed execution channel, and
streams output back line by line.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// SetVersionInfo records build-time version metadata.
func SetVersionInfo(version, commit, date string) {
	versionStr = version
	commitStr = commit
	dateStr = date
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "",
		"path to config file (default ~/.config/nbssh/config.yaml)")
}
