// Package cmd implements dsyncctl's cobra command tree: a thin HTTP
// client over a running dsyncd's internal/statusapi endpoint.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var addr string

var rootCmd = &cobra.Command{
	Use:   "dsyncctl",
	Short: "Inspect a running dsyncd daemon",
	Long: `dsyncctl talks to a dsyncd daemon's status endpoint to report
replication progress without needing shell access to the host it runs on.`,
}

// Execute runs the command tree; it is dsyncctl's main entry point.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "http://localhost:7654", "dsyncd status endpoint base URL")
}
