package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version and Commit are set via -ldflags at build time, mirroring
// dsyncd's own version/commit package vars.
var (
	Version = "version-undefined"
	Commit  = "commit-undefined"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print dsyncctl's version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("dsyncctl %s (%s)\n", Version, Commit)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
