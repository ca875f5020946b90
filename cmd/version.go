package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/Huddle/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the Huddle version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "huddle", version.Version)
	},
}
