package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/zenforge"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of zen",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "zen version %s\n", strings.TrimSpace(zenforge.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
