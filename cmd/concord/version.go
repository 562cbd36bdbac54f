package main

import (
	"fmt"

	"github.com/aretw0/concord"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of concord",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("concord version %s\n", concord.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
