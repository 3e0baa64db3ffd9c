package main

import (
	"fmt"

	"github.com/skellig/convoke/internal/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("convoke version %s\n", version.Get())
	},
}
