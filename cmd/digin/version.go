package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/steveyegge/digin/internal/types"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the digin version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("digin %s (%s, %s/%s)\n", types.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
