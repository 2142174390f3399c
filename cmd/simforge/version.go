package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// version is set via -ldflags at release time; falls back to VCS metadata
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the simforge version",
	Run: func(cmd *cobra.Command, args []string) {
		v := version
		if v == "dev" {
			if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
				v = info.Main.Version
			}
		}
		fmt.Printf("simforge %s\n", v)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
