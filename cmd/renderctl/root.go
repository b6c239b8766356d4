package main

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "renderctl",
	Short: "Diagnostics harness for the Lectern page render core",
	Long: `renderctl exercises the Lectern render core outside the viewer:
the decode worker pool, the bounded page cache, spread composition and
in-document search, all against a synthetic codec.

It exists to measure and debug the pipeline, not to render real books.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./render.yaml or ~/.lectern/render.yaml)",
	)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(benchCmd)
}
