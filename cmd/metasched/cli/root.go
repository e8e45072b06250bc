// Package cli implements metasched's command-line interface using cobra,
// the way firestige-Otus structures its cmd package: one file per
// subcommand, a shared root with persistent flags.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	configFile string
	graphFile  string
	dryRun     bool
)

var rootCmd = &cobra.Command{
	Use:   "metasched",
	Short: "Cycling workflow metascheduler",
	Long: `metasched is a dependency-driven cycling workflow metascheduler: it
advances a population of task proxies through a lifecycle state machine in
response to external completion messages and the passage of time, spawning
successor instances across cycles and retiring proxies that can no longer
satisfy any live dependency.`,
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "suite.yaml", "suite configuration file path")
	rootCmd.PersistentFlags().StringVarP(&graphFile, "graph", "g", "graph.txt", "dependency graph file path")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "submit through the dummy launcher, never spawning real processes")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(dumpStateCmd)
}
