package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cascade",
	Short: "Cascade - a multi-scale graph activation engine",
	Long: `Cascade runs energy diffusion, entity aggregation, and learned
traversal over a weighted directed graph, held near criticality by a
feedback controller.`,
}

func Execute() error {
	return rootCmd.Execute()
}
