// Command dagent runs the document conversation orchestrator and talks to it.
//
//	dagent migrate
//	dagent serve --config config.yaml
//	dagent signal --conversation alice --query "summarize the deck" --pptx ./q3.pptx
//	dagent log --conversation alice
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "dagent",
		Short:        "Durable conversation orchestrator for PowerPoint and Excel documents",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")

	rootCmd.AddCommand(
		buildServeCmd(&configPath),
		buildSignalCmd(&configPath),
		buildLogCmd(&configPath),
		buildMigrateCmd(&configPath),
	)
	return rootCmd
}
