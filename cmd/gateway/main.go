package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	serve := newServeCmd(&configPath)
	root := &cobra.Command{
		Use:           "gateway",
		Short:         "LLM gateway with a model inference response cache",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		// no subcommand: serve
		RunE: serve.RunE,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("GATEWAY_CONFIG"), "path to YAML config file")

	root.AddCommand(
		serve,
		newCacheKeyCmd(),
		newMigrateCmd(&configPath),
	)
	return root
}
