// Package cmd defines the ragserver command line interface.
package cmd

import "github.com/spf13/cobra"

var configFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ragserver",
		Short:         "Multi-tenant document ingestion and retrieval service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}
