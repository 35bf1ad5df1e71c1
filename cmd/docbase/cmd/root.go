// Package cmd provides the CLI commands for docbase.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/docbase-ai/docbase/pkg/version"
)

var (
	cfgPath   string
	tenantArg string
	debugMode bool
)

// NewRootCmd creates the root command for the docbase CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docbase",
		Short: "Hybrid keyword and vector retrieval over tenant document drives",
		Long: `Docbase maintains per-tenant TF-IDF and vector indexes over a document
drive and answers hybrid queries: a keyword pre-filter narrows the candidate
set, then cosine similarity over embeddings refines and ranks it.

Tenants are addressed as <user>_<org>_<app>.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("docbase version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "docbase.yaml", "Path to the configuration file")
	cmd.PersistentFlags().StringVar(&tenantArg, "tenant", "", "Tenant as <user>_<org>_<app>")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
