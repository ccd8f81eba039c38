// Package app provides the command-line surface for the mesh gateway.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/decocms/mesh/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "mesh-gateway",
	DisableAutoGenTag: true,
	Short:             "Multi-tenant gateway for downstream MCP connections",
	Long: `mesh-gateway authenticates callers (OAuth sessions, scoped API keys,
browser sessions), enforces per-tool and per-connection authorization, and
proxies list-tools / call-tool requests to registered downstream MCP
endpoints. Downstream credentials are encrypted at rest and short-lived
delegated credentials are minted per call.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.InitializeWithOptions(viper.GetBool("debug"))
	},
}

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		Long: `Start the gateway HTTP server. Configuration is read from MESH_*
environment variables; MESH_VAULT_KEY is required.`,
		RunE: runServe,
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			logger.Infof("mesh-gateway version: %s", version)
		},
	}
}

// version is injected at build time.
var version = "dev"
