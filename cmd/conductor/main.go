package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fentz26/conductor/internal/config"
	"github.com/fentz26/conductor/internal/controlplane"
)

// version is set at build time.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "conductor",
	Short:         "conductor - multi-agent process orchestrator",
	Long:          `conductor starts a layered fleet of worker processes, keeps it healthy, and plans requests across domain workers in dependency order.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		controlplane.Version = version
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		if apiAddr == "" {
			apiAddr = "http://" + cfg.Listen
		}
		return nil
	},
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	configPath string
	apiAddr    string
	cfg        *config.Config
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.config/conductor/config.yaml merged with .conductor.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "", "Coordinator API address (default: http://<listen>)")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorLabel(), err)
		os.Exit(1)
	}
}
