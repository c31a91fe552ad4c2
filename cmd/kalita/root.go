package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kalita",
	Short: "Schema-driven record service with referential integrity",
	Long: `Kalita serves CRUD, query and integrity-checked writes for entities
declared in YAML schema modules.

Quick start:
  kalita validate   # Lint schema modules and catalogs
  kalita serve      # Start the HTTP server

Records:
  kalita records list shop.customer
  kalita records create shop.customer --set name=Ada`,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "kalita.yaml", "config file path")
}
