package main

import (
	"fmt"

	"github.com/artpar/kalita/bootstrap"
	"github.com/artpar/kalita/config"
	"github.com/spf13/cobra"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the kalita HTTP server.

The server will:
  - Load configuration from kalita.yaml (or --config)
  - Or load configuration from KALITA_* environment variables
  - Load and lint the schema modules and catalogs
  - Open the record store
  - Serve the record API, OpenAPI document and metrics

Environment variables (for Docker deployments):
  KALITA_SCHEMA_DIR        - Schema module directory (required without a config file)
  KALITA_SCHEMA_CATALOG_DIR - Catalog directory (default: sibling "catalogs")
  KALITA_STORAGE_DRIVER    - memory or sqlite
  KALITA_STORAGE_DSN       - SQLite database path (default: kalita.db)
  KALITA_SERVER_PORT       - Server port (default: 8080)
  KALITA_LOG_LEVEL         - Log level: debug, info, warn, error

Examples:
  kalita serve
  kalita serve --config /etc/kalita/config.yaml
  kalita serve --hot-reload=false

  # Docker (env vars only):
  KALITA_SCHEMA_DIR=/schemas kalita serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "reload configuration on file change or SIGHUP")
}

func runServe(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	hasConfigFile := fileExists(cfgFile)

	if !hasConfigFile && !config.HasEnvConfig() {
		fmt.Fprintln(out, "No configuration found.")
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Option 1: Create %s with a schema.dir entry\n", cfgFile)
		fmt.Fprintln(out, "Option 2: Set the KALITA_SCHEMA_DIR environment variable")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Example (env vars):")
		fmt.Fprintln(out, "  KALITA_SCHEMA_DIR=./schemas kalita serve")
		return nil
	}
	if !hasConfigFile {
		fmt.Fprintln(out, "Running with environment variables (no config file)")
	}

	app, err := bootstrap.New(bootstrap.Options{
		ConfigPath: cfgFile,
		HotReload:  hotReload,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	cmd.SilenceUsage = true
	// Run (blocks until shutdown)
	return app.Run(cmd.Context())
}
