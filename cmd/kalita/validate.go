package main

import (
	"fmt"
	"os"

	"github.com/artpar/kalita/bootstrap"
	"github.com/artpar/kalita/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and schema before deployment",
	Long: `Validate the kalita configuration, schema modules and catalogs.

Checks:
  - Configuration is valid (file or KALITA_* environment)
  - Schema modules parse
  - References, catalogs and unique groups resolve

Storage is not opened.

Examples:
  kalita validate
  kalita validate --config /etc/kalita/config.yaml`,
	RunE: runValidate,
}

var validateVerbose bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVarP(&validateVerbose, "verbose", "v", false, "list every entity and catalog")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cmd.SilenceUsage = true

	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Configuration valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Configuration valid\n", checkMark)

	snap, issues, err := bootstrap.ValidateSchema(cfg.Schema)
	if err != nil {
		fmt.Fprintf(out, "  %s Schema parses\n", crossMark)
		return fmt.Errorf("schema error: %w", err)
	}
	fmt.Fprintf(out, "  %s Schema parses (%s)\n", checkMark, cfg.Schema.Dir)

	if len(issues) > 0 {
		fmt.Fprintf(out, "  %s Schema lint\n", crossMark)
		for _, issue := range issues {
			fmt.Fprintf(out, "      %s\n", issue)
		}
		return fmt.Errorf("%d schema issue(s)", len(issues))
	}
	fmt.Fprintf(out, "  %s Schema lint\n", checkMark)

	entities, catalogs := snap.Entities(), snap.Catalogs()
	fmt.Fprintf(out, "  %s Entities: %d\n", checkMark, len(entities))
	fmt.Fprintf(out, "  %s Catalogs: %d\n", checkMark, len(catalogs))
	if validateVerbose {
		for _, ent := range entities {
			fmt.Fprintf(out, "      %s (%d fields)\n", ent.FQN(), len(ent.Fields))
		}
		for _, cat := range catalogs {
			fmt.Fprintf(out, "      catalog %s (%d items)\n", cat.Name, len(cat.Items))
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Schema is valid.")
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
