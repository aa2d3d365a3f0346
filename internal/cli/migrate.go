package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/changefeed"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the change feed database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runMigrate(cmd, true)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert all migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runMigrate(cmd, false)
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, up bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	res, err := changefeed.Migrate(cfg.Database.DSN(), up)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !res.Changed {
		fmt.Fprintln(out, "No migrations to apply")
	}
	fmt.Fprintf(out, "Schema version: %d (dirty: %t)\n", res.Version, res.Dirty)
	return nil
}
