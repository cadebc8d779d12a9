package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// migrateCmd manages the database schema
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
	Long: `Apply or roll back the embedded schema migrations.

Available subcommands:
  up     - Apply every pending migration
  down   - Roll back the most recent migration
  status - List migrations and whether they are applied`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	Args:  cobra.NoArgs,
	RunE:  runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	Args:  cobra.NoArgs,
	RunE:  runMigrateDown,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether they are applied",
	Args:  cobra.NoArgs,
	RunE:  runMigrateStatus,
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	return withBackend(ctx, func(b *backend) error {
		if b.migrator == nil {
			return errNoMigrator
		}
		applied, err := b.migrator.Migrate(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
		return nil
	})
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	return withBackend(ctx, func(b *backend) error {
		if b.migrator == nil {
			return errNoMigrator
		}
		if err := b.migrator.Rollback(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "rolled back the latest migration")
		return nil
	})
}

func runMigrateStatus(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	return withBackend(ctx, func(b *backend) error {
		if b.migrator == nil {
			return errNoMigrator
		}
		migrations, err := b.migrator.Status(ctx)
		if err != nil {
			return err
		}

		t := newTable(cmd.OutOrStdout(), "VERSION", "NAME", "APPLIED")
		for _, m := range migrations {
			applied := "no"
			if m.IsApplied {
				applied = m.AppliedAt.UTC().Format("2006-01-02 15:04:05")
			}
			t.row(strconv.Itoa(m.Version), m.Name, applied)
		}
		return t.flush()
	})
}
