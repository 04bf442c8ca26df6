package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/castmatch/castmatch-server/internal/infrastructure/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration commands",
	Long:  `Apply or roll back the SQL migrations bundled with the service.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE:  runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE:  runMigrateDown,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the applied migration version",
	RunE:  runMigrateStatus,
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)

	migrateCmd.PersistentFlags().String("dsn", "", "Postgres DSN (default: $DB_POSTGRESQL_WRITE_DSN)")
	migrateDownCmd.Flags().Int("steps", 1, "Number of migrations to roll back")
}

func resolveDSN(cmd *cobra.Command) (string, error) {
	dsn, _ := cmd.Flags().GetString("dsn")
	if strings.TrimSpace(dsn) == "" {
		dsn = os.Getenv("DB_POSTGRESQL_WRITE_DSN")
	}
	if strings.TrimSpace(dsn) == "" {
		return "", errors.New("no database DSN: pass --dsn or set DB_POSTGRESQL_WRITE_DSN")
	}
	return dsn, nil
}

func openMigrator(cmd *cobra.Command) (*database.Migrator, error) {
	dsn, err := resolveDSN(cmd)
	if err != nil {
		return nil, err
	}
	return database.NewMigrator(dsn)
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	m, err := openMigrator(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		return err
	}
	return printVersion(cmd, m)
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	steps, _ := cmd.Flags().GetInt("steps")

	m, err := openMigrator(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Down(steps); err != nil {
		return err
	}
	return printVersion(cmd, m)
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	m, err := openMigrator(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	files, err := database.MigrationFiles()
	if err != nil {
		return err
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		for _, name := range files {
			fmt.Fprintln(cmd.OutOrStdout(), "  "+name)
		}
	}
	return printVersion(cmd, m)
}

func printVersion(cmd *cobra.Command, m *database.Migrator) error {
	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version: %d dirty: %t\n", version, dirty)
	return nil
}
