/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
	"github.com/sweetcrumb/accounts/config"
	"github.com/sweetcrumb/accounts/internal/db"
)

var migrationsURL string

// migrateCmd represents the migrate command.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all up migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigration(func(m *migrate.Migrate) error { return m.Up() })
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigration(func(m *migrate.Migrate) error { return m.Steps(-1) })
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.PersistentFlags().StringVar(&migrationsURL, "source", "file://internal/db/migrations", "migration source URL")
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

func runMigration(step func(*migrate.Migrate) error) error {
	cfg := config.LoadConfig()

	migrator, err := migrate.New(migrationsURL, db.DSN(cfg.Database))
	if err != nil {
		return fmt.Errorf("init migrator failed: %w", err)
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := step(migrator); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("migrate failed: %w", err)
	}
	return nil
}
