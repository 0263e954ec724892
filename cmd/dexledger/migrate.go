package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"DexLedger/internal/observability"
	"DexLedger/internal/persistence"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema for projections and the event archive",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator) error {
				return m.Up(ctx)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator) error {
				return m.Down(ctx)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List pending migrations",
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator) error {
				pending, err := m.Status(ctx)
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					fmt.Println("schema is up to date")
					return nil
				}
				for _, f := range pending {
					fmt.Println("pending:", f)
				}
				return nil
			}),
		},
	)
	return cmd
}

func withMigrator(run func(context.Context, *persistence.Migrator) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg := loadConfig()
		if cfg.PostgresDSN == "" {
			return errors.New("postgres_dsn is required")
		}
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		logger := observability.NewLoggerWithLevel("migrator", observability.ParseLogLevel(cfg.LogLevel))
		return run(cmd.Context(), persistence.NewMigrator(db, cfg.MigrationsDir, logger))
	}
}
