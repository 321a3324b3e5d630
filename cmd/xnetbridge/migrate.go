package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nerrad567/xnet-bridge/internal/infrastructure/database"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long: `migrate applies every pending schema migration and prints the resulting status.
With --down the most recent migration is rolled back instead. With --status
nothing is changed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			down, _ := cmd.Flags().GetBool("down")
			statusOnly, _ := cmd.Flags().GetBool("status")

			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, err := database.Open(database.Config{
				Path:        cfg.Database.Path,
				WALMode:     cfg.Database.WALMode,
				BusyTimeout: cfg.Database.BusyTimeout,
			})
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()

			ctx := cmd.Context()
			switch {
			case statusOnly:
			case down:
				if err := db.MigrateDown(ctx); err != nil {
					return fmt.Errorf("rolling back migration: %w", err)
				}
			default:
				if err := db.Migrate(ctx); err != nil {
					return fmt.Errorf("running migrations: %w", err)
				}
			}

			status, err := db.MigrationStatus(ctx)
			if err != nil {
				return fmt.Errorf("reading migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
	cmd.Flags().Bool("down", false, "roll back the most recent migration")
	cmd.Flags().Bool("status", false, "only print which migrations are applied")
	cmd.MarkFlagsMutuallyExclusive("down", "status")
	return cmd
}

func printMigrationStatus(w io.Writer, s database.Status) {
	for _, m := range s.Applied {
		fmt.Fprintf(w, "applied  %s  %s\n", m.Version, m.AppliedAt.UTC().Format("2006-01-02 15:04:05"))
	}
	for _, m := range s.Pending {
		fmt.Fprintf(w, "pending  %s  %s\n", m.Version, m.Name)
	}
	if len(s.Applied) == 0 && len(s.Pending) == 0 {
		fmt.Fprintln(w, "no migrations")
	}
}
