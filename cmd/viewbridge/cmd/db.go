package cmd

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/terraconstructs/viewbridge/internal/db/bunx"
	"github.com/terraconstructs/viewbridge/internal/migrations"
	"github.com/uptrace/bun/migrate"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management commands",
	Long:  `Commands for managing the host store schema.`,
}

var dbInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize migration tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), false, func(ctx context.Context, m *migrate.Migrator) error {
			if err := m.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize migrator: %w", err)
			}
			log.Info("migration tables initialized")
			return nil
		})
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	Long:  `Creates the migration tables if needed and applies every pending migration under the migration lock.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), true, func(ctx context.Context, m *migrate.Migrator) error {
			group, err := m.Migrate(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			if group.IsZero() {
				log.Info("no new migrations to apply")
			} else {
				log.WithField("group", group.ID).Infof("applied %s", group)
			}
			return nil
		})
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), false, func(ctx context.Context, m *migrate.Migrator) error {
			ms, err := m.MigrationsWithStatus(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			for _, mg := range ms {
				status := "pending"
				if mg.GroupID > 0 {
					status = fmt.Sprintf("applied (group %d)", mg.GroupID)
				}
				fmt.Printf("%s\t%s\n", mg.Name, status)
			}
			if unapplied := ms.Unapplied(); len(unapplied) > 0 {
				log.WithField("count", len(unapplied)).Warn("pending migrations")
			}
			return nil
		})
	},
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back the last migration group",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), true, func(ctx context.Context, m *migrate.Migrator) error {
			group, err := m.Rollback(ctx)
			if err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}
			if group.IsZero() {
				log.Info("no migrations to roll back")
			} else {
				log.WithField("group", group.ID).Infof("rolled back %s", group)
			}
			return nil
		})
	},
}

// withMigrator opens the configured database and runs fn. Mutating
// operations hold the migration lock so concurrent deploys serialize.
func withMigrator(ctx context.Context, lock bool, fn func(context.Context, *migrate.Migrator) error) error {
	db, err := bunx.NewDB(ctx, cfg.DatabaseURL, bunx.Options{MaxConns: cfg.MaxDBConnections})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer bunx.Close(db)

	migrator := migrate.NewMigrator(db, migrations.Migrations)
	if !lock {
		return fn(ctx, migrator)
	}

	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize migrator: %w", err)
	}
	if err := migrator.Lock(ctx); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer func() {
		if err := migrator.Unlock(ctx); err != nil {
			log.WithError(err).Warn("failed to release migration lock")
		}
	}()
	return fn(ctx, migrator)
}

func init() {
	dbCmd.AddCommand(dbInitCmd)
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbRollbackCmd)
	rootCmd.AddCommand(dbCmd)
}
