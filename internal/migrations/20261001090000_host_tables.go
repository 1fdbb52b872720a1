package migrations

import (
	"context"
	"fmt"

	"github.com/terraconstructs/viewbridge/internal/db/models"
	"github.com/terraconstructs/viewbridge/internal/host/bunadapter"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20261001090000, down_20261001090000)
}

// up_20261001090000 creates the host account, session, project and access rule tables
func up_20261001090000(ctx context.Context, db *bun.DB) error {
	tables := []struct {
		name  string
		model any
	}{
		{"accounts", (*models.Account)(nil)},
		{"host_sessions", (*models.HostSession)(nil)},
		{"projects", (*models.Project)(nil)},
		{"access_rules", (*bunadapter.AccessRule)(nil)},
	}

	for _, t := range tables {
		fmt.Printf(" [up] creating %s table...", t.name)
		if _, err := db.NewCreateTable().Model(t.model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create %s table: %w", t.name, err)
		}
		fmt.Println(" OK")
	}

	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_host_sessions_account ON host_sessions(account_id)`); err != nil {
		return fmt.Errorf("failed to create host_sessions account index: %w", err)
	}

	// SQLite cannot add constraints to an existing table
	if IsPostgreSQL(db) {
		_, err := db.ExecContext(ctx, `
			ALTER TABLE host_sessions
			ADD CONSTRAINT fk_host_sessions_account
			FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
		`)
		if err != nil {
			return fmt.Errorf("failed to add host_sessions account FK: %w", err)
		}
	}

	return nil
}

// down_20261001090000 drops the host tables
func down_20261001090000(ctx context.Context, db *bun.DB) error {
	for _, m := range []any{
		(*bunadapter.AccessRule)(nil),
		(*models.Project)(nil),
		(*models.HostSession)(nil),
		(*models.Account)(nil),
	} {
		if _, err := db.NewDropTable().Model(m).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}
	fmt.Println(" [down] dropped host tables OK")
	return nil
}
