package migrations

import (
	"context"
	"fmt"

	"github.com/terraconstructs/viewbridge/internal/host/bunadapter"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20261001090001, down_20261001090001)
}

// defaultRules lets signed-in users browse and clone every project. Anonymous
// access and push rights are granted explicitly per project.
var defaultRules = []*bunadapter.AccessRule{
	bunadapter.NewAccessRule("p", []string{"group:registered-users", "project:*", "read", "", "allow"}),
	bunadapter.NewAccessRule("p", []string{"group:registered-users", "project:*", "upload-pack", "", "allow"}),
	bunadapter.NewAccessRule("p", []string{"group:registered-users", "ref:*", "read", "", "allow"}),
}

func up_20261001090001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] seeding default access rules...")
	for _, r := range defaultRules {
		if _, err := db.NewInsert().Model(r).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("failed to seed access rule %v: %w", r.Values(), err)
		}
	}
	fmt.Println(" OK")
	return nil
}

func down_20261001090001(ctx context.Context, db *bun.DB) error {
	for _, r := range defaultRules {
		if _, err := db.NewDelete().Model(r).WherePK().Exec(ctx); err != nil {
			return fmt.Errorf("failed to remove seeded access rule %v: %w", r.Values(), err)
		}
	}
	return nil
}
