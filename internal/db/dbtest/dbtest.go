// Package dbtest opens migrated in-memory SQLite databases for tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/terraconstructs/viewbridge/internal/db/bunx"
	"github.com/terraconstructs/viewbridge/internal/migrations"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// NewDB returns a private, fully migrated SQLite database closed at test end.
func NewDB(t testing.TB) *bun.DB {
	t.Helper()
	ctx := context.Background()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := bunx.NewDB(ctx, dsn, bunx.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bunx.Close(db) })

	migrator := migrate.NewMigrator(db, migrations.Migrations)
	require.NoError(t, migrator.Init(ctx))
	_, err = migrator.Migrate(ctx)
	require.NoError(t, err)

	return db
}
