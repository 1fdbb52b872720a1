package migrations

import "github.com/uptrace/bun/migrate"

// Migrations holds every registered schema migration, applied in name order.
var Migrations = migrate.NewMigrations()
