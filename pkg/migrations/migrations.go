package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

const (
	tableName      = "booknest_migrations"
	locksTableName = "booknest_migration_locks"
)

var Migrations = migrate.NewMigrations()

// NewMigrator returns a migrator over the registered migrations. A migration
// is only marked applied once it succeeded.
func NewMigrator(db *bun.DB) *migrate.Migrator {
	return migrate.NewMigrator(db, Migrations,
		migrate.WithTableName(tableName),
		migrate.WithLocksTableName(locksTableName),
		migrate.WithMarkAppliedOnSuccess(true),
	)
}

// BringUpToDate creates the migration tables when needed and applies every
// pending migration under the migration lock.
func BringUpToDate(ctx context.Context, db *bun.DB) (*migrate.MigrationGroup, error) {
	migrator := NewMigrator(db)
	if err := migrator.Init(ctx); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := migrator.Lock(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to take the migration lock")
	}
	defer migrator.Unlock(ctx) //nolint:errcheck

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return group, nil
}
