package repository

import (
	"context"
	"embed"
	"io/fs"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS returns the migration files for this package.
func GetMigrationsFS() fs.FS {
	sub, err := fs.Sub(migrationsFS, "data/sql/migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migrate applies pending migrations and returns the names it applied.
func Migrate(ctx context.Context, db *bun.DB) ([]string, error) {
	migrations := migrate.NewMigrations()
	if err := migrations.Discover(GetMigrationsFS()); err != nil {
		return nil, err
	}

	migrator := migrate.NewMigrator(db, migrations)
	if err := migrator.Init(ctx); err != nil {
		return nil, err
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return nil, err
	}

	applied := make([]string, 0, len(group.Migrations))
	for _, m := range group.Migrations {
		applied = append(applied, m.Name)
	}
	return applied, nil
}
