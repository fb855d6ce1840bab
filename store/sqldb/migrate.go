package sqldb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// RunMigrations applies all pending migrations of dialect to db, then closes
// the migrate instance. That also closes db, so db must be dedicated to the
// migration run.
func RunMigrations(db *sql.DB, dialect Dialect) error {
	defer db.Close()

	m, err := newMigrate(db, dialect)
	if err != nil {
		return err
	}
	defer m.Close()

	return up(m)
}

// migrateDatabase migrates the database behind pool.
//
// Postgres migrates on a short-lived pool of its own: the pgx migration
// driver pins one connection until the instance is closed. SQLite migrates
// on pool itself, since ":memory:" exists only on that connection; the
// instance is left open there because closing it would close pool, and the
// sqlite drivers hold nothing else.
func migrateDatabase(ctx context.Context, pool *sql.DB, dialect Dialect, dsn string) error {
	if dialect.IsSQLite() {
		m, err := newMigrate(pool, dialect)
		if err != nil {
			return err
		}
		return up(m)
	}

	db, err := sql.Open(dialect.Driver, connString(dialect, dsn))
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("connect for migrations: %w", err)
	}
	return RunMigrations(db, dialect)
}

func newMigrate(db *sql.DB, dialect Dialect) (*migrate.Migrate, error) {
	driver, err := migrationDriver(db, dialect)
	if err != nil {
		return nil, fmt.Errorf("create %s migration driver: %w", dialect.Name, err)
	}

	src, err := iofs.New(migrationsFS, dialect.Migrations)
	if err != nil {
		return nil, fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dialect.Name, driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return m, nil
}

func up(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func migrationDriver(db *sql.DB, dialect Dialect) (database.Driver, error) {
	switch dialect.Name {
	case SQLite3.Name:
		return sqlite3.WithInstance(db, &sqlite3.Config{})
	case SQLite.Name:
		return sqlite.WithInstance(db, &sqlite.Config{})
	case Postgres.Name:
		return pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	default:
		return nil, fmt.Errorf("no migration driver for %q", dialect.Name)
	}
}
