package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// migrationsTable is the bookkeeping table golang-migrate maintains.
const migrationsTable = "schema_migrations"

// MigrationsFS holds the SQL migration files. It is set by the migrations
// package so the files are compiled into the binary:
//
//	//go:embed *.sql
//	var migrationsFS embed.FS
//
//	func init() {
//	    database.MigrationsFS = migrationsFS
//	}
//
// Files follow golang-migrate naming: <version>_<name>.up.sql / .down.sql,
// with version written as YYYYMMDDHHMMSS.
var MigrationsFS fs.FS

// MigrationsDir is the directory within MigrationsFS containing migration files.
var MigrationsDir = "."

// ErrNoMigrations is returned by MigrateDown when nothing has been applied.
var ErrNoMigrations = errors.New("database: no migrations applied")

// MigrationStatus reports the schema version currently applied.
type MigrationStatus struct {
	// Version is the last applied migration version, 0 when none.
	Version uint

	// Dirty is true when a migration failed half-way and needs manual repair.
	Dirty bool
}

// Migrate applies all pending migrations in version order.
//
// golang-migrate runs each migration file in its own transaction, so a
// failure leaves earlier migrations committed and marks the schema dirty.
// Calling Migrate with no MigrationsFS registered is a no-op.
//
// Parameters:
//   - ctx: Context for cancellation (checked before starting)
//
// Returns:
//   - error: If any migration fails
func (db *DB) Migrate(ctx context.Context) error {
	if MigrationsFS == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m, err := db.newMigrator()
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
// This is primarily for development and testing.
func (db *DB) MigrateDown(ctx context.Context) error {
	if MigrationsFS == nil {
		return ErrNoMigrations
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m, err := db.newMigrator()
	if err != nil {
		return err
	}

	if err := m.Steps(-1); err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, migrate.ErrNilVersion) {
			return ErrNoMigrations
		}
		return fmt.Errorf("rolling back migration: %w", err)
	}
	return nil
}

// GetMigrationStatus returns the currently applied schema version.
func (db *DB) GetMigrationStatus(ctx context.Context) (MigrationStatus, error) {
	if MigrationsFS == nil {
		return MigrationStatus{}, nil
	}
	if err := ctx.Err(); err != nil {
		return MigrationStatus{}, err
	}

	m, err := db.newMigrator()
	if err != nil {
		return MigrationStatus{}, err
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return MigrationStatus{}, nil
	}
	if err != nil {
		return MigrationStatus{}, fmt.Errorf("reading migration version: %w", err)
	}
	return MigrationStatus{Version: version, Dirty: dirty}, nil
}

// newMigrator binds golang-migrate to this connection and the embedded files.
//
// The returned migrator is deliberately never closed: closing it closes the
// underlying *sql.DB, which the caller still owns.
func (db *DB) newMigrator() (*migrate.Migrate, error) {
	src, err := iofs.New(MigrationsFS, MigrationsDir)
	if err != nil {
		return nil, fmt.Errorf("loading migrations: %w", err)
	}

	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{
		MigrationsTable: migrationsTable,
	})
	if err != nil {
		return nil, fmt.Errorf("creating sqlite migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}
