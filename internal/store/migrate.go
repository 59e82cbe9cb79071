// Package store persists per-package and aggregate build reports (C7),
// using golang-migrate for schema versioning and gorm for reads/writes.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// MigrationConfig holds configuration for the migration runner.
type MigrationConfig struct {
	DatabaseURL    string
	DatabaseType   string // "postgres" or "sqlite"
	MigrationsPath string
	Logger         *log.Logger
}

// MigrationRunner applies versioned schema migrations before the report
// store accepts reads or writes.
type MigrationRunner struct {
	config   *MigrationConfig
	migrate  *migrate.Migrate
	db       *sql.DB
	dbDriver string
}

// MigrationStatus reports the current schema version.
type MigrationStatus struct {
	Version uint
	Dirty   bool
	Applied bool
}

// NewMigrationRunner opens the database and prepares the migration source.
func NewMigrationRunner(config *MigrationConfig) (*MigrationRunner, error) {
	if config == nil {
		return nil, errors.New("migration config is required")
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stdout, "[store/migrate] ", log.LstdFlags)
	}
	if config.MigrationsPath == "" {
		config.MigrationsPath = "internal/store/migrations"
	}

	runner := &MigrationRunner{config: config, dbDriver: config.DatabaseType}
	if err := runner.initialize(); err != nil {
		return nil, err
	}
	return runner, nil
}

func (r *MigrationRunner) initialize() error {
	var err error
	var driver database.Driver

	switch r.dbDriver {
	case "postgres", "postgresql":
		r.db, err = sql.Open("postgres", r.config.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		driver, err = postgres.WithInstance(r.db, &postgres.Config{})
		if err != nil {
			return fmt.Errorf("postgres driver: %w", err)
		}
		r.dbDriver = "postgres"

	case "sqlite", "sqlite3", "":
		r.db, err = sql.Open("sqlite", r.config.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		driver, err = sqlite3.WithInstance(r.db, &sqlite3.Config{})
		if err != nil {
			return fmt.Errorf("sqlite driver: %w", err)
		}
		r.dbDriver = "sqlite3"

	default:
		return fmt.Errorf("unsupported database type: %s", r.dbDriver)
	}

	sourceURL := fmt.Sprintf("file://%s", r.config.MigrationsPath)
	r.migrate, err = migrate.NewWithDatabaseInstance(sourceURL, r.dbDriver, driver)
	if err != nil {
		return fmt.Errorf("migration instance: %w", err)
	}
	return nil
}

// RunMigrations applies all pending migrations, treating "no change" as success.
func (r *MigrationRunner) RunMigrations() error {
	r.config.Logger.Println("running report store migrations")
	if err := r.migrate.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			r.config.Logger.Println("no migrations to apply")
			return nil
		}
		return fmt.Errorf("migrate up: %w", err)
	}
	version, dirty, _ := r.migrate.Version()
	r.config.Logger.Printf("migrations applied, version=%d dirty=%v", version, dirty)
	return nil
}

// Version reports the current schema version.
func (r *MigrationRunner) Version() (MigrationStatus, error) {
	version, dirty, err := r.migrate.Version()
	status := MigrationStatus{Version: version, Dirty: dirty, Applied: version > 0}
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return MigrationStatus{}, nil
		}
		return status, err
	}
	return status, nil
}

// RollbackMigration rolls back the single most recently applied migration.
func (r *MigrationRunner) RollbackMigration() error {
	if err := r.migrate.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// RollbackAll rolls back every applied migration, in reverse order.
func (r *MigrationRunner) RollbackAll() error {
	if err := r.migrate.Down(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("rollback all: %w", err)
	}
	return nil
}

// MigrateToVersion migrates up or down to the exact schema version given.
func (r *MigrationRunner) MigrateToVersion(version uint) error {
	if err := r.migrate.Migrate(version); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("migrate to version %d: %w", version, err)
	}
	return nil
}

// Force sets the recorded schema version without running any migration,
// for recovering from a dirty state left by a failed migration.
func (r *MigrationRunner) Force(version int) error {
	if err := r.migrate.Force(version); err != nil {
		return fmt.Errorf("force version %d: %w", version, err)
	}
	return nil
}

// Close releases the migration source and database connection.
func (r *MigrationRunner) Close() error {
	if r.migrate == nil {
		return nil
	}
	srcErr, dbErr := r.migrate.Close()
	if srcErr != nil {
		return fmt.Errorf("close source: %w", srcErr)
	}
	if dbErr != nil {
		return fmt.Errorf("close database: %w", dbErr)
	}
	return nil
}
