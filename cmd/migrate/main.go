// Command migrate manages the report store's schema migrations.
//
// Usage:
//
//	go run cmd/migrate/main.go up           # Apply all pending migrations
//	go run cmd/migrate/main.go down         # Rollback last migration
//	go run cmd/migrate/main.go down-all     # Rollback all migrations
//	go run cmd/migrate/main.go version      # Show current migration version
//	go run cmd/migrate/main.go to N         # Migrate to specific version N
//	go run cmd/migrate/main.go force N      # Force version to N (fix dirty state)
//	go run cmd/migrate/main.go create NAME  # Create new migration files
package main

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"buildforge/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			log.Println("No .env file found, using environment variables")
		}
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	dbURL, dbType := getDatabaseConfig()
	migrationsPath := getMigrationsPath()

	log.Printf("Database type: %s", dbType)
	log.Printf("Migrations path: %s", migrationsPath)

	config := &store.MigrationConfig{
		DatabaseURL:    dbURL,
		DatabaseType:   dbType,
		MigrationsPath: migrationsPath,
	}

	switch command {
	case "up":
		runUp(config)
	case "down":
		runDown(config)
	case "down-all":
		runDownAll(config)
	case "version":
		showVersion(config)
	case "to":
		if len(os.Args) < 3 {
			log.Fatal("Usage: migrate to <version>")
		}
		version, err := strconv.ParseUint(os.Args[2], 10, 32)
		if err != nil {
			log.Fatalf("Invalid version number: %s", os.Args[2])
		}
		runTo(config, uint(version))
	case "force":
		if len(os.Args) < 3 {
			log.Fatal("Usage: migrate force <version>")
		}
		version, err := strconv.Atoi(os.Args[2])
		if err != nil {
			log.Fatalf("Invalid version number: %s", os.Args[2])
		}
		runForce(config, version)
	case "create":
		if len(os.Args) < 3 {
			log.Fatal("Usage: migrate create <migration_name>")
		}
		createMigration(migrationsPath, os.Args[2])
	case "help":
		printUsage()
	default:
		log.Printf("Unknown command: %s", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`
buildforge report store migration tool

Usage:
  migrate <command> [arguments]

Commands:
  up              Apply all pending migrations
  down            Rollback the last migration
  down-all        Rollback all migrations (WARNING: deletes all data!)
  version         Show current migration version
  to <N>          Migrate to specific version N
  force <N>       Force version to N (use to fix dirty state)
  create <name>   Create new migration files
  help            Show this help message

Environment Variables:
  BUILDFORGE_DB_DSN    Database connection string or sqlite file path
  BUILDFORGE_DB_TYPE   "postgres" or "sqlite" (default: sqlite)
  MIGRATIONS_PATH      Override the migrations directory

Examples:
  go run cmd/migrate/main.go up
  go run cmd/migrate/main.go down
  go run cmd/migrate/main.go version
  go run cmd/migrate/main.go create add_audit_column
  go run cmd/migrate/main.go force 1
`)
}

func getDatabaseConfig() (string, string) {
	if dbType := os.Getenv("BUILDFORGE_DB_TYPE"); dbType != "" {
		dsn := os.Getenv("BUILDFORGE_DB_DSN")
		if dsn == "" {
			dsn = "buildforge.db"
		}
		return dsn, dbType
	}

	databaseURL := os.Getenv("BUILDFORGE_DB_DSN")
	if databaseURL == "" {
		return "buildforge.db", "sqlite"
	}

	u, err := url.Parse(databaseURL)
	if err == nil {
		switch u.Scheme {
		case "postgres", "postgresql":
			return databaseURL, "postgres"
		case "sqlite", "sqlite3":
			return strings.TrimPrefix(databaseURL, u.Scheme+"://"), "sqlite"
		}
	}
	return databaseURL, "sqlite"
}

func getMigrationsPath() string {
	if path := os.Getenv("MIGRATIONS_PATH"); path != "" {
		return path
	}

	cwd, err := os.Getwd()
	if err == nil {
		candidates := []string{
			filepath.Join(cwd, "internal", "store", "migrations"),
			filepath.Join(cwd, "..", "internal", "store", "migrations"),
		}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}

	return "internal/store/migrations"
}

func runUp(config *store.MigrationConfig) {
	log.Println("Applying all pending migrations...")

	runner, err := store.NewMigrationRunner(config)
	if err != nil {
		log.Fatalf("Failed to create migration runner: %v", err)
	}
	defer runner.Close()

	if err := runner.RunMigrations(); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Println("All migrations applied successfully!")
}

func runDown(config *store.MigrationConfig) {
	log.Println("Rolling back last migration...")

	runner, err := store.NewMigrationRunner(config)
	if err != nil {
		log.Fatalf("Failed to create migration runner: %v", err)
	}
	defer runner.Close()

	if err := runner.RollbackMigration(); err != nil {
		log.Fatalf("Rollback failed: %v", err)
	}

	log.Println("Rollback completed successfully!")
}

func runDownAll(config *store.MigrationConfig) {
	log.Println("WARNING: This will rollback ALL migrations and delete all data!")
	log.Println("Press Ctrl+C within 5 seconds to cancel...")

	time.Sleep(5 * time.Second)

	runner, err := store.NewMigrationRunner(config)
	if err != nil {
		log.Fatalf("Failed to create migration runner: %v", err)
	}
	defer runner.Close()

	if err := runner.RollbackAll(); err != nil {
		log.Fatalf("Rollback all failed: %v", err)
	}

	log.Println("All migrations rolled back!")
}

func showVersion(config *store.MigrationConfig) {
	runner, err := store.NewMigrationRunner(config)
	if err != nil {
		log.Fatalf("Failed to create migration runner: %v", err)
	}
	defer runner.Close()

	status, err := runner.Version()
	if err != nil {
		log.Fatalf("Failed to get version: %v", err)
	}

	fmt.Println("Current Migration Status:")
	fmt.Printf("  Version: %d\n", status.Version)
	fmt.Printf("  Dirty:   %v\n", status.Dirty)
	fmt.Printf("  Applied: %v\n", status.Applied)

	if status.Dirty {
		fmt.Println("\nWARNING: Database is in dirty state!")
		fmt.Println("This usually means a migration failed halfway.")
		fmt.Printf("Use 'migrate force %d' to fix, then retry.\n", status.Version-1)
	}
}

func runTo(config *store.MigrationConfig, version uint) {
	log.Printf("Migrating to version %d...", version)

	runner, err := store.NewMigrationRunner(config)
	if err != nil {
		log.Fatalf("Failed to create migration runner: %v", err)
	}
	defer runner.Close()

	if err := runner.MigrateToVersion(version); err != nil {
		log.Fatalf("Migration to version %d failed: %v", version, err)
	}

	log.Printf("Successfully migrated to version %d", version)
}

func runForce(config *store.MigrationConfig, version int) {
	log.Printf("Forcing migration version to %d...", version)
	log.Println("WARNING: This does not run any migrations, it only updates the version!")

	runner, err := store.NewMigrationRunner(config)
	if err != nil {
		log.Fatalf("Failed to create migration runner: %v", err)
	}
	defer runner.Close()

	if err := runner.Force(version); err != nil {
		log.Fatalf("Force failed: %v", err)
	}

	log.Printf("Version forced to %d", version)
}

func createMigration(migrationsPath, name string) {
	name = strings.ToLower(strings.ReplaceAll(name, " ", "_"))
	name = strings.ReplaceAll(name, "-", "_")

	entries, err := os.ReadDir(migrationsPath)
	if err != nil {
		log.Fatalf("Failed to read migrations directory: %v", err)
	}

	maxVersion := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		filename := entry.Name()
		if len(filename) >= 4 {
			if v, err := strconv.Atoi(filename[:4]); err == nil && v > maxVersion {
				maxVersion = v
			}
		}
	}

	nextVersion := maxVersion + 1
	prefix := fmt.Sprintf("%04d_%s", nextVersion, name)

	upFile := filepath.Join(migrationsPath, prefix+".up.sql")
	downFile := filepath.Join(migrationsPath, prefix+".down.sql")

	upContent := fmt.Sprintf("-- Migration: %s\n-- Created: %s\n\n", name, time.Now().Format(time.RFC3339))
	downContent := fmt.Sprintf("-- Rollback: %s\n-- Created: %s\n\n", name, time.Now().Format(time.RFC3339))

	if err := os.WriteFile(upFile, []byte(upContent), 0644); err != nil {
		log.Fatalf("Failed to create up migration: %v", err)
	}
	if err := os.WriteFile(downFile, []byte(downContent), 0644); err != nil {
		log.Fatalf("Failed to create down migration: %v", err)
	}

	fmt.Printf("Created migration files:\n  %s\n  %s\n", upFile, downFile)
}
