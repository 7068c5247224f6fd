package database

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// MigrationManager handles database migrations
// FUNCTIONAL DISCOVERY: Migrations ship inside the binary so a fresh
// deployment needs nothing but the database path
type MigrationManager struct {
	db     *sql.DB
	source fs.FS
	dir    string
}

// NewMigrationManager creates a manager that reads the embedded migrations,
// or the SQL files under migrationsPath when it is non-empty.
func NewMigrationManager(db *sql.DB, migrationsPath string) *MigrationManager {
	if migrationsPath != "" {
		return &MigrationManager{db: db, source: os.DirFS(migrationsPath), dir: "."}
	}
	return &MigrationManager{db: db, source: embeddedMigrations, dir: "migrations"}
}

// ApplyMigrations applies all pending migrations, each in its own transaction.
func (m *MigrationManager) ApplyMigrations() error {
	if err := m.createMigrationTable(); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	migrations, err := m.loadMigrations()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	applied, err := m.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.applyMigration(migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}
	return nil
}

// AppliedVersions lists applied migration versions in order.
func (m *MigrationManager) AppliedVersions() ([]string, error) {
	applied, err := m.getAppliedMigrations()
	if err != nil {
		return nil, err
	}
	versions := make([]string, 0, len(applied))
	for v := range applied {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions, nil
}

func (m *MigrationManager) createMigrationTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// loadMigrations reads NNN_description.sql files sorted by version.
func (m *MigrationManager) loadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.source, m.dir)
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".sql" {
			continue
		}
		content, err := fs.ReadFile(m.source, path.Join(m.dir, name))
		if err != nil {
			return nil, err
		}

		parts := strings.SplitN(strings.TrimSuffix(name, ".sql"), "_", 2)
		migration := Migration{Version: parts[0], SQL: string(content)}
		if len(parts) == 2 {
			migration.Description = parts[1]
		}
		migrations = append(migrations, migration)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func (m *MigrationManager) getAppliedMigrations() (map[string]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (m *MigrationManager) applyMigration(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		// no-op after Commit
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
		return err
	}
	return tx.Commit()
}
