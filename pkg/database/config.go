package database

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config describes the sqlite file holding messages and project members.
type Config struct {
	DatabasePath    string        `json:"database_path" mapstructure:"path"`
	MaxConnections  int           `json:"max_connections" mapstructure:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	// MigrationsPath overrides the embedded migrations when set.
	MigrationsPath string `json:"migrations_path" mapstructure:"migrations_path"`
}

func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/projectchat.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
	}
}

// Validate rejects an empty path and non-positive pool settings.
func (c *Config) Validate() error {
	switch {
	case c.DatabasePath == "":
		return errors.New("database: path is required")
	case c.MaxConnections <= 0:
		return errors.New("database: max_connections must be positive")
	case c.ConnMaxLifetime <= 0:
		return errors.New("database: conn_max_lifetime must be positive")
	case c.ConnMaxIdleTime <= 0:
		return errors.New("database: conn_max_idle_time must be positive")
	}
	return nil
}

// ARCHITECTURAL DISCOVERY: WAL mode enables concurrent history reads while
// the single writer goroutine persists new messages
const sqliteOptimizations = `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;
	PRAGMA cache_size = -64000;
	PRAGMA temp_store = MEMORY;
	PRAGMA foreign_keys = ON;
	PRAGMA busy_timeout = 5000;
`

// ApplySQLiteOptimizations applies the connection pragmas.
func ApplySQLiteOptimizations(db *sql.DB) error {
	_, err := db.Exec(sqliteOptimizations)
	return err
}
