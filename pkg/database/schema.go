package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables testing
// and deployment verification without coupling to migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

var requiredTables = []string{"messages", "project_members", "schema_migrations"}

var requiredIndexes = []string{
	"idx_messages_project_time",
	"idx_messages_sender",
	"idx_project_members_user",
}

var requiredColumns = map[string]map[string]string{
	"messages": {
		"id":          "TEXT",
		"project_id":  "TEXT",
		"sender_id":   "TEXT",
		"sender_name": "TEXT",
		"content":     "TEXT",
		"type":        "TEXT",
		"created_at":  "DATETIME",
	},
	"project_members": {
		"project_id": "TEXT",
		"user_id":    "TEXT",
		"added_at":   "DATETIME",
	},
}

// Validate runs every structural check.
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	return v.ValidateIndexes()
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateTableStructure verifies table column structure matches expectations
// TECHNICAL DISCOVERY: Column validation ensures type compatibility between
// Go structs and database schema
func (v *SchemaValidator) ValidateTableStructure() error {
	for table, columns := range requiredColumns {
		if err := v.validateColumns(table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

// ValidateIndexes verifies that all performance indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

// ValidateConstraints verifies the message type and content checks are enforced.
func (v *SchemaValidator) ValidateConstraints() error {
	_, err := v.db.Exec(`
		INSERT INTO messages (id, project_id, sender_id, content, type)
		VALUES ('constraint-check', 'check', 'check', 'x', 'video')
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM messages WHERE id = 'constraint-check'")
		return fmt.Errorf("check constraint not enforced: message type")
	}

	_, err = v.db.Exec(`
		INSERT INTO messages (id, project_id, sender_id, content, type)
		VALUES ('constraint-check', 'check', 'check', '', 'text')
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM messages WHERE id = 'constraint-check'")
		return fmt.Errorf("check constraint not enforced: message content")
	}
	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() {
		_ = rows.Close()
	}()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue interface{}
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for col, want := range expectedColumns {
		got, ok := found[col]
		if !ok {
			return fmt.Errorf("column %s not found", col)
		}
		if got != want {
			return fmt.Errorf("column %s has type %s, expected %s", col, got, want)
		}
	}
	return nil
}
