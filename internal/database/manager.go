package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	dbconfig "projectchat/pkg/database"
	"projectchat/pkg/types"
)

var (
	ErrClosed       = errors.New("database manager is closed")
	ErrWriteTimeout = errors.New("write operation timeout")
)

// Manager implements interfaces.DatabaseManager over SQLite
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *zap.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex

	retryDelay   time.Duration
	writeTimeout time.Duration
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the single writer goroutine.
func NewManager(config *dbconfig.Config, logger *zap.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.Named("database"),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   5 * time.Second,
		writeTimeout: 30 * time.Second,
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// Migrate applies pending schema migrations and validates the result.
func (m *Manager) Migrate() error {
	migrations := dbconfig.NewMigrationManager(m.db, m.config.MigrationsPath)
	if err := migrations.ApplyMigrations(); err != nil {
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := dbconfig.NewSchemaValidator(m.db).Validate(); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	m.logger.Info("database migrations applied", zap.String("path", m.config.DatabasePath))
	return nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: A failed write is retried exactly once after a delay
			err := op.operation(m.db)
			if err != nil {
				m.logger.Warn("database write failed, retrying", zap.Error(err), zap.Duration("delay", m.retryDelay))
				select {
				case <-time.After(m.retryDelay):
					err = op.operation(m.db)
					if err != nil {
						m.logger.Error("database write failed after retry", zap.Error(err))
					}
				case <-m.shutdown:
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug("database write loop shutting down")
			return
		}
	}
}

func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(m.writeTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrClosed
	}
}

// StoreMessage persists a message; ID, ProjectID and CreatedAt must be set by the caller.
func (m *Manager) StoreMessage(ctx context.Context, message *types.Message) error {
	senderName := ""
	if message.Sender != nil {
		senderName = message.Sender.Username
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO messages (id, project_id, sender_id, sender_name, content, type, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			message.ID,
			message.ProjectID,
			message.SenderID,
			senderName,
			message.Content,
			message.Type,
			message.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// GetProjectHistory returns the newest limit messages of a project in chronological order.
func (m *Manager) GetProjectHistory(ctx context.Context, projectID string, limit int) ([]*types.Message, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, project_id, sender_id, sender_name, content, type, created_at
		FROM (
			SELECT id, project_id, sender_id, sender_name, content, type, created_at, rowid AS seq
			FROM messages
			WHERE project_id = ?
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, seq ASC
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query project history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]*types.Message, 0, limit)
	for rows.Next() {
		var (
			message    types.Message
			senderName string
		)
		err := rows.Scan(
			&message.ID,
			&message.ProjectID,
			&message.SenderID,
			&senderName,
			&message.Content,
			&message.Type,
			&message.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if senderName == "" {
			senderName = message.SenderID
		}
		message.Sender = &types.Sender{ID: message.SenderID, Username: senderName}
		messages = append(messages, &message)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// SetProjectMembers atomically replaces the allow-list of a project.
func (m *Manager) SetProjectMembers(ctx context.Context, projectID string, userIDs []string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM project_members WHERE project_id = ?`, projectID); err != nil {
			return fmt.Errorf("failed to clear project members: %w", err)
		}
		for _, userID := range userIDs {
			_, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO project_members (project_id, user_id) VALUES (?, ?)`,
				projectID, userID)
			if err != nil {
				return fmt.Errorf("failed to insert project member: %w", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit project members: %w", err)
		}
		return nil
	})
}

// GetProjectMembers returns the allow-list of one project sorted by user id.
func (m *Manager) GetProjectMembers(ctx context.Context, projectID string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT user_id FROM project_members WHERE project_id = ? ORDER BY user_id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query project members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var members []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan member row: %w", err)
		}
		members = append(members, userID)
	}
	return members, rows.Err()
}

// ListProjectMembers returns every allow-list keyed by project id.
func (m *Manager) ListProjectMembers(ctx context.Context) (map[string][]string, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT project_id, user_id FROM project_members ORDER BY project_id, user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query project members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	members := make(map[string][]string)
	for rows.Next() {
		var projectID, userID string
		if err := rows.Scan(&projectID, &userID); err != nil {
			return nil, fmt.Errorf("failed to scan member row: %w", err)
		}
		members[projectID] = append(members[projectID], userID)
	}
	return members, rows.Err()
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages LIMIT 1").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
