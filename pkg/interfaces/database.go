package interfaces

import (
	"context"

	"projectchat/pkg/types"
)

// DatabaseManager handles all database operations
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations
// enables consistent transaction handling and connection management
type DatabaseManager interface {
	// StoreMessage persists a message to the database
	// FUNCTIONAL DISCOVERY: Message storage must complete before broadcast
	// so a receiver never sees a message that history cannot return
	StoreMessage(ctx context.Context, message *types.Message) error

	// GetProjectHistory returns up to limit most recent messages of a project,
	// oldest first
	GetProjectHistory(ctx context.Context, projectID string, limit int) ([]*types.Message, error)

	// SetProjectMembers replaces the allow-list of a project
	SetProjectMembers(ctx context.Context, projectID string, userIDs []string) error

	// GetProjectMembers returns the allow-list of a project; empty means open
	GetProjectMembers(ctx context.Context, projectID string) ([]string, error)

	// ListProjectMembers returns every stored allow-list keyed by project
	// TECHNICAL DISCOVERY: Used once at startup to warm the membership cache
	ListProjectMembers(ctx context.Context) (map[string][]string, error)

	// HealthCheck verifies database connectivity and basic operations
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and cleans up resources
	Close() error
}
