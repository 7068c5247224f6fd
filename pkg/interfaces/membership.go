package interfaces

import "context"

// MembershipManager decides which users may enter a project room
// ARCHITECTURAL DISCOVERY: Cache-first validation keeps the join path off
// the database while writes still go through persistence first
type MembershipManager interface {
	// SetMembers replaces the allow-list of a project; an empty list opens it
	SetMembers(ctx context.Context, projectID string, userIDs []string) error

	// GetMembers returns the cached allow-list of a project
	GetMembers(projectID string) []string

	// ValidateMembership returns ErrNotMember when userID may not join projectID
	ValidateMembership(projectID, userID string) error
}
