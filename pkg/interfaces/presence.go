package interfaces

import (
	"context"

	"projectchat/pkg/types"
)

// PresenceStore keeps the set of users online per project room.
// Entries are per user; connection multiplicity is tracked by the registry.
type PresenceStore interface {
	Add(ctx context.Context, projectID string, user types.PresenceUser) error
	Remove(ctx context.Context, projectID, userID string) error
	Roster(ctx context.Context, projectID string) ([]types.PresenceUser, error)
}

// TokenVerifier turns a bearer token into an identity.
type TokenVerifier interface {
	Verify(token string) (*types.Identity, error)
}
