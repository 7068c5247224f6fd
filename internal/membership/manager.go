package membership

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"projectchat/pkg/interfaces"
	"projectchat/pkg/types"
)

// MaxMembers bounds a single project allow-list.
const MaxMembers = 1000

// Store is the persistence the manager needs.
type Store interface {
	SetProjectMembers(ctx context.Context, projectID string, userIDs []string) error
	ListProjectMembers(ctx context.Context) (map[string][]string, error)
}

// Manager implements interfaces.MembershipManager with an in-memory cache
// in front of the project_members table.
// A project without an allow-list is open to every authenticated user.
type Manager struct {
	store   Store
	logger  *zap.Logger
	members map[string]map[string]struct{} // projectID -> userIDs
	mu      sync.RWMutex
}

func NewManager(store Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:   store,
		logger:  logger.Named("membership"),
		members: make(map[string]map[string]struct{}),
	}
}

// LoadMembers warms the cache from the database
func (m *Manager) LoadMembers(ctx context.Context) error {
	all, err := m.store.ListProjectMembers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load project members: %w", err)
	}

	cache := make(map[string]map[string]struct{}, len(all))
	for projectID, userIDs := range all {
		cache[projectID] = toSet(userIDs)
	}

	m.mu.Lock()
	m.members = cache
	m.mu.Unlock()

	m.logger.Info("loaded project members", zap.Int("projects", len(cache)))
	return nil
}

// SetMembers persists first, then updates the cache.
func (m *Manager) SetMembers(ctx context.Context, projectID string, userIDs []string) error {
	if !types.IsValidProjectID(projectID) {
		return ErrInvalidProjectID
	}
	unique := removeDuplicates(userIDs)
	if len(unique) > MaxMembers {
		return ErrTooManyMembers
	}
	for _, userID := range unique {
		if !types.IsValidUserID(userID) {
			return fmt.Errorf("%w: %s", ErrInvalidUserID, userID)
		}
	}

	if err := m.store.SetProjectMembers(ctx, projectID, unique); err != nil {
		return fmt.Errorf("failed to store project members: %w", err)
	}

	m.mu.Lock()
	if len(unique) == 0 {
		delete(m.members, projectID)
	} else {
		m.members[projectID] = toSet(unique)
	}
	m.mu.Unlock()

	m.logger.Info("project members updated", zap.String("project_id", projectID), zap.Int("members", len(unique)))
	return nil
}

// GetMembers returns the sorted allow-list; nil means the project is open.
func (m *Manager) GetMembers(projectID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set, ok := m.members[projectID]
	if !ok {
		return nil
	}
	members := make([]string, 0, len(set))
	for userID := range set {
		members = append(members, userID)
	}
	sort.Strings(members)
	return members
}

// ValidateMembership checks if userID may join projectID (cache-only).
func (m *Manager) ValidateMembership(projectID, userID string) error {
	if !types.IsValidProjectID(projectID) {
		return ErrInvalidProjectID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	set, restricted := m.members[projectID]
	if !restricted {
		return nil
	}
	if _, ok := set[userID]; ok {
		return nil
	}
	return interfaces.ErrNotMember
}

// GetStats returns membership cache statistics
func (m *Manager) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]interface{}{
		"restricted_projects": len(m.members),
	}
}

func toSet(userIDs []string) map[string]struct{} {
	set := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		set[id] = struct{}{}
	}
	return set
}

func removeDuplicates(ids []string) []string {
	seen := make(map[string]bool)
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	return unique
}
