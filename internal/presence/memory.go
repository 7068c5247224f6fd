package presence

import (
	"context"
	"sort"
	"sync"

	"projectchat/pkg/types"
)

// MemoryStore keeps rosters in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]map[string]string // projectID -> userID -> username
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]map[string]string)}
}

func (s *MemoryStore) Add(ctx context.Context, projectID string, user types.PresenceUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[projectID]
	if !ok {
		room = make(map[string]string)
		s.rooms[projectID] = room
	}
	room[user.UserID] = user.Username
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, projectID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[projectID]
	if !ok {
		return nil
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(s.rooms, projectID)
	}
	return nil
}

func (s *MemoryStore) Roster(ctx context.Context, projectID string) ([]types.PresenceUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room := s.rooms[projectID]
	users := make([]types.PresenceUser, 0, len(room))
	for userID, username := range room {
		users = append(users, types.PresenceUser{UserID: userID, Username: username})
	}
	sortUsers(users)
	return users, nil
}

func sortUsers(users []types.PresenceUser) {
	sort.Slice(users, func(i, j int) bool {
		return users[i].UserID < users[j].UserID
	})
}
