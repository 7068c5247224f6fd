package realtime

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"projectchat/pkg/types"
)

// Presence is the client's best-effort set of users online in the joined
// room. Join and leave events apply as set add/remove; a roster replaces
// the whole set.
type Presence struct {
	logger *zap.Logger

	mu       sync.RWMutex
	users    map[string]string
	onChange func([]string)
}

// NewPresence creates an empty set fed by the manager's presence events.
func NewPresence(m *Manager, logger *zap.Logger) *Presence {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Presence{logger: logger.Named("presence"), users: make(map[string]string)}
	if m != nil {
		m.On(types.EventUserJoined, p.handleJoined)
		m.On(types.EventUserLeft, p.handleLeft)
		m.On(types.EventPresenceRoster, p.handleRoster)
	}
	return p
}

// OnChange registers a callback invoked with the sorted user ids after
// every effective change.
func (p *Presence) OnChange(f func([]string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = f
}

// Add inserts userID. It reports whether the set changed.
func (p *Presence) Add(userID, username string) bool {
	p.mu.Lock()
	_, exists := p.users[userID]
	p.users[userID] = username
	p.mu.Unlock()

	if !exists {
		p.changed()
	}
	return !exists
}

// Remove deletes userID. It reports whether the set changed.
func (p *Presence) Remove(userID string) bool {
	p.mu.Lock()
	_, exists := p.users[userID]
	delete(p.users, userID)
	p.mu.Unlock()

	if exists {
		p.changed()
	}
	return exists
}

// ReplaceRoster swaps the whole set for an authoritative roster.
func (p *Presence) ReplaceRoster(users []types.PresenceUser) {
	next := make(map[string]string, len(users))
	for _, u := range users {
		next[u.UserID] = u.Username
	}
	p.mu.Lock()
	p.users = next
	p.mu.Unlock()
	p.changed()
}

// Clear empties the set.
func (p *Presence) Clear() {
	p.ReplaceRoster(nil)
}

func (p *Presence) Contains(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.users[userID]
	return ok
}

func (p *Presence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.users)
}

// Users returns the online user ids in sorted order.
func (p *Presence) Users() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.users))
	for id := range p.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Username returns the display name recorded for userID.
func (p *Presence) Username(userID string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if name := p.users[userID]; name != "" {
		return name
	}
	return userID
}

func (p *Presence) changed() {
	p.mu.RLock()
	f := p.onChange
	p.mu.RUnlock()
	if f != nil {
		f(p.Users())
	}
}

func (p *Presence) handleJoined(env *types.Envelope) {
	var payload types.PresencePayload
	if err := env.Decode(&payload); err != nil || payload.UserID == "" {
		p.logger.Debug("ignoring malformed user-joined")
		return
	}
	p.Add(payload.UserID, payload.Username)
}

func (p *Presence) handleLeft(env *types.Envelope) {
	var payload types.PresencePayload
	if err := env.Decode(&payload); err != nil || payload.UserID == "" {
		p.logger.Debug("ignoring malformed user-left")
		return
	}
	p.Remove(payload.UserID)
}

func (p *Presence) handleRoster(env *types.Envelope) {
	var payload types.RosterPayload
	if err := env.Decode(&payload); err != nil {
		p.logger.Debug("ignoring malformed presence-roster")
		return
	}
	p.ReplaceRoster(payload.Users)
}
