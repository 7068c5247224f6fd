package realtime

import (
	"sync"

	"go.uber.org/zap"

	"projectchat/pkg/types"
)

// Room tracks the single project room this connection belongs to and
// re-establishes it after every successful handshake.
type Room struct {
	manager *Manager
	logger  *zap.Logger

	mu      sync.Mutex
	current string
}

// NewRoom binds a Room to the manager's connected event.
func NewRoom(m *Manager, logger *zap.Logger) *Room {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Room{manager: m, logger: logger.Named("room")}
	m.On(types.EventConnected, func(*types.Envelope) { r.rejoin() })
	return r
}

// Join makes projectID the active room, leaving the previous one first.
// Without a live connection only the target is recorded; the join goes out
// on the next handshake.
func (r *Room) Join(projectID string) {
	r.mu.Lock()
	previous := r.current
	r.current = projectID
	r.mu.Unlock()

	if previous != "" && previous != projectID {
		r.emit(types.EventLeaveProject, previous)
	}
	r.emit(types.EventJoinProject, projectID)
}

// Leave releases projectID. Leaving a room that is not active still emits,
// since the server is the source of truth.
func (r *Room) Leave(projectID string) {
	r.mu.Lock()
	if r.current == projectID {
		r.current = ""
	}
	r.mu.Unlock()

	r.emit(types.EventLeaveProject, projectID)
}

// Current returns the active project id, or "".
func (r *Room) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// RequestRoster asks the server for the active room's online set.
func (r *Room) RequestRoster() {
	if current := r.Current(); current != "" {
		r.emit(types.EventGetPresence, current)
	}
}

func (r *Room) rejoin() {
	if current := r.Current(); current != "" {
		r.emit(types.EventJoinProject, current)
	}
}

func (r *Room) emit(event, projectID string) {
	err := r.manager.Emit(event, types.ProjectPayload{ProjectID: projectID})
	if err != nil {
		r.logger.Debug("room event not sent", zap.String("event", event),
			zap.String("project_id", projectID), zap.Error(err))
	}
}
