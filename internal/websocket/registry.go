package websocket

import (
	"sort"
	"sync"

	"projectchat/pkg/interfaces"
)

// Registry tracks live sockets and the project room each one is in
// ARCHITECTURAL DISCOVERY: Pure connection management without routing logic
// maintains clean separation between connection tracking and event handling
type Registry struct {
	mu          sync.RWMutex
	connections map[string]interfaces.Connection            // connectionID -> Connection
	rooms       map[string]map[string]interfaces.Connection // projectID -> connectionID -> Connection
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]interfaces.Connection),
		rooms:       make(map[string]map[string]interfaces.Connection),
	}
}

// RegisterConnection adds an authenticated socket.
// FUNCTIONAL DISCOVERY: A user may hold several sockets (tabs); none replaces another
func (r *Registry) RegisterConnection(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return ErrConnectionNotAuthenticated
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[conn.GetConnectionID()] = conn
	return nil
}

// UnregisterConnection removes conn and its room membership. Idempotent.
func (r *Registry) UnregisterConnection(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.GetConnectionID()
	if registered, ok := r.connections[id]; !ok || registered != conn {
		return
	}
	delete(r.connections, id)
	r.leaveLocked(conn)
}

// JoinRoom moves conn into projectID and returns the room it left ("" if none).
func (r *Registry) JoinRoom(conn interfaces.Connection, projectID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[conn.GetConnectionID()]; !ok {
		return "", ErrConnectionNotRegistered
	}

	previous := r.leaveLocked(conn)
	room, ok := r.rooms[projectID]
	if !ok {
		room = make(map[string]interfaces.Connection)
		r.rooms[projectID] = room
	}
	room[conn.GetConnectionID()] = conn
	conn.SetProjectID(projectID)
	return previous, nil
}

// LeaveRoom removes conn from its room and returns that room ("" if none).
func (r *Registry) LeaveRoom(conn interfaces.Connection) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(conn)
}

func (r *Registry) leaveLocked(conn interfaces.Connection) string {
	projectID := conn.GetProjectID()
	if projectID == "" {
		return ""
	}
	if room, ok := r.rooms[projectID]; ok {
		delete(room, conn.GetConnectionID())
		// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
		if len(room) == 0 {
			delete(r.rooms, projectID)
		}
	}
	conn.SetProjectID("")
	return projectID
}

// GetRoomConnections returns every socket in a project room.
func (r *Registry) GetRoomConnections(projectID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[projectID]
	connections := make([]interfaces.Connection, 0, len(room))
	for _, conn := range room {
		connections = append(connections, conn)
	}
	return connections
}

// UserConnectionsInRoom counts the sockets userID holds in projectID.
func (r *Registry) UserConnectionsInRoom(projectID, userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, conn := range r.rooms[projectID] {
		if conn.GetUserID() == userID {
			count++
		}
	}
	return count
}

// GetConnection looks a socket up by id.
func (r *Registry) GetConnection(connectionID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[connectionID]
	return conn, ok
}

// GetUserConnections returns every socket held by userID.
func (r *Registry) GetUserConnections(userID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var connections []interfaces.Connection
	for _, conn := range r.connections {
		if conn.GetUserID() == userID {
			connections = append(connections, conn)
		}
	}
	return connections
}

// ActiveRooms lists the project ids with at least one socket, sorted.
func (r *Registry) ActiveRooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]string, 0, len(r.rooms))
	for projectID := range r.rooms {
		rooms = append(rooms, projectID)
	}
	sort.Strings(rooms)
	return rooms
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make(map[string]bool)
	for _, conn := range r.connections {
		users[conn.GetUserID()] = true
	}
	return map[string]int{
		"total_connections": len(r.connections),
		"unique_users":      len(users),
		"active_rooms":      len(r.rooms),
	}
}
