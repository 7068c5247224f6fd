package router

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"projectchat/internal/websocket"
	"projectchat/pkg/interfaces"
	"projectchat/pkg/types"
)

// MessageStore is the persistence the router needs.
type MessageStore interface {
	StoreMessage(ctx context.Context, message *types.Message) error
}

// Config tunes the router.
type Config struct {
	RateLimitPerMinute int
}

// Router implements interfaces.EventRouter and interfaces.Broadcaster
// ARCHITECTURAL DISCOVERY: Pure event routing logic without connection handling
// maintains clean separation between routing decisions and delivery mechanisms
type Router struct {
	registry    *websocket.Registry
	store       MessageStore
	membership  interfaces.MembershipManager
	presence    interfaces.PresenceStore
	rateLimiter *RateLimiter
	logger      *zap.Logger

	now   func() time.Time
	newID func() string

	typingMu sync.Mutex
	typing   map[string]map[string]struct{} // projectID -> userIDs currently typing
}

// NewRouter creates a new event router
// FUNCTIONAL DISCOVERY: Dependency injection enables testing with mock components
func NewRouter(
	registry *websocket.Registry,
	store MessageStore,
	membership interfaces.MembershipManager,
	presence interfaces.PresenceStore,
	cfg Config,
	logger *zap.Logger,
) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 100
	}
	return &Router{
		registry:    registry,
		store:       store,
		membership:  membership,
		presence:    presence,
		rateLimiter: NewRateLimiter(cfg.RateLimitPerMinute),
		logger:      logger.Named("router"),
		now:         time.Now,
		newID:       uuid.NewString,
		typing:      make(map[string]map[string]struct{}),
	}
}

// RouteEvent applies one client event.
func (r *Router) RouteEvent(ctx context.Context, conn interfaces.Connection, env *types.Envelope) error {
	switch env.Event {
	case types.EventJoinProject:
		return r.handleJoin(ctx, conn, env)
	case types.EventLeaveProject:
		return r.handleLeave(ctx, conn, env)
	case types.EventSendMessage:
		return r.handleSendMessage(ctx, conn, env)
	case types.EventTypingStart:
		return r.handleTyping(conn, env, true)
	case types.EventTypingStop:
		return r.handleTyping(conn, env, false)
	case types.EventGetPresence:
		return r.handleGetPresence(ctx, conn, env)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownEvent, env.Event)
	}
}

// HandleDisconnect leaves the socket's room and drops it from the registry.
func (r *Router) HandleDisconnect(ctx context.Context, conn interfaces.Connection) {
	r.leaveRoom(ctx, conn)
	r.registry.UnregisterConnection(conn)
	r.logger.Debug("connection disconnected",
		zap.String("connection_id", conn.GetConnectionID()),
		zap.String("user_id", conn.GetUserID()))
}

// CreateMessage validates, rate limits and persists a message from sender.
// The returned message has not been broadcast yet.
func (r *Router) CreateMessage(ctx context.Context, sender types.Identity, payload types.SendMessagePayload) (*types.Message, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	if err := r.membership.ValidateMembership(payload.ProjectID, sender.UserID); err != nil {
		return nil, err
	}
	if !r.rateLimiter.Allow(sender.UserID) {
		return nil, ErrRateLimitExceeded
	}

	// ARCHITECTURAL DISCOVERY: Server controls message IDs and timestamps
	message := &types.Message{
		ID:        r.newID(),
		Content:   payload.Content,
		SenderID:  sender.UserID,
		ProjectID: payload.ProjectID,
		CreatedAt: r.now().UTC(),
		Type:      payload.Type,
		Sender:    &types.Sender{ID: sender.UserID, Username: sender.Username},
	}

	// FUNCTIONAL DISCOVERY: Persist-then-route pattern ensures message durability before delivery
	if err := r.store.StoreMessage(ctx, message); err != nil {
		r.logger.Error("failed to persist message",
			zap.String("project_id", message.ProjectID),
			zap.String("sender_id", message.SenderID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	return message, nil
}

// BroadcastMessage sends new-message to every socket in the message's room,
// the sender's own sockets included.
func (r *Router) BroadcastMessage(ctx context.Context, message *types.Message) {
	env, err := types.NewEnvelope(types.EventNewMessage, message)
	if err != nil {
		r.logger.Error("failed to encode message", zap.String("message_id", message.ID), zap.Error(err))
		return
	}
	r.deliver(r.registry.GetRoomConnections(message.ProjectID), env, nil)
}

// Cleanup drops idle rate limiter state.
func (r *Router) Cleanup() {
	r.rateLimiter.Cleanup()
}

func (r *Router) handleJoin(ctx context.Context, conn interfaces.Connection, env *types.Envelope) error {
	projectID, err := decodeProjectID(env)
	if err != nil {
		return err
	}
	if err := r.membership.ValidateMembership(projectID, conn.GetUserID()); err != nil {
		return err
	}

	// Re-joining the current room only refreshes the roster
	if conn.GetProjectID() == projectID {
		return r.sendRoster(ctx, conn, projectID)
	}

	// FUNCTIONAL DISCOVERY: A socket lives in at most one room
	r.leaveRoom(ctx, conn)

	first := r.registry.UserConnectionsInRoom(projectID, conn.GetUserID()) == 0
	if _, err := r.registry.JoinRoom(conn, projectID); err != nil {
		return err
	}

	if first {
		user := types.PresenceUser{UserID: conn.GetUserID(), Username: conn.GetUsername()}
		if err := r.presence.Add(ctx, projectID, user); err != nil {
			r.logger.Warn("presence add failed", zap.String("project_id", projectID), zap.Error(err))
		}
		joined, err := types.NewEnvelope(types.EventUserJoined, types.PresencePayload(user))
		if err != nil {
			return err
		}
		r.deliver(r.registry.GetRoomConnections(projectID), joined, func(c interfaces.Connection) bool {
			return c.GetConnectionID() != conn.GetConnectionID()
		})
	}

	r.logger.Debug("joined project",
		zap.String("project_id", projectID),
		zap.String("user_id", conn.GetUserID()),
		zap.Bool("first_connection", first))
	return r.sendRoster(ctx, conn, projectID)
}

func (r *Router) handleLeave(ctx context.Context, conn interfaces.Connection, env *types.Envelope) error {
	projectID, err := decodeProjectID(env)
	if err != nil {
		return err
	}
	// Leaving a room the socket is not in is a no-op
	if conn.GetProjectID() != projectID {
		return nil
	}
	r.leaveRoom(ctx, conn)
	return nil
}

func (r *Router) handleSendMessage(ctx context.Context, conn interfaces.Connection, env *types.Envelope) error {
	var payload types.SendMessagePayload
	if err := env.Decode(&payload); err != nil {
		return err
	}
	if !types.IsValidProjectID(payload.ProjectID) {
		return types.ErrInvalidProjectID
	}
	if conn.GetProjectID() != payload.ProjectID {
		return interfaces.ErrNotInRoom
	}

	sender := types.Identity{UserID: conn.GetUserID(), Username: conn.GetUsername()}
	message, err := r.CreateMessage(ctx, sender, payload)
	if err != nil {
		return err
	}

	// A sent message ends the sender's typing indicator
	r.setTyping(conn, payload.ProjectID, false)
	r.BroadcastMessage(ctx, message)
	return nil
}

func (r *Router) handleTyping(conn interfaces.Connection, env *types.Envelope, isTyping bool) error {
	projectID, err := decodeProjectID(env)
	if err != nil {
		return err
	}
	if conn.GetProjectID() != projectID {
		return interfaces.ErrNotInRoom
	}
	r.setTyping(conn, projectID, isTyping)
	return nil
}

func (r *Router) handleGetPresence(ctx context.Context, conn interfaces.Connection, env *types.Envelope) error {
	projectID, err := decodeProjectID(env)
	if err != nil {
		return err
	}
	if err := r.membership.ValidateMembership(projectID, conn.GetUserID()); err != nil {
		return err
	}
	return r.sendRoster(ctx, conn, projectID)
}

// leaveRoom removes conn from its room. user-left goes out only when the
// user's last socket in that room is gone.
func (r *Router) leaveRoom(ctx context.Context, conn interfaces.Connection) {
	projectID := r.registry.LeaveRoom(conn)
	if projectID == "" {
		return
	}
	userID := conn.GetUserID()
	if r.registry.UserConnectionsInRoom(projectID, userID) > 0 {
		return
	}

	remaining := r.registry.GetRoomConnections(projectID)
	if r.clearTyping(projectID, userID) {
		if stop, err := types.NewEnvelope(types.EventUserTyping, types.TypingPayload{UserID: userID, IsTyping: false}); err == nil {
			r.deliver(remaining, stop, nil)
		}
	}

	if err := r.presence.Remove(ctx, projectID, userID); err != nil {
		r.logger.Warn("presence remove failed", zap.String("project_id", projectID), zap.Error(err))
	}
	left, err := types.NewEnvelope(types.EventUserLeft, types.PresencePayload{UserID: userID, Username: conn.GetUsername()})
	if err != nil {
		return
	}
	r.deliver(remaining, left, nil)
	r.logger.Debug("left project", zap.String("project_id", projectID), zap.String("user_id", userID))
}

// setTyping relays a typing change to the room, skipping every socket of
// the typing user.
func (r *Router) setTyping(conn interfaces.Connection, projectID string, isTyping bool) {
	userID := conn.GetUserID()

	r.typingMu.Lock()
	users, ok := r.typing[projectID]
	_, wasTyping := users[userID]
	if isTyping {
		if !ok {
			users = make(map[string]struct{})
			r.typing[projectID] = users
		}
		users[userID] = struct{}{}
	} else if wasTyping {
		delete(users, userID)
		if len(users) == 0 {
			delete(r.typing, projectID)
		}
	}
	r.typingMu.Unlock()

	// Stopping twice or stopping after a send is not news to anyone
	if !isTyping && !wasTyping {
		return
	}

	env, err := types.NewEnvelope(types.EventUserTyping, types.TypingPayload{UserID: userID, IsTyping: isTyping})
	if err != nil {
		return
	}
	r.deliver(r.registry.GetRoomConnections(projectID), env, func(c interfaces.Connection) bool {
		return c.GetUserID() != userID
	})
}

func (r *Router) clearTyping(projectID, userID string) bool {
	r.typingMu.Lock()
	defer r.typingMu.Unlock()

	users := r.typing[projectID]
	if _, ok := users[userID]; !ok {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(r.typing, projectID)
	}
	return true
}

func (r *Router) sendRoster(ctx context.Context, conn interfaces.Connection, projectID string) error {
	users, err := r.presence.Roster(ctx, projectID)
	if err != nil {
		// TECHNICAL DISCOVERY: The registry is authoritative for this node
		r.logger.Warn("presence roster failed, using registry", zap.String("project_id", projectID), zap.Error(err))
		users = r.rosterFromRegistry(projectID)
	}
	if users == nil {
		users = []types.PresenceUser{}
	}

	env, err := types.NewEnvelope(types.EventPresenceRoster, types.RosterPayload{ProjectID: projectID, Users: users})
	if err != nil {
		return err
	}
	return conn.WriteJSON(env)
}

func (r *Router) rosterFromRegistry(projectID string) []types.PresenceUser {
	seen := make(map[string]bool)
	var users []types.PresenceUser
	for _, c := range r.registry.GetRoomConnections(projectID) {
		if seen[c.GetUserID()] {
			continue
		}
		seen[c.GetUserID()] = true
		users = append(users, types.PresenceUser{UserID: c.GetUserID(), Username: c.GetUsername()})
	}
	sortUsers(users)
	return users
}

// deliver writes env to every conn accepted by include (all when nil).
// A failed write is logged and does not stop delivery to the others.
func (r *Router) deliver(conns []interfaces.Connection, env *types.Envelope, include func(interfaces.Connection) bool) {
	for _, c := range conns {
		if include != nil && !include(c) {
			continue
		}
		if err := c.WriteJSON(env); err != nil {
			r.logger.Debug("delivery failed",
				zap.String("event", env.Event),
				zap.String("connection_id", c.GetConnectionID()),
				zap.Error(err))
		}
	}
}

func decodeProjectID(env *types.Envelope) (string, error) {
	var payload types.ProjectPayload
	if err := env.Decode(&payload); err != nil {
		return "", err
	}
	if !types.IsValidProjectID(payload.ProjectID) {
		return "", types.ErrInvalidProjectID
	}
	return payload.ProjectID, nil
}

func sortUsers(users []types.PresenceUser) {
	sort.Slice(users, func(i, j int) bool {
		return users[i].UserID < users[j].UserID
	})
}
