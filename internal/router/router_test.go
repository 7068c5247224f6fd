package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectchat/internal/membership"
	"projectchat/internal/presence"
	"projectchat/internal/websocket"
	"projectchat/pkg/interfaces"
	"projectchat/pkg/types"
)

type testConn struct {
	mu        sync.Mutex
	id        string
	userID    string
	projectID string
	sent      []*types.Envelope
}

func newTestConn(id, userID string) *testConn {
	return &testConn{id: id, userID: userID}
}

func (c *testConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	env, ok := v.(*types.Envelope)
	if !ok {
		return errors.New("unexpected frame")
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *testConn) Close() error                                 { return nil }
func (c *testConn) GetConnectionID() string                      { return c.id }
func (c *testConn) GetUserID() string                            { return c.userID }
func (c *testConn) GetUsername() string                          { return "name-" + c.userID }
func (c *testConn) IsAuthenticated() bool                        { return true }
func (c *testConn) SetCredentials(userID, username string) error { return nil }

func (c *testConn) GetProjectID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projectID
}

func (c *testConn) SetProjectID(projectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.projectID = projectID
}

// take returns and clears the frames sent so far.
func (c *testConn) take() []*types.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	sent := c.sent
	c.sent = nil
	return sent
}

func events(envs []*types.Envelope) []string {
	names := make([]string, 0, len(envs))
	for _, env := range envs {
		names = append(names, env.Event)
	}
	return names
}

type memoryMessages struct {
	mu       sync.Mutex
	messages []*types.Message
	err      error
}

func (s *memoryMessages) StoreMessage(ctx context.Context, message *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, message)
	return nil
}

type memoryMembers struct {
	members map[string][]string
}

func (s *memoryMembers) SetProjectMembers(ctx context.Context, projectID string, userIDs []string) error {
	if s.members == nil {
		s.members = make(map[string][]string)
	}
	s.members[projectID] = userIDs
	return nil
}

func (s *memoryMembers) ListProjectMembers(ctx context.Context) (map[string][]string, error) {
	return s.members, nil
}

type routerFixture struct {
	router     *Router
	registry   *websocket.Registry
	store      *memoryMessages
	membership *membership.Manager
	presence   *presence.MemoryStore
}

func setupRouter(t *testing.T) *routerFixture {
	t.Helper()
	f := &routerFixture{
		registry:   websocket.NewRegistry(),
		store:      &memoryMessages{},
		membership: membership.NewManager(&memoryMembers{}, nil),
		presence:   presence.NewMemoryStore(),
	}
	f.router = NewRouter(f.registry, f.store, f.membership, f.presence, Config{RateLimitPerMinute: 100}, nil)
	f.router.newID = func() string { return "msg-id" }
	f.router.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func (f *routerFixture) connect(t *testing.T, id, userID string) *testConn {
	t.Helper()
	conn := newTestConn(id, userID)
	require.NoError(t, f.registry.RegisterConnection(conn))
	return conn
}

func route(t *testing.T, r *Router, conn interfaces.Connection, event string, payload interface{}) error {
	t.Helper()
	env, err := types.NewEnvelope(event, payload)
	require.NoError(t, err)
	return r.RouteEvent(context.Background(), conn, env)
}

func join(t *testing.T, r *Router, conn interfaces.Connection, projectID string) {
	t.Helper()
	require.NoError(t, route(t, r, conn, types.EventJoinProject, types.ProjectPayload{ProjectID: projectID}))
}

func TestRouter_ImplementsInterfaces(t *testing.T) {
	var _ interfaces.EventRouter = (*Router)(nil)
	var _ interfaces.Broadcaster = (*Router)(nil)
}

func TestRouter_JoinSendsRosterAndAnnounces(t *testing.T) {
	f := setupRouter(t)
	alice := f.connect(t, "c1", "alice")
	bob := f.connect(t, "c2", "bob")

	join(t, f.router, alice, "P1")
	sent := alice.take()
	require.Equal(t, []string{types.EventPresenceRoster}, events(sent))

	var roster types.RosterPayload
	require.NoError(t, sent[0].Decode(&roster))
	assert.Equal(t, "P1", roster.ProjectID)
	assert.Equal(t, []types.PresenceUser{{UserID: "alice", Username: "name-alice"}}, roster.Users)

	join(t, f.router, bob, "P1")
	assert.Equal(t, []string{types.EventPresenceRoster}, events(bob.take()))

	sent = alice.take()
	require.Equal(t, []string{types.EventUserJoined}, events(sent))
	var joined types.PresencePayload
	require.NoError(t, sent[0].Decode(&joined))
	assert.Equal(t, "bob", joined.UserID)
	assert.Equal(t, "name-bob", joined.Username)
}

func TestRouter_SecondTabDoesNotAnnounce(t *testing.T) {
	f := setupRouter(t)
	alice := f.connect(t, "c1", "alice")
	aliceTab := f.connect(t, "c2", "alice")
	bob := f.connect(t, "c3", "bob")

	join(t, f.router, bob, "P1")
	join(t, f.router, alice, "P1")
	bob.take()

	join(t, f.router, aliceTab, "P1")
	assert.Empty(t, bob.take())

	roster, err := f.presence.Roster(context.Background(), "P1")
	require.NoError(t, err)
	assert.Len(t, roster, 2)

	// Closing one tab keeps alice online
	f.router.HandleDisconnect(context.Background(), alice)
	assert.Empty(t, bob.take())

	f.router.HandleDisconnect(context.Background(), aliceTab)
	assert.Equal(t, []string{types.EventUserLeft}, events(bob.take()))

	roster, err = f.presence.Roster(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, []types.PresenceUser{{UserID: "bob", Username: "name-bob"}}, roster)
}

func TestRouter_RejoinResendsRosterOnly(t *testing.T) {
	f := setupRouter(t)
	alice := f.connect(t, "c1", "alice")
	bob := f.connect(t, "c2", "bob")

	join(t, f.router, alice, "P1")
	join(t, f.router, bob, "P1")
	alice.take()
	bob.take()

	join(t, f.router, bob, "P1")
	assert.Equal(t, []string{types.EventPresenceRoster}, events(bob.take()))
	assert.Empty(t, alice.take())
}

func TestRouter_SwitchingProjectsLeavesPreviousRoom(t *testing.T) {
	f := setupRouter(t)
	alice := f.connect(t, "c1", "alice")
	bob := f.connect(t, "c2", "bob")
	carol := f.connect(t, "c3", "carol")

	join(t, f.router, alice, "P1")
	join(t, f.router, carol, "P2")
	join(t, f.router, bob, "P1")
	alice.take()
	carol.take()

	join(t, f.router, bob, "P2")

	assert.Equal(t, []string{types.EventUserLeft}, events(alice.take()))
	assert.Equal(t, []string{types.EventUserJoined}, events(carol.take()))
	assert.Equal(t, "P2", bob.GetProjectID())
	assert.Len(t, f.registry.GetRoomConnections("P1"), 1)
}

func TestRouter_LeaveProject(t *testing.T) {
	f := setupRouter(t)
	alice := f.connect(t, "c1", "alice")
	bob := f.connect(t, "c2", "bob")
	join(t, f.router, alice, "P1")
	join(t, f.router, bob, "P1")
	alice.take()

	// A room the socket is not in
	require.NoError(t, route(t, f.router, bob, types.EventLeaveProject, types.ProjectPayload{ProjectID: "P9"}))
	assert.Equal(t, "P1", bob.GetProjectID())

	require.NoError(t, route(t, f.router, bob, types.EventLeaveProject, types.ProjectPayload{ProjectID: "P1"}))
	assert.Empty(t, bob.GetProjectID())

	sent := alice.take()
	require.Equal(t, []string{types.EventUserLeft}, events(sent))
	var left types.PresencePayload
	require.NoError(t, sent[0].Decode(&left))
	assert.Equal(t, "bob", left.UserID)
}

func TestRouter_JoinRequiresMembership(t *testing.T) {
	f := setupRouter(t)
	require.NoError(t, f.membership.SetMembers(context.Background(), "P1", []string{"alice"}))

	bob := f.connect(t, "c1", "bob")
	err := route(t, f.router, bob, types.EventJoinProject, types.ProjectPayload{ProjectID: "P1"})
	assert.ErrorIs(t, err, interfaces.ErrNotMember)
	assert.Equal(t, CodeForbidden, ErrorCode(err))
	assert.Empty(t, bob.GetProjectID())

	alice := f.connect(t, "c2", "alice")
	join(t, f.router, alice, "P1")
}

func TestRouter_JoinInvalidPayload(t *testing.T) {
	f := setupRouter(t)
	alice := f.connect(t, "c1", "alice")

	err := f.router.RouteEvent(context.Background(), alice, &types.Envelope{Event: types.EventJoinProject})
	assert.Equal(t, CodeInvalidPayload, ErrorCode(err))

	err = route(t, f.router, alice, types.EventJoinProject, types.ProjectPayload{ProjectID: "bad id!"})
	assert.Equal(t, CodeInvalidProject, ErrorCode(err))
}

func TestRouter_SendMessageBroadcastsToRoomIncludingSender(t *testing.T) {
	f := setupRouter(t)
	alice := f.connect(t, "c1", "alice")
	bob := f.connect(t, "c2", "bob")
	outsider := f.connect(t, "c3", "carol")
	join(t, f.router, alice, "P1")
	join(t, f.router, bob, "P1")
	join(t, f.router, outsider, "P2")
	alice.take()
	bob.take()
	outsider.take()

	err := route(t, f.router, alice, types.EventSendMessage, types.SendMessagePayload{ProjectID: "P1", Content: "  hello  "})
	require.NoError(t, err)

	require.Len(t, f.store.messages, 1)
	stored := f.store.messages[0]
	assert.Equal(t, "msg-id", stored.ID)
	assert.Equal(t, "hello", stored.Content)
	assert.Equal(t, types.MessageTypeText, stored.Type)
	assert.Equal(t, "name-alice", stored.Sender.Username)

	for _, conn := range []*testConn{alice, bob} {
		sent := conn.take()
		require.Equal(t, []string{types.EventNewMessage}, events(sent))
		var msg types.Message
		require.NoError(t, sent[0].Decode(&msg))
		assert.Equal(t, "msg-id", msg.ID)
		assert.Equal(t, "alice", msg.SenderID)
		assert.Equal(t, "P1", msg.ProjectID)
	}
	assert.Empty(t, outsider.take())
}

func TestRouter_SendMessageRequiresRoom(t *testing.T) {
	f := setupRouter(t)
	alice := f.connect(t, "c1", "alice")
	join(t, f.router, alice, "P1")

	err := route(t, f.router, alice, types.EventSendMessage, types.SendMessagePayload{ProjectID: "P2", Content: "hi"})
	assert.ErrorIs(t, err, interfaces.ErrNotInRoom)
	assert.Equal(t, CodeNotInRoom, ErrorCode(err))
	assert.Empty(t, f.store.messages)
}

func TestRouter_SendMessageValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload types.SendMessagePayload
		code    string
	}{
		{"whitespace only", types.SendMessagePayload{ProjectID: "P1", Content: "   "}, CodeInvalidMessage},
		{"bad type", types.SendMessagePayload{ProjectID: "P1", Content: "x", Type: "video"}, CodeInvalidMessage},
		{"bad project", types.SendMessagePayload{ProjectID: "", Content: "x"}, CodeInvalidProject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupRouter(t)
			alice := f.connect(t, "c1", "alice")
			join(t, f.router, alice, "P1")

			err := route(t, f.router, alice, types.EventSendMessage, tt.payload)
			require.Error(t, err)
			assert.Equal(t, tt.code, ErrorCode(err))
			assert.Empty(t, f.store.messages)
		})
	}
}

func TestRouter_PersistFailureIsNotBroadcast(t *testing.T) {
	f := setupRouter(t)
	f.store.err = errors.New("disk full")
	alice := f.connect(t, "c1", "alice")
	join(t, f.router, alice, "P1")
	alice.take()

	err := route(t, f.router, alice, types.EventSendMessage, types.SendMessagePayload{ProjectID: "P1", Content: "hi"})
	assert.ErrorIs(t, err, ErrPersistFailed)
	assert.Equal(t, CodeInternal, ErrorCode(err))
	assert.Empty(t, alice.take())
}

func TestRouter_RateLimit(t *testing.T) {
	f := setupRouter(t)
	f.router.rateLimiter = NewRateLimiter(2)
	alice := f.connect(t, "c1", "alice")
	join(t, f.router, alice, "P1")

	payload := types.SendMessagePayload{ProjectID: "P1", Content: "hi"}
	require.NoError(t, route(t, f.router, alice, types.EventSendMessage, payload))
	require.NoError(t, route(t, f.router, alice, types.EventSendMessage, payload))

	err := route(t, f.router, alice, types.EventSendMessage, payload)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, CodeRateLimited, ErrorCode(err))
	assert.Len(t, f.store.messages, 2)
}

func TestRouter_TypingSkipsTypistConnections(t *testing.T) {
	f := setupRouter(t)
	alice := f.connect(t, "c1", "alice")
	aliceTab := f.connect(t, "c2", "alice")
	bob := f.connect(t, "c3", "bob")
	join(t, f.router, alice, "P1")
	join(t, f.router, aliceTab, "P1")
	join(t, f.router, bob, "P1")
	alice.take()
	aliceTab.take()
	bob.take()

	require.NoError(t, route(t, f.router, alice, types.EventTypingStart, types.ProjectPayload{ProjectID: "P1"}))
	assert.Empty(t, alice.take())
	assert.Empty(t, aliceTab.take())

	sent := bob.take()
	require.Equal(t, []string{types.EventUserTyping}, events(sent))
	var typing types.TypingPayload
	require.NoError(t, sent[0].Decode(&typing))
	assert.Equal(t, types.TypingPayload{UserID: "alice", IsTyping: true}, typing)

	require.NoError(t, route(t, f.router, alice, types.EventTypingStop, types.ProjectPayload{ProjectID: "P1"}))
	sent = bob.take()
	require.Len(t, sent, 1)
	require.NoError(t, sent[0].Decode(&typing))
	assert.False(t, typing.IsTyping)

	// A second stop is not relayed
	require.NoError(t, route(t, f.router, alice, types.EventTypingStop, types.ProjectPayload{ProjectID: "P1"}))
	assert.Empty(t, bob.take())
}

func TestRouter_TypingRequiresRoom(t *testing.T) {
	f := setupRouter(t)
	alice := f.connect(t, "c1", "alice")

	err := route(t, f.router, alice, types.EventTypingStart, types.ProjectPayload{ProjectID: "P1"})
	assert.ErrorIs(t, err, interfaces.ErrNotInRoom)
}

func TestRouter_SendClearsTyping(t *testing.T) {
	f := setupRouter(t)
	alice := f.connect(t, "c1", "alice")
	bob := f.connect(t, "c2", "bob")
	join(t, f.router, alice, "P1")
	join(t, f.router, bob, "P1")
	require.NoError(t, route(t, f.router, alice, types.EventTypingStart, types.ProjectPayload{ProjectID: "P1"}))
	bob.take()

	require.NoError(t, route(t, f.router, alice, types.EventSendMessage, types.SendMessagePayload{ProjectID: "P1", Content: "done"}))
	assert.Equal(t, []string{types.EventUserTyping, types.EventNewMessage}, events(bob.take()))
}

func TestRouter_DisconnectWhileTypingClearsIndicator(t *testing.T) {
	f := setupRouter(t)
	alice := f.connect(t, "c1", "alice")
	bob := f.connect(t, "c2", "bob")
	join(t, f.router, alice, "P1")
	join(t, f.router, bob, "P1")
	require.NoError(t, route(t, f.router, alice, types.EventTypingStart, types.ProjectPayload{ProjectID: "P1"}))
	bob.take()

	f.router.HandleDisconnect(context.Background(), alice)

	sent := bob.take()
	require.Equal(t, []string{types.EventUserTyping, types.EventUserLeft}, events(sent))
	var typing types.TypingPayload
	require.NoError(t, sent[0].Decode(&typing))
	assert.False(t, typing.IsTyping)

	_, ok := f.registry.GetConnection("c1")
	assert.False(t, ok)
}

func TestRouter_GetPresence(t *testing.T) {
	f := setupRouter(t)
	alice := f.connect(t, "c1", "alice")
	bob := f.connect(t, "c2", "bob")
	join(t, f.router, alice, "P1")
	alice.take()

	// Roster requests do not require being in the room
	require.NoError(t, route(t, f.router, bob, types.EventGetPresence, types.ProjectPayload{ProjectID: "P1"}))
	sent := bob.take()
	require.Equal(t, []string{types.EventPresenceRoster}, events(sent))

	var roster types.RosterPayload
	require.NoError(t, sent[0].Decode(&roster))
	assert.Equal(t, []types.PresenceUser{{UserID: "alice", Username: "name-alice"}}, roster.Users)

	require.NoError(t, route(t, f.router, bob, types.EventGetPresence, types.ProjectPayload{ProjectID: "P7"}))
	require.NoError(t, bob.take()[0].Decode(&roster))
	assert.NotNil(t, roster.Users)
	assert.Empty(t, roster.Users)
}

func TestRouter_UnknownEvent(t *testing.T) {
	f := setupRouter(t)
	alice := f.connect(t, "c1", "alice")

	err := f.router.RouteEvent(context.Background(), alice, &types.Envelope{Event: "dance"})
	assert.ErrorIs(t, err, ErrUnknownEvent)
	assert.Equal(t, CodeUnknownEvent, ErrorCode(err))
}

func TestRouter_CreateMessageForRESTCallers(t *testing.T) {
	f := setupRouter(t)
	sender := types.Identity{UserID: "alice", Username: "Alice"}

	msg, err := f.router.CreateMessage(context.Background(), sender, types.SendMessagePayload{ProjectID: "P1", Content: "from rest", Type: types.MessageTypeFile})
	require.NoError(t, err)
	assert.Equal(t, types.MessageTypeFile, msg.Type)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), msg.CreatedAt)

	bob := f.connect(t, "c1", "bob")
	join(t, f.router, bob, "P1")
	bob.take()

	f.router.BroadcastMessage(context.Background(), msg)
	assert.Equal(t, []string{types.EventNewMessage}, events(bob.take()))
}

func TestRateLimiter_WindowResets(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("u1"))
	assert.True(t, rl.Allow("u1"))
	assert.False(t, rl.Allow("u1"))
	assert.True(t, rl.Allow("u2"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("u1"))

	now = now.Add(6 * time.Minute)
	rl.Cleanup()
	assert.Equal(t, 0, rl.size())
}
