package realtime

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectchat/pkg/types"
)

func newTestSession(t *testing.T, dialer *fakeDialer, api *fakeAPI, clock *fakeClock, system SystemNotifier) *Session {
	t.Helper()
	s, err := NewSession(SessionConfig{
		APIURL:    "http://chat.test/api/v1",
		Token:     "tok",
		UserID:    "alice",
		ProjectID: "P1",
		Dialer:    dialer,
		Clock:     clock,
		API:       api,
		System:    system,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestSession_MountWithoutCredentialsIsNoop(t *testing.T) {
	dialer := &fakeDialer{}
	s, err := NewSession(SessionConfig{APIURL: "http://chat.test/api/v1", ProjectID: "P1", Dialer: dialer, API: &fakeAPI{}})
	require.NoError(t, err)

	s.Mount(context.Background())
	assert.Equal(t, StatusDisconnected, s.Status())
	assert.Equal(t, 0, dialer.calls())

	_, err = NewSession(SessionConfig{APIURL: "chat.test"})
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestSession_MountJoinsOnHandshakeAndLoadsHistory(t *testing.T) {
	dialer := &fakeDialer{}
	api := &fakeAPI{history: []*types.Message{{ID: "h1", Content: "earlier"}}}
	system := &fakeSystem{perm: PermissionDefault}
	s := newTestSession(t, dialer, api, newFakeClock(), system)

	s.Mount(context.Background())
	require.Eventually(t, func() bool { return s.Status() == StatusConnected }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ws://chat.test/ws"}, dialer.urls)
	require.Len(t, s.Messages(), 1)
	assert.Equal(t, 1, system.requests)

	tr := dialer.last()
	handshake(t, tr, "alice")
	require.Eventually(t, func() bool { return tr.count(types.EventJoinProject) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"P1"}, tr.sentOf(types.EventJoinProject))

	tr.push(t, types.EventPresenceRoster, types.RosterPayload{ProjectID: "P1", Users: []types.PresenceUser{{UserID: "alice"}, {UserID: "bob"}}})
	require.Eventually(t, func() bool { return len(s.OnlineUsers()) == 2 }, time.Second, 5*time.Millisecond)

	s.Unmount()
	s.Mount(context.Background())
	assert.Equal(t, 1, system.requests, "permission is only asked once")
}

func TestSession_SubmitOverSocket(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestSession(t, dialer, &fakeAPI{}, newFakeClock(), nil)
	s.Mount(context.Background())
	require.Eventually(t, func() bool { return s.Status() == StatusConnected }, time.Second, 5*time.Millisecond)

	s.Keystroke("h")
	s.Keystroke("hi")
	require.NoError(t, s.Submit(context.Background()))
	assert.Empty(t, s.Draft())
	assert.Equal(t, []string{types.EventTypingStart, types.EventTypingStop, types.EventSendMessage}, dialer.last().events())
}

// Scenario: offline send goes through REST and the returned message is shown
func TestSession_SubmitFallsBackToREST(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.failNext(fmt.Errorf("%w: 401", ErrUnauthorized))
	api := &fakeAPI{}
	s := newTestSession(t, dialer, api, newFakeClock(), nil)

	s.Mount(context.Background())
	require.Eventually(t, func() bool { return dialer.calls() == 1 && s.Status() == StatusDisconnected }, time.Second, 5*time.Millisecond)

	s.SetDraft("hello")
	require.NoError(t, s.Submit(context.Background()))
	assert.Empty(t, s.Draft())
	require.Len(t, s.Messages(), 1)
	assert.Equal(t, "hello", s.Messages()[0].Content)
	assert.Equal(t, 1, api.createCalls())
}

// FUNCTIONAL VALIDATION TEST: A failed offline send restores the draft and raises one error
func TestSession_FailedSendRestoresDraft(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.failNext(fmt.Errorf("%w: 401", ErrUnauthorized))
	api := &fakeAPI{createErr: &APIError{StatusCode: 500, Message: "boom"}}
	s := newTestSession(t, dialer, api, newFakeClock(), nil)

	s.Mount(context.Background())
	require.Eventually(t, func() bool { return dialer.calls() == 1 && s.Status() == StatusDisconnected }, time.Second, 5*time.Millisecond)

	s.SetDraft("  hello draft ")
	err := s.Submit(context.Background())
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.Equal(t, "  hello draft ", s.Draft())

	list := s.Notifications().List()
	require.Len(t, list, 1)
	assert.Equal(t, types.NotificationError, list[0].Type)
	assert.Empty(t, s.Messages())
}

func TestSession_SwitchProjectTearsDown(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestSession(t, dialer, &fakeAPI{}, newFakeClock(), nil)
	s.Mount(context.Background())
	require.Eventually(t, func() bool { return s.Status() == StatusConnected }, time.Second, 5*time.Millisecond)
	first := dialer.last()
	s.SetDraft("unsent")

	s.mu.Lock()
	oldManager := s.manager
	s.mu.Unlock()

	s.SwitchProject(context.Background(), "P2")
	assert.True(t, first.isClosed())
	assert.Equal(t, 0, oldManager.ListenerCount())
	assert.Equal(t, "P2", s.ProjectID())
	assert.Empty(t, s.Draft())

	require.Eventually(t, func() bool { return dialer.calls() == 2 && s.Status() == StatusConnected }, time.Second, 5*time.Millisecond)
	second := dialer.last()
	handshake(t, second, "alice")
	require.Eventually(t, func() bool { return second.count(types.EventJoinProject) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"P2"}, second.sentOf(types.EventJoinProject))
	assert.Empty(t, first.sentOf(types.EventJoinProject))
}

func TestSession_SubmitWhileUnmounted(t *testing.T) {
	s := newTestSession(t, &fakeDialer{}, &fakeAPI{}, newFakeClock(), nil)
	s.SetDraft("hello")
	assert.ErrorIs(t, s.Submit(context.Background()), ErrNotConnected)
	assert.Equal(t, "hello", s.Draft())
}
