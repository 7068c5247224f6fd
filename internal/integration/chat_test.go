package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectchat/pkg/realtime"
	"projectchat/pkg/types"
)

func contents(msgs []types.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

// Scenario: two members of P1 both see a message and only the recipient is notified
func TestChat_MessageReachesEveryoneInRoom(t *testing.T) {
	srv := startServer(t)
	alice := srv.mount(t, "alice", "P1", nil)
	bob := srv.mount(t, "bob", "P1", nil)
	waitOnline(t, alice, "alice", "bob")
	waitOnline(t, bob, "alice", "bob")

	alice.SetDraft("hi")
	require.NoError(t, alice.Submit(context.Background()))

	for _, s := range []*realtime.Session{alice, bob} {
		require.Eventually(t, func() bool { return len(s.Messages()) == 1 }, waitFor, tick)
		msg := s.Messages()[0]
		assert.Equal(t, "hi", msg.Content)
		assert.Equal(t, "alice", msg.SenderID)
		assert.NotEmpty(t, msg.ID)
	}

	id := alice.Messages()[0].ID
	require.Eventually(t, func() bool { return len(bob.Notifications().List()) == 1 }, waitFor, tick)
	note := bob.Notifications().List()[0]
	assert.Equal(t, "msg-"+id, note.ID)
	assert.Equal(t, "New Message", note.Title)
	assert.Equal(t, "name-alice: hi", note.Message)
	assert.Empty(t, alice.Notifications().List())
}

// Scenario: without a socket the send goes over REST and still reaches the room
func TestChat_OfflineSendUsesREST(t *testing.T) {
	srv := startServer(t)
	bob := srv.mount(t, "bob", "P1", nil)
	waitOnline(t, bob, "bob")

	alice := srv.mount(t, "alice", "P1", blockedDialer{})
	require.Eventually(t, func() bool { return alice.Status() == realtime.StatusDisconnected }, waitFor, tick)

	alice.SetDraft("hello")
	require.NoError(t, alice.Submit(context.Background()))
	assert.Equal(t, []string{"hello"}, contents(alice.Messages()))
	assert.Empty(t, alice.Draft())

	require.Eventually(t, func() bool { return len(bob.Messages()) == 1 }, waitFor, tick)
	assert.Equal(t, alice.Messages()[0].ID, bob.Messages()[0].ID)
}

func TestChat_RejectedOfflineSendRestoresDraft(t *testing.T) {
	srv := startServer(t)

	// Restrict P1 to alice
	body, err := json.Marshal(map[string][]string{"userIds": {"alice"}})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, srv.apiURL+"/projects/P1/members", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+srv.token(t, "alice"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	carol := srv.mount(t, "carol", "P1", blockedDialer{})
	require.Eventually(t, func() bool { return carol.Status() == realtime.StatusDisconnected }, waitFor, tick)

	carol.SetDraft("hello")
	err = carol.Submit(context.Background())
	assert.ErrorIs(t, err, realtime.ErrSendFailed)
	assert.Equal(t, "hello", carol.Draft())

	notes := carol.Notifications().List()
	require.Len(t, notes, 1)
	assert.Equal(t, types.NotificationError, notes[0].Type)
	assert.Empty(t, carol.Messages())
}

// Scenario: a burst of typing shows up once and clears about a second after the last key
func TestChat_TypingIndicator(t *testing.T) {
	srv := startServer(t)
	alice := srv.mount(t, "alice", "P1", nil)
	bob := srv.mount(t, "bob", "P1", nil)
	waitOnline(t, alice, "alice", "bob")
	waitOnline(t, bob, "alice", "bob")

	for i := 1; i <= 5; i++ {
		alice.Keystroke(strings.Repeat("x", i))
		time.Sleep(50 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return len(bob.TypingUsers()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"alice"}, bob.TypingUsers())
	assert.Empty(t, alice.TypingUsers())

	stoppedAt := time.Now()
	require.Eventually(t, func() bool { return len(bob.TypingUsers()) == 0 }, waitFor, tick)
	assert.GreaterOrEqual(t, time.Since(stoppedAt), 700*time.Millisecond)
}

// Scenario: after a network blip the client rejoins its room without user action
func TestChat_RejoinAfterNetworkBlip(t *testing.T) {
	srv := startServer(t)
	dialer := newKillableDialer()
	alice := srv.mount(t, "alice", "P2", dialer)
	bob := srv.mount(t, "bob", "P2", nil)
	waitOnline(t, alice, "alice", "bob")
	waitOnline(t, bob, "alice", "bob")

	dialer.kill()
	waitOnline(t, bob, "bob")

	require.Eventually(t, func() bool {
		return dialer.dials() == 2 && alice.Status() == realtime.StatusConnected
	}, waitFor, tick)
	waitOnline(t, bob, "alice", "bob")
	waitOnline(t, alice, "alice", "bob")

	bob.SetDraft("welcome back")
	require.NoError(t, bob.Submit(context.Background()))
	require.Eventually(t, func() bool { return len(alice.Messages()) == 1 }, waitFor, tick)
	assert.Equal(t, "welcome back", alice.Messages()[0].Content)
}

func TestChat_SwitchProjectMovesPresence(t *testing.T) {
	srv := startServer(t)
	alice := srv.mount(t, "alice", "P1", nil)
	bob := srv.mount(t, "bob", "P1", nil)
	waitOnline(t, bob, "alice", "bob")

	alice.SwitchProject(context.Background(), "P3")
	waitOnline(t, bob, "bob")
	waitOnline(t, alice, "alice")
	assert.Equal(t, "P3", alice.ProjectID())
}

func TestChat_HistoryLoadedOnMount(t *testing.T) {
	srv := startServer(t)
	alice := srv.mount(t, "alice", "P1", nil)
	waitOnline(t, alice, "alice")

	for _, text := range []string{"one", "two"} {
		alice.SetDraft(text)
		require.NoError(t, alice.Submit(context.Background()))
	}
	require.Eventually(t, func() bool { return len(alice.Messages()) == 2 }, waitFor, tick)

	late := srv.mount(t, "bob", "P1", nil)
	assert.Equal(t, []string{"one", "two"}, contents(late.Messages()))
}

// A client that cannot upgrade keeps chatting over long-polling
func TestChat_PollingClientJoinsRoom(t *testing.T) {
	srv := startServer(t)
	bob := srv.mount(t, "bob", "P1", nil)
	waitOnline(t, bob, "bob")

	carol := srv.mount(t, "carol", "P1", realtime.NewPollingDialer())
	waitOnline(t, carol, "bob", "carol")
	waitOnline(t, bob, "bob", "carol")
	assert.Equal(t, realtime.StatusConnected, carol.Status())

	carol.SetDraft("over http")
	require.NoError(t, carol.Submit(context.Background()))
	require.Eventually(t, func() bool { return len(bob.Messages()) == 1 }, waitFor, tick)
	assert.Equal(t, "over http", bob.Messages()[0].Content)

	bob.SetDraft("back over the socket")
	require.NoError(t, bob.Submit(context.Background()))
	require.Eventually(t, func() bool { return len(carol.Messages()) == 2 }, waitFor, tick)

	carol.Close()
	waitOnline(t, bob, "bob")
}
