package realtime

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectchat/pkg/types"
)

type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) record(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *statusRecorder) all() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}

func TestManager_OpenWithoutCredentialsIsNoop(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(ManagerOptions{Dialer: dialer, Clock: newFakeClock()})

	m.Open(Credentials{Token: "", UserID: "alice"}, testBaseURL)
	m.Open(Credentials{Token: "tok", UserID: ""}, testBaseURL)

	assert.Equal(t, StatusDisconnected, m.Status())
	assert.Equal(t, 0, dialer.calls())
}

func TestManager_ConnectsAndAuthenticates(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(ManagerOptions{Dialer: dialer, Clock: newFakeClock()})
	defer m.Close()

	rec := &statusRecorder{}
	m.OnStatus(rec.record)

	var mu sync.Mutex
	var seen []string
	m.On(types.EventConnected, func(env *types.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, env.Event)
	})

	m.Open(Credentials{Token: "tok", UserID: "alice"}, "https://chat.test/")
	require.Eventually(t, func() bool { return len(rec.all()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []Status{StatusConnecting, StatusConnected}, rec.all())
	assert.Equal(t, []string{"wss://chat.test/ws"}, dialer.urls)
	assert.Equal(t, []string{"tok"}, dialer.tokens)
	assert.Nil(t, m.Identity())

	handshake(t, dialer.last(), "alice")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, 5*time.Millisecond)
	require.NotNil(t, m.Identity())
	assert.Equal(t, "c-alice", m.Identity().ConnectionID)
}

// FUNCTIONAL VALIDATION TEST: Close twice leaves the same end state as once
func TestManager_CloseIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	m := connectedManager(t, newFakeClock(), dialer)
	m.On(types.EventNewMessage, func(*types.Envelope) {})
	m.On(types.EventUserJoined, func(*types.Envelope) {})
	m.OnStatus(func(Status) {})
	require.Equal(t, 3, m.ListenerCount())

	m.Close()
	assert.Equal(t, StatusDisconnected, m.Status())
	assert.Equal(t, 0, m.ListenerCount())
	assert.True(t, dialer.last().isClosed())

	m.Close()
	assert.Equal(t, StatusDisconnected, m.Status())
	assert.Equal(t, 0, m.ListenerCount())
	assert.Equal(t, 1, dialer.calls())

	fresh := NewManager(ManagerOptions{Dialer: dialer})
	fresh.Close()
	fresh.Close()
	assert.Equal(t, StatusDisconnected, fresh.Status())
}

func TestManager_CloseNotifiesObserversBeforeRemovingThem(t *testing.T) {
	m := connectedManager(t, newFakeClock(), &fakeDialer{})
	rec := &statusRecorder{}
	m.OnStatus(rec.record)

	m.Close()
	assert.Equal(t, []Status{StatusDisconnected}, rec.all())
}

// Observers registered while a change is being delivered only see later changes
func TestManager_StatusObserversAreSnapshotPerChange(t *testing.T) {
	m := connectedManager(t, newFakeClock(), &fakeDialer{})
	first, late := &statusRecorder{}, &statusRecorder{}
	m.OnStatus(func(s Status) {
		first.record(s)
		m.OnStatus(late.record)
	})

	m.Close()
	assert.Equal(t, []Status{StatusDisconnected}, first.all())
	assert.Empty(t, late.all())
	assert.Equal(t, 0, m.ListenerCount())
}

// TECHNICAL VALIDATION TEST: Retries follow 1s, 2s, 4s, 5s, 5s and then stop
func TestManager_ReconnectScheduleIsBounded(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{}
	refused := errors.New("connection refused")
	dialer.failNext(refused, refused, refused, refused, refused, refused)

	m := NewManager(ManagerOptions{Dialer: dialer, Clock: clock})
	defer m.Close()

	var mu sync.Mutex
	connectErrors := 0
	m.On(types.EventConnectError, func(env *types.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		connectErrors++
	})

	m.Open(Credentials{Token: "tok", UserID: "alice"}, testBaseURL)
	waitStatus(t, m, StatusReconnecting)

	for i, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second} {
		require.Equal(t, []time.Duration{want}, clock.pending(), "retry %d", i+1)
		assert.Equal(t, StatusReconnecting, m.Status())
		clock.Advance(want)
		assert.Equal(t, i+2, dialer.calls())
	}

	assert.Equal(t, StatusDisconnected, m.Status())
	assert.Empty(t, clock.pending())

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connectErrors == 6
	}, time.Second, 5*time.Millisecond)
}

func TestManager_UnauthorizedIsTerminal(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{}
	dialer.failNext(fmt.Errorf("%w: 401", ErrUnauthorized))

	m := NewManager(ManagerOptions{Dialer: dialer, Clock: clock})
	defer m.Close()
	rec := &statusRecorder{}
	m.OnStatus(rec.record)

	m.Open(Credentials{Token: "expired", UserID: "alice"}, testBaseURL)
	require.Eventually(t, func() bool { return len(rec.all()) == 2 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []Status{StatusConnecting, StatusDisconnected}, rec.all())
	assert.Empty(t, clock.pending())
	clock.Advance(time.Minute)
	assert.Equal(t, 1, dialer.calls())
}

func TestManager_ReconnectsAfterTransportLoss(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{}
	m := connectedManager(t, clock, dialer)
	first := dialer.last()

	first.Close()
	waitStatus(t, m, StatusReconnecting)
	assert.Equal(t, []time.Duration{time.Second}, clock.pending())

	clock.Advance(time.Second)
	assert.Equal(t, StatusConnected, m.Status())
	assert.Equal(t, 2, dialer.calls())
	assert.NotSame(t, first, dialer.last())

	// A successful connect resets the schedule
	dialer.last().Close()
	waitStatus(t, m, StatusReconnecting)
	assert.Equal(t, []time.Duration{time.Second}, clock.pending())
}

func TestManager_CloseCancelsPendingRetry(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{}
	dialer.failNext(errors.New("refused"))

	m := NewManager(ManagerOptions{Dialer: dialer, Clock: clock})
	m.Open(Credentials{Token: "tok", UserID: "alice"}, testBaseURL)
	waitStatus(t, m, StatusReconnecting)

	m.Close()
	assert.Empty(t, clock.pending())
	clock.Advance(time.Minute)
	assert.Equal(t, 1, dialer.calls())
	assert.Equal(t, StatusDisconnected, m.Status())
}

func TestManager_EmitRequiresConnection(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(ManagerOptions{Dialer: dialer, Clock: newFakeClock()})
	assert.ErrorIs(t, m.Emit(types.EventJoinProject, types.ProjectPayload{ProjectID: "P1"}), ErrNotConnected)

	m = connectedManager(t, newFakeClock(), dialer)
	require.NoError(t, m.Emit(types.EventJoinProject, types.ProjectPayload{ProjectID: "P1"}))
	assert.Equal(t, []string{"P1"}, dialer.last().sentOf(types.EventJoinProject))
}

func TestManager_OpenWhileActiveIsIgnored(t *testing.T) {
	dialer := &fakeDialer{}
	m := connectedManager(t, newFakeClock(), dialer)

	m.Open(Credentials{Token: "other", UserID: "bob"}, testBaseURL)
	assert.Equal(t, StatusConnected, m.Status())
	assert.Equal(t, 1, dialer.calls())
}

func TestManager_ReopenAfterClose(t *testing.T) {
	dialer := &fakeDialer{}
	m := connectedManager(t, newFakeClock(), dialer)
	m.Close()

	m.Open(Credentials{Token: "tok", UserID: "alice"}, testBaseURL)
	waitStatus(t, m, StatusConnected)
	assert.Equal(t, 2, dialer.calls())
}

func TestStatus_Label(t *testing.T) {
	assert.Equal(t, "Connected", StatusConnected.Label())
	assert.Equal(t, "Connecting...", StatusConnecting.Label())
	assert.Equal(t, "Reconnecting...", StatusReconnecting.Label())
	assert.Equal(t, "Disconnected", StatusDisconnected.Label())
}
