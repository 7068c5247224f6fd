package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"projectchat/pkg/types"
)

// fakeClock fires timers synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	when    time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, when: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward, running due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.fired || t.stopped || t.when.After(target) {
				continue
			}
			if next == nil || t.when.Before(next.when) || (t.when.Equal(next.when) && t.seq < next.seq) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.when
		next.fired = true
		c.mu.Unlock()

		next.f()
	}
}

// pending lists the delays of armed timers, shortest first.
func (c *fakeClock) pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			out = append(out, t.when.Sub(c.now))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type fakeTransport struct {
	mu        sync.Mutex
	sent      []*types.Envelope
	inbox     chan *types.Envelope
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbox:  make(chan *types.Envelope, 64),
		closed: make(chan struct{}),
	}
}

func (t *fakeTransport) Send(env *types.Envelope) error {
	select {
	case <-t.closed:
		return errors.New("transport closed")
	default:
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, env)
	return nil
}

func (t *fakeTransport) Receive() (*types.Envelope, error) {
	select {
	case env := <-t.inbox:
		return env, nil
	case <-t.closed:
		return nil, io.EOF
	}
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// push delivers a server event to the client.
func (t *fakeTransport) push(tb testing.TB, event string, payload interface{}) {
	tb.Helper()
	env, err := types.NewEnvelope(event, payload)
	require.NoError(tb, err)
	t.inbox <- env
}

func (t *fakeTransport) events() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.sent))
	for _, env := range t.sent {
		names = append(names, env.Event)
	}
	return names
}

// sentOf returns the project ids of every sent event with the given name.
func (t *fakeTransport) sentOf(event string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []string
	for _, env := range t.sent {
		if env.Event != event {
			continue
		}
		var p types.ProjectPayload
		_ = env.Decode(&p)
		ids = append(ids, p.ProjectID)
	}
	return ids
}

func (t *fakeTransport) count(event string) int {
	return len(t.sentOf(event))
}

type fakeDialer struct {
	mu         sync.Mutex
	failures   []error
	transports []*fakeTransport
	urls       []string
	tokens     []string
}

func (d *fakeDialer) Dial(ctx context.Context, socketURL, token string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, socketURL)
	d.tokens = append(d.tokens, token)
	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		if err != nil {
			return nil, err
		}
	}
	t := newFakeTransport()
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) failNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, errs...)
}

func (d *fakeDialer) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

type fakeAPI struct {
	mu        sync.Mutex
	created   []types.CreateMessageRequest
	createErr error
	history   []*types.Message
	listErr   error
}

func (a *fakeAPI) CreateMessage(ctx context.Context, projectID string, req types.CreateMessageRequest) (*types.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.created = append(a.created, req)
	if a.createErr != nil {
		return nil, a.createErr
	}
	return &types.Message{
		ID:        fmt.Sprintf("rest-%d", len(a.created)),
		Content:   req.Content,
		SenderID:  "alice",
		ProjectID: projectID,
		Type:      req.Type,
		Sender:    &types.Sender{ID: "alice", Username: "Alice"},
	}, nil
}

func (a *fakeAPI) ListMessages(ctx context.Context, projectID string, limit int) ([]*types.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listErr != nil {
		return nil, a.listErr
	}
	return a.history, nil
}

func (a *fakeAPI) createCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.created)
}

type fakeSystem struct {
	mu        sync.Mutex
	perm      Permission
	requests  int
	delivered []string
}

func (s *fakeSystem) Permission() Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perm
}

func (s *fakeSystem) RequestPermission() Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	s.perm = PermissionGranted
	return s.perm
}

func (s *fakeSystem) Notify(title, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, title+"|"+body)
	return nil
}

const testBaseURL = "http://chat.test"

func waitStatus(t *testing.T, m *Manager, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Status() == want }, 2*time.Second, 5*time.Millisecond,
		"status never became %s (now %s)", want, m.Status())
}

// connectedManager returns a manager with a live fake transport.
func connectedManager(t *testing.T, clock *fakeClock, dialer *fakeDialer) *Manager {
	t.Helper()
	m := NewManager(ManagerOptions{Dialer: dialer, Clock: clock})
	t.Cleanup(m.Close)
	m.Open(Credentials{Token: "tok", UserID: "alice"}, testBaseURL)
	waitStatus(t, m, StatusConnected)
	return m
}

func handshake(t *testing.T, tr *fakeTransport, userID string) {
	t.Helper()
	tr.push(t, types.EventConnected, types.ConnectedPayload{UserID: userID, Username: userID, ConnectionID: "c-" + userID})
}

func envelope(t *testing.T, event string, payload interface{}) *types.Envelope {
	t.Helper()
	env, err := types.NewEnvelope(event, payload)
	require.NoError(t, err)
	return env
}
