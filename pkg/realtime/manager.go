package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"projectchat/pkg/types"
)

// Handler receives one inbound envelope. Handlers for a connection run in
// the order the server emitted the events.
type Handler func(env *types.Envelope)

// Credentials identify the user behind a connection.
type Credentials struct {
	Token  string
	UserID string
}

// ReconnectPolicy bounds connection establishment and recovery.
type ReconnectPolicy struct {
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	MaxAttempts    int
	ConnectTimeout time.Duration
}

// DefaultReconnectPolicy is 5 attempts from 1s doubling up to 5s, with a
// 20s connect timeout per attempt.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay:   time.Second,
		MaxDelay:       5 * time.Second,
		Multiplier:     2,
		MaxAttempts:    5,
		ConnectTimeout: 20 * time.Second,
	}
}

func (p ReconnectPolicy) newBackOff(clock Clock) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Clock = backoffClock{clock}
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(p.MaxAttempts))
}

// ManagerOptions configures a Manager. Zero fields take defaults.
type ManagerOptions struct {
	Dialer Dialer
	Clock  Clock
	Policy ReconnectPolicy
	Logger *zap.Logger
}

// Manager owns one authenticated realtime connection and its lifecycle:
// disconnected -> connecting -> connected, connected -> reconnecting ->
// connected on transient loss, and back to disconnected on Close, terminal
// auth failure or exhausted retries.
type Manager struct {
	dialer Dialer
	clock  Clock
	policy ReconnectPolicy
	logger *zap.Logger

	mu             sync.Mutex
	status         Status
	creds          Credentials
	socketURL      string
	generation     uint64
	transport      Transport
	retry          backoff.BackOff
	retryTimer     Timer
	cancelDial     context.CancelFunc
	identity       *types.ConnectedPayload
	handlers       map[string][]Handler
	statusHandlers []func(Status)
}

// NewManager creates a disconnected Manager.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Policy == (ReconnectPolicy{}) {
		opts.Policy = DefaultReconnectPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Dialer == nil {
		opts.Dialer = NewUpgradeDialer(opts.Logger)
	}
	return &Manager{
		dialer:   opts.Dialer,
		clock:    opts.Clock,
		policy:   opts.Policy,
		logger:   opts.Logger.Named("realtime"),
		status:   StatusDisconnected,
		handlers: make(map[string][]Handler),
	}
}

// Open starts connecting in the background. It does nothing without a token
// and user id, or while a previous connection is still active.
func (m *Manager) Open(creds Credentials, baseURL string) {
	if creds.Token == "" || creds.UserID == "" {
		m.logger.Debug("open skipped without credentials")
		return
	}
	socketURL, err := SocketURL(baseURL)
	if err != nil {
		m.logger.Warn("open skipped", zap.Error(err))
		return
	}

	m.mu.Lock()
	if m.status != StatusDisconnected {
		m.mu.Unlock()
		m.logger.Warn("open ignored while a connection is active", zap.String("status", string(m.status)))
		return
	}
	m.generation++
	gen := m.generation
	m.creds = creds
	m.socketURL = socketURL
	m.retry = m.policy.newBackOff(m.clock)
	change := m.setStatusLocked(StatusConnecting)
	m.mu.Unlock()

	change.notify()
	go m.attempt(gen)
}

// Close tears down the transport, cancels pending retries and removes every
// listener. Calling it again is a no-op.
func (m *Manager) Close() {
	m.mu.Lock()
	m.generation++
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	t := m.transport
	m.transport = nil
	m.identity = nil
	change := m.setStatusLocked(StatusDisconnected)
	m.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	change.notify()

	m.mu.Lock()
	m.handlers = make(map[string][]Handler)
	m.statusHandlers = nil
	m.mu.Unlock()
}

// Emit sends an event over the live transport.
func (m *Manager) Emit(event string, payload interface{}) error {
	env, err := types.NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	t := m.transport
	connected := m.status == StatusConnected
	m.mu.Unlock()

	if !connected || t == nil {
		return ErrNotConnected
	}
	if err := t.Send(env); err != nil {
		m.logger.Warn("emit failed", zap.String("event", event), zap.Error(err))
		return err
	}
	return nil
}

// On registers a handler for an inbound event name.
func (m *Manager) On(event string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], h)
}

// OnStatus registers an observer for status transitions.
func (m *Manager) OnStatus(f func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusHandlers = append(m.statusHandlers, f)
}

// ListenerCount is the number of registered event handlers and status observers.
func (m *Manager) ListenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.statusHandlers)
	for _, hs := range m.handlers {
		n += len(hs)
	}
	return n
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Identity is the handshake confirmation of the current connection, nil
// until the server's connected event arrives.
func (m *Manager) Identity() *types.ConnectedPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return nil
	}
	id := *m.identity
	return &id
}

func (m *Manager) attempt(gen uint64) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	ctx, cancel := context.WithTimeout(context.Background(), m.policy.ConnectTimeout)
	m.cancelDial = cancel
	socketURL, token := m.socketURL, m.creds.Token
	m.mu.Unlock()

	t, err := m.dialer.Dial(ctx, socketURL, token)
	cancel()

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		if t != nil {
			_ = t.Close()
		}
		return
	}
	m.cancelDial = nil

	if err != nil {
		change := m.scheduleRetryLocked(gen, err)
		m.mu.Unlock()

		m.logger.Warn("connect failed", zap.String("url", socketURL), zap.Error(err))
		change.notify()
		m.dispatchLocal(types.EventConnectError, types.ErrorPayload{Code: types.EventConnectError, Message: err.Error()})
		return
	}

	m.transport = t
	m.retry.Reset()
	change := m.setStatusLocked(StatusConnected)
	m.mu.Unlock()

	m.logger.Info("connected", zap.String("url", socketURL))
	change.notify()
	go m.readLoop(gen, t)
}

// scheduleRetryLocked arms the next attempt or gives up. Unauthorized is
// terminal.
func (m *Manager) scheduleRetryLocked(gen uint64, cause error) *statusChange {
	if errors.Is(cause, ErrUnauthorized) {
		return m.setStatusLocked(StatusDisconnected)
	}
	delay := m.retry.NextBackOff()
	if delay == backoff.Stop {
		m.logger.Warn("reconnect attempts exhausted", zap.Int("attempts", m.policy.MaxAttempts))
		return m.setStatusLocked(StatusDisconnected)
	}
	m.retryTimer = m.clock.AfterFunc(delay, func() { m.attempt(gen) })
	return m.setStatusLocked(StatusReconnecting)
}

func (m *Manager) readLoop(gen uint64, t Transport) {
	for {
		env, err := t.Receive()
		if err != nil {
			m.transportLost(gen, t, err)
			return
		}
		m.handleEnvelope(gen, env)
	}
}

func (m *Manager) transportLost(gen uint64, t Transport, cause error) {
	m.mu.Lock()
	if gen != m.generation || m.transport != t {
		m.mu.Unlock()
		return
	}
	m.transport = nil
	m.identity = nil
	change := m.scheduleRetryLocked(gen, cause)
	m.mu.Unlock()

	_ = t.Close()
	m.logger.Warn("connection lost", zap.Error(cause))
	change.notify()
}

func (m *Manager) handleEnvelope(gen uint64, env *types.Envelope) {
	switch env.Event {
	case types.EventConnected:
		var identity types.ConnectedPayload
		if err := env.Decode(&identity); err != nil {
			m.logger.Warn("malformed connected payload", zap.Error(err))
			return
		}
		m.mu.Lock()
		if gen != m.generation {
			m.mu.Unlock()
			return
		}
		m.identity = &identity
		m.mu.Unlock()
		m.logger.Debug("authenticated", zap.String("user_id", identity.UserID),
			zap.String("connection_id", identity.ConnectionID))
	case types.EventError:
		var payload types.ErrorPayload
		if err := env.Decode(&payload); err == nil {
			m.logger.Warn("server rejected event", zap.String("code", payload.Code),
				zap.String("message", payload.Message))
		}
	}
	m.dispatch(env)
}

func (m *Manager) dispatchLocal(event string, payload interface{}) {
	env, err := types.NewEnvelope(event, payload)
	if err != nil {
		return
	}
	m.dispatch(env)
}

func (m *Manager) dispatch(env *types.Envelope) {
	m.mu.Lock()
	handlers := append([]Handler(nil), m.handlers[env.Event]...)
	m.mu.Unlock()

	for _, h := range handlers {
		h(env)
	}
}

type statusChange struct {
	status    Status
	observers []func(Status)
}

func (m *Manager) setStatusLocked(s Status) *statusChange {
	if m.status == s {
		return nil
	}
	m.status = s
	observers := make([]func(Status), len(m.statusHandlers))
	copy(observers, m.statusHandlers)
	return &statusChange{status: s, observers: observers}
}

func (c *statusChange) notify() {
	if c == nil {
		return
	}
	for _, f := range c.observers {
		f(c.status)
	}
}
