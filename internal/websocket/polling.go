package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"projectchat/internal/auth"
	"projectchat/pkg/types"
)

// maxPollBody caps one POST of client events.
const maxPollBody = 1 << 20

// PollOpenResponse is returned when a polling session starts.
type PollOpenResponse struct {
	SessionID string `json:"sid"`
}

// PollBatch carries envelopes in either direction of a polling session.
type PollBatch struct {
	Events []json.RawMessage `json:"events"`
}

// PollConnection is a long-polling session. Outbound envelopes queue until
// the client's next GET collects them.
type PollConnection struct {
	id   string
	opts Options

	mu            sync.Mutex
	queue         []json.RawMessage
	userID        string
	username      string
	projectID     string
	authenticated bool
	lastSeen      time.Time
	inFlight      int

	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	endOnce   sync.Once
}

func NewPollConnection(opts Options) *PollConnection {
	return &PollConnection{
		id:       uuid.NewString(),
		opts:     opts.withDefaults(),
		lastSeen: time.Now(),
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// WriteJSON queues v for the next poll.
func (c *PollConnection) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	if len(c.queue) >= c.opts.BufferSize {
		return ErrPollQueueFull
	}
	c.queue = append(c.queue, data)

	select {
	case c.ready <- struct{}{}:
	default:
	}
	return nil
}

// collect waits up to wait for queued envelopes and takes all of them. It
// returns an empty batch on timeout and ErrConnectionClosed once closed.
func (c *PollConnection) collect(wait time.Duration, cancel <-chan struct{}) ([]json.RawMessage, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			batch := c.queue
			c.queue = nil
			c.mu.Unlock()
			return batch, nil
		}
		c.mu.Unlock()

		select {
		case <-c.ready:
		case <-c.done:
			return nil, ErrConnectionClosed
		case <-timer.C:
			return []json.RawMessage{}, nil
		case <-cancel:
			return []json.RawMessage{}, nil
		}
	}
}

func (c *PollConnection) touch(delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight += delta
	c.lastSeen = time.Now()
}

func (c *PollConnection) idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight == 0 && time.Since(c.lastSeen) > c.opts.PollTimeout
}

// Close is idempotent.
func (c *PollConnection) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// Done is closed once the session is closed.
func (c *PollConnection) Done() <-chan struct{} {
	return c.done
}

func (c *PollConnection) SetCredentials(userID, username string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.username = username
	c.authenticated = true
	return nil
}

func (c *PollConnection) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *PollConnection) GetConnectionID() string {
	return c.id
}

func (c *PollConnection) GetUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *PollConnection) GetUsername() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

func (c *PollConnection) GetProjectID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projectID
}

func (c *PollConnection) SetProjectID(projectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.projectID = projectID
}

// HandlePolling serves /poll: POST without sid opens a session, GET
// long-polls for events, POST with sid submits events and DELETE ends it.
// Every request carries the same bearer token as the socket handshake.
func (h *Handler) HandlePolling(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.Verify(auth.ExtractToken(r))
	if err != nil {
		writePollError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	sid := r.URL.Query().Get("sid")
	if sid == "" {
		if r.Method != http.MethodPost {
			writePollError(w, http.StatusBadRequest, "bad_request", "sid is required")
			return
		}
		h.openPoll(w, identity)
		return
	}

	conn, ok := h.lookupPoll(sid, identity.UserID)
	if !ok {
		writePollError(w, http.StatusNotFound, "not_found", "unknown polling session")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.pollEvents(w, r, conn)
	case http.MethodPost:
		h.submitEvents(w, r, conn)
	case http.MethodDelete:
		h.endPoll(conn)
		w.WriteHeader(http.StatusNoContent)
	default:
		writePollError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" is not supported")
	}
}

func (h *Handler) openPoll(w http.ResponseWriter, identity *types.Identity) {
	conn := NewPollConnection(h.opts)
	if err := conn.SetCredentials(identity.UserID, identity.Username); err != nil {
		writePollError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if err := h.registry.RegisterConnection(conn); err != nil {
		h.logger.Error("failed to register polling session", zap.Error(err))
		writePollError(w, http.StatusInternalServerError, "internal_error", "session not registered")
		return
	}

	h.logger.Info("polling session opened",
		zap.String("user_id", identity.UserID),
		zap.String("connection_id", conn.GetConnectionID()))

	h.send(conn, types.EventConnected, types.ConnectedPayload{
		UserID:       identity.UserID,
		Username:     identity.Username,
		ConnectionID: conn.GetConnectionID(),
	})
	go h.watchPoll(conn)

	writePollJSON(w, http.StatusOK, PollOpenResponse{SessionID: conn.GetConnectionID()})
}

func (h *Handler) lookupPoll(sid, userID string) (*PollConnection, bool) {
	found, ok := h.registry.GetConnection(sid)
	if !ok {
		return nil, false
	}
	conn, ok := found.(*PollConnection)
	if !ok || conn.GetUserID() != userID {
		return nil, false
	}
	return conn, true
}

func (h *Handler) pollEvents(w http.ResponseWriter, r *http.Request, conn *PollConnection) {
	conn.touch(1)
	defer conn.touch(-1)

	batch, err := conn.collect(h.opts.PollWait, r.Context().Done())
	if err != nil {
		writePollError(w, http.StatusNotFound, "not_found", "polling session closed")
		return
	}
	writePollJSON(w, http.StatusOK, PollBatch{Events: batch})
}

func (h *Handler) submitEvents(w http.ResponseWriter, r *http.Request, conn *PollConnection) {
	conn.touch(1)
	defer conn.touch(-1)

	var batch PollBatch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPollBody)).Decode(&batch); err != nil {
		writePollError(w, http.StatusBadRequest, "bad_request", "body must be {\"events\": [...]}")
		return
	}

	for _, raw := range batch.Events {
		var env types.Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			h.send(conn, types.EventError, types.ErrorPayload{
				Code:    CodeInvalidMessage,
				Message: "frame must be {\"event\": ..., \"data\": ...}",
			})
			continue
		}
		if err := h.sink.Submit(conn, &env); err != nil {
			h.send(conn, types.EventError, types.ErrorPayload{Code: CodeServerBusy, Message: err.Error()})
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// watchPoll ends a session whose client stopped polling.
func (h *Handler) watchPoll(conn *PollConnection) {
	ticker := time.NewTicker(h.opts.PollTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-conn.Done():
			return
		case <-ticker.C:
			if conn.idle() {
				h.logger.Debug("polling session timed out", zap.String("connection_id", conn.GetConnectionID()))
				h.endPoll(conn)
				return
			}
		}
	}
}

func (h *Handler) endPoll(conn *PollConnection) {
	conn.endOnce.Do(func() {
		if err := h.sink.Disconnect(conn); err != nil {
			h.logger.Warn("disconnect not routed, unregistering directly", zap.Error(err))
			h.registry.UnregisterConnection(conn)
		}
		_ = conn.Close()
	})
}

func writePollJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writePollError(w http.ResponseWriter, status int, code, message string) {
	writePollJSON(w, status, map[string]string{"error": code, "message": message})
}
