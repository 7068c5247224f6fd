package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"projectchat/internal/auth"
	"projectchat/pkg/interfaces"
	"projectchat/pkg/types"
)

// Error codes sent in error events by the socket layer.
const (
	CodeInvalidMessage = "invalid_message"
	CodeServerBusy     = "server_busy"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// FUNCTIONAL DISCOVERY: Allow all origins; the bearer token is the gate
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// EventSink receives decoded client events and disconnects in arrival order.
type EventSink interface {
	Submit(conn interfaces.Connection, env *types.Envelope) error
	Disconnect(conn interfaces.Connection) error
}

// Handler authenticates socket handshakes and pumps frames into the sink
// ARCHITECTURAL DISCOVERY: Multi-stage validation (token -> upgrade -> registration)
// ensures invalid handshakes never consume a socket
type Handler struct {
	registry *Registry
	verifier interfaces.TokenVerifier
	sink     EventSink
	opts     Options
	logger   *zap.Logger
}

func NewHandler(registry *Registry, verifier interfaces.TokenVerifier, sink EventSink, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry: registry,
		verifier: verifier,
		sink:     sink,
		opts:     opts.withDefaults(),
		logger:   logger.Named("websocket"),
	}
}

// HandleWebSocket serves GET /ws.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.Verify(auth.ExtractToken(r))
	if err != nil {
		// FUNCTIONAL DISCOVERY: 401 before upgrade lets clients treat auth failure as terminal
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":   "unauthorized",
			"message": err.Error(),
		})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	wsConn := NewConnection(conn, h.opts)
	if err := wsConn.SetCredentials(identity.UserID, identity.Username); err != nil {
		h.logger.Error("failed to set credentials", zap.Error(err))
		_ = wsConn.Close()
		return
	}
	if err := h.registry.RegisterConnection(wsConn); err != nil {
		h.logger.Error("failed to register connection", zap.Error(err))
		_ = wsConn.Close()
		return
	}

	h.logger.Info("connection established",
		zap.String("user_id", identity.UserID),
		zap.String("connection_id", wsConn.GetConnectionID()))

	h.send(wsConn, types.EventConnected, types.ConnectedPayload{
		UserID:       identity.UserID,
		Username:     identity.Username,
		ConnectionID: wsConn.GetConnectionID(),
	})

	go h.handleConnection(wsConn)
}

// handleConnection reads until the socket fails, then hands the disconnect to the sink.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		if err := h.sink.Disconnect(conn); err != nil {
			h.logger.Warn("disconnect not routed, unregistering directly", zap.Error(err))
			h.registry.UnregisterConnection(conn)
		}
		_ = conn.Close()
	}()

	err := conn.readPump(func(data []byte) {
		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			h.send(conn, types.EventError, types.ErrorPayload{
				Code:    CodeInvalidMessage,
				Message: "frame must be {\"event\": ..., \"data\": ...}",
			})
			return
		}
		if err := h.sink.Submit(conn, &env); err != nil {
			h.send(conn, types.EventError, types.ErrorPayload{Code: CodeServerBusy, Message: err.Error()})
		}
	})

	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		h.logger.Debug("websocket closed unexpectedly", zap.String("user_id", conn.GetUserID()), zap.Error(err))
	}
}

func (h *Handler) send(conn interfaces.Connection, event string, payload interface{}) {
	env, err := types.NewEnvelope(event, payload)
	if err != nil {
		h.logger.Error("failed to encode event", zap.String("event", event), zap.Error(err))
		return
	}
	if err := conn.WriteJSON(env); err != nil {
		h.logger.Debug("failed to send event", zap.String("event", event), zap.Error(err))
	}
}
