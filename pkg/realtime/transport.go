package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"projectchat/pkg/types"
)

// Transport is one established socket carrying envelopes.
type Transport interface {
	Send(env *types.Envelope) error
	// Receive blocks until the next envelope or a read error.
	Receive() (*types.Envelope, error)
	Close() error
}

// Dialer opens a Transport to a socket URL using a bearer token.
type Dialer interface {
	Dial(ctx context.Context, socketURL, token string) (Transport, error)
}

// WebSocketDialer dials the server's /ws endpoint with gorilla/websocket.
type WebSocketDialer struct {
	Dialer       *websocket.Dialer
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Logger reports frames that are skipped as unreadable.
	Logger *zap.Logger
}

// NewWebSocketDialer returns a dialer with the default handshake settings.
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{
		Dialer:       websocket.DefaultDialer,
		ReadTimeout:  75 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Dial performs the upgrade. A 401 from the server is reported as
// ErrUnauthorized so the manager can stop retrying.
func (d *WebSocketDialer) Dial(ctx context.Context, socketURL, token string) (Transport, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := d.Dialer.DialContext(ctx, socketURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &wsTransport{
		conn:         conn,
		readTimeout:  d.ReadTimeout,
		writeTimeout: d.WriteTimeout,
		logger:       logger.Named("transport"),
	}
	t.extendDeadline()
	conn.SetPingHandler(func(data string) error {
		t.extendDeadline()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	return t, nil
}

type wsTransport struct {
	conn         *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
	logger       *zap.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (t *wsTransport) extendDeadline() {
	if t.readTimeout > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.readTimeout))
	}
}

func (t *wsTransport) Send(env *types.Envelope) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.writeTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	if err := t.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("failed to send %s: %w", env.Event, err)
	}
	return nil
}

// Receive skips frames that do not decode to an envelope; only read errors
// end the connection.
func (t *wsTransport) Receive() (*types.Envelope, error) {
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		t.extendDeadline()
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.logger.Warn("dropping malformed frame", zap.Int("bytes", len(data)), zap.Error(err))
			continue
		}
		if env.Event == "" {
			t.logger.Warn("dropping frame without event name", zap.Int("bytes", len(data)))
			continue
		}
		return &env, nil
	}
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		_ = t.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = t.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}
