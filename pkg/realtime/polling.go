package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"projectchat/pkg/types"
)

// ErrPollSessionGone means the server no longer knows the polling session.
var ErrPollSessionGone = errors.New("realtime: polling session closed by server")

// PollingDialer opens long-polling sessions against the server's /poll
// endpoint. It works wherever plain HTTP does.
type PollingDialer struct {
	Client *http.Client
	// PollTimeout bounds one long-poll request; it must exceed the server's
	// hold time.
	PollTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

func NewPollingDialer() *PollingDialer {
	return &PollingDialer{
		Client:       &http.Client{},
		PollTimeout:  45 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

type pollOpenResponse struct {
	SessionID string `json:"sid"`
}

type pollBatch struct {
	Events []json.RawMessage `json:"events"`
}

// Dial opens a session. The server's connected event is the first envelope
// Receive returns.
func (d *PollingDialer) Dial(ctx context.Context, socketURL, token string) (Transport, error) {
	endpoint, err := PollURL(socketURL)
	if err != nil {
		return nil, err
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open polling session: %w", err)
	}
	defer resp.Body.Close()
	if err := pollStatusError(resp); err != nil {
		return nil, err
	}

	var opened pollOpenResponse
	if err := json.NewDecoder(resp.Body).Decode(&opened); err != nil || opened.SessionID == "" {
		return nil, fmt.Errorf("failed to open polling session: bad handshake response")
	}

	sessionURL := endpoint + "?sid=" + url.QueryEscape(opened.SessionID)
	tctx, cancel := context.WithCancel(context.Background())
	return &pollTransport{
		client:       client,
		url:          sessionURL,
		token:        token,
		pollTimeout:  d.PollTimeout,
		writeTimeout: d.WriteTimeout,
		logger:       logger.Named("polling"),
		ctx:          tctx,
		cancel:       cancel,
	}, nil
}

func pollStatusError(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: polling handshake rejected", ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		return ErrPollSessionGone
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("polling request failed with %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}

type pollTransport struct {
	client       *http.Client
	url          string
	token        string
	pollTimeout  time.Duration
	writeTimeout time.Duration
	logger       *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	// pending is only touched by the single reader.
	pending []*types.Envelope
}

func (t *pollTransport) do(ctx context.Context, method string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return t.client.Do(req)
}

func (t *pollTransport) Send(env *types.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", env.Event, err)
	}
	body, err := json.Marshal(pollBatch{Events: []json.RawMessage{raw}})
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", env.Event, err)
	}

	ctx, cancel := context.WithTimeout(t.ctx, t.writeTimeout)
	defer cancel()
	resp, err := t.do(ctx, http.MethodPost, body)
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", env.Event, err)
	}
	defer resp.Body.Close()
	if err := pollStatusError(resp); err != nil {
		return fmt.Errorf("failed to send %s: %w", env.Event, err)
	}
	return nil
}

// Receive long-polls until at least one envelope arrives. Entries that do
// not decode to an envelope are skipped.
func (t *pollTransport) Receive() (*types.Envelope, error) {
	for len(t.pending) == 0 {
		batch, err := t.poll()
		if err != nil {
			return nil, err
		}
		for _, raw := range batch {
			var env types.Envelope
			if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
				t.logger.Warn("dropping malformed event", zap.Int("bytes", len(raw)))
				continue
			}
			t.pending = append(t.pending, &env)
		}
	}
	env := t.pending[0]
	t.pending = t.pending[1:]
	return env, nil
}

func (t *pollTransport) poll() ([]json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(t.ctx, t.pollTimeout)
	defer cancel()

	resp, err := t.do(ctx, http.MethodGet, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := pollStatusError(resp); err != nil {
		return nil, err
	}

	var batch pollBatch
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		t.logger.Warn("dropping malformed poll response", zap.Error(err))
		return nil, nil
	}
	return batch.Events, nil
}

// Close cancels any in-flight poll and ends the session on the server.
func (t *pollTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		resp, derr := t.do(ctx, http.MethodDelete, nil)
		if derr != nil {
			err = derr
			return
		}
		_ = resp.Body.Close()
	})
	return err
}

// UpgradeDialer connects over long-polling first and moves the session to a
// WebSocket when the upgrade succeeds. When it fails the connection stays on
// polling until the next reconnect tries again.
type UpgradeDialer struct {
	Polling   *PollingDialer
	WebSocket *WebSocketDialer
	Logger    *zap.Logger
}

func NewUpgradeDialer(logger *zap.Logger) *UpgradeDialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	polling := NewPollingDialer()
	polling.Logger = logger
	ws := NewWebSocketDialer()
	ws.Logger = logger
	return &UpgradeDialer{Polling: polling, WebSocket: ws, Logger: logger}
}

func (d *UpgradeDialer) Dial(ctx context.Context, socketURL, token string) (Transport, error) {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	poll, pollErr := d.Polling.Dial(ctx, socketURL, token)
	if errors.Is(pollErr, ErrUnauthorized) {
		return nil, pollErr
	}

	ws, wsErr := d.WebSocket.Dial(ctx, socketURL, token)
	if wsErr == nil {
		if poll != nil {
			_ = poll.Close()
		}
		return ws, nil
	}
	if poll != nil {
		logger.Info("websocket upgrade unavailable, staying on polling", zap.Error(wsErr))
		return poll, nil
	}
	if errors.Is(wsErr, ErrUnauthorized) {
		return nil, wsErr
	}
	return nil, fmt.Errorf("polling: %v; websocket: %w", pollErr, wsErr)
}
