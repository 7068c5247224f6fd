package integration

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"projectchat/internal/app"
	"projectchat/internal/config"
	"projectchat/pkg/realtime"
)

const waitFor = 5 * time.Second
const tick = 10 * time.Millisecond

type testServer struct {
	app    *app.Application
	apiURL string
}

// startServer runs the full application on a free local port.
func startServer(t *testing.T) *testServer {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "integration.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = port
	cfg.HTTP.Mode = "test"
	cfg.Auth.JWTSecret = "integration-secret"

	application, err := app.NewApplication(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})

	return &testServer{
		app:    application,
		apiURL: fmt.Sprintf("http://%s/api/v1", application.GetAddr()),
	}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := s.app.Auth().Issue(userID, "name-"+userID)
	require.NoError(t, err)
	return token
}

// mount opens a session for userID in projectID and waits for the join.
func (s *testServer) mount(t *testing.T, userID, projectID string, dialer realtime.Dialer) *realtime.Session {
	t.Helper()
	session, err := realtime.NewSession(realtime.SessionConfig{
		APIURL:    s.apiURL,
		Token:     s.token(t, userID),
		UserID:    userID,
		ProjectID: projectID,
		Dialer:    dialer,
	})
	require.NoError(t, err)
	t.Cleanup(session.Close)

	session.Mount(context.Background())
	return session
}

func waitOnline(t *testing.T, s *realtime.Session, users ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		online := s.OnlineUsers()
		if len(online) != len(users) {
			return false
		}
		for i := range users {
			if online[i] != users[i] {
				return false
			}
		}
		return true
	}, waitFor, tick, "online users never became %v", users)
}

// killableDialer dials real sockets and can drop them all at once.
type killableDialer struct {
	inner realtime.Dialer

	mu   sync.Mutex
	live []realtime.Transport
}

func newKillableDialer() *killableDialer {
	return &killableDialer{inner: realtime.NewWebSocketDialer()}
}

func (d *killableDialer) Dial(ctx context.Context, socketURL, token string) (realtime.Transport, error) {
	t, err := d.inner.Dial(ctx, socketURL, token)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.live = append(d.live, t)
	d.mu.Unlock()
	return t, nil
}

func (d *killableDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

func (d *killableDialer) kill() {
	d.mu.Lock()
	live := d.live
	d.mu.Unlock()
	for _, t := range live {
		_ = t.Close()
	}
}

// blockedDialer never gets a socket through, leaving REST as the only path.
type blockedDialer struct{}

func (blockedDialer) Dial(ctx context.Context, socketURL, token string) (realtime.Transport, error) {
	return nil, fmt.Errorf("%w: websocket blocked", realtime.ErrUnauthorized)
}
