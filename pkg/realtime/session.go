package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"projectchat/pkg/types"
)

// Hooks are optional observers a view installs once; they are re-attached
// to every connection the session opens.
type Hooks struct {
	OnStatus        func(Status)
	OnMessage       func(types.Message)
	OnPresence      func([]string)
	OnTyping        func([]string)
	OnNotifications func([]Notification)
}

// SessionConfig describes one project chat view.
type SessionConfig struct {
	APIURL       string
	Token        string
	UserID       string
	ProjectID    string
	HistoryLimit int

	Dialer Dialer
	Clock  Clock
	Policy ReconnectPolicy
	Typing *TypingOptions
	API    MessageAPI
	System SystemNotifier
	Hooks  Hooks
	Logger *zap.Logger
}

// Session is a mounted project chat view: one connection, its room, the
// presence and typing sets, the message list and the composer draft.
// Notifications outlive individual mounts.
type Session struct {
	cfg           SessionConfig
	baseURL       string
	api           MessageAPI
	typingOpts    TypingOptions
	logger        *zap.Logger
	notifications *Notifications

	mu        sync.Mutex
	projectID string
	mounted   bool
	manager   *Manager
	room      *Room
	presence  *Presence
	typing    *Typing
	messages  *MessageLog
	channel   *MessageChannel
	draft     string
}

// NewSession validates the API URL and prepares an unmounted session.
func NewSession(cfg SessionConfig) (*Session, error) {
	baseURL, err := BaseURL(cfg.APIURL)
	if err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	api := cfg.API
	if api == nil {
		rest, err := NewRESTClient(cfg.APIURL, cfg.Token, nil)
		if err != nil {
			return nil, err
		}
		api = rest
	}
	typingOpts := DefaultTypingOptions()
	if cfg.Typing != nil {
		typingOpts = *cfg.Typing
	}

	notifications := NewNotifications(cfg.Clock, cfg.System, cfg.Logger)
	if cfg.Hooks.OnNotifications != nil {
		notifications.OnChange(cfg.Hooks.OnNotifications)
	}

	return &Session{
		cfg:           cfg,
		baseURL:       baseURL,
		api:           api,
		typingOpts:    typingOpts,
		logger:        cfg.Logger.Named("session"),
		notifications: notifications,
		projectID:     cfg.ProjectID,
		presence:      NewPresence(nil, nil),
		messages:      NewMessageLog(),
	}, nil
}

// Mount opens the connection for the current project and loads recent
// history. Without a token, user id or project it does nothing.
func (s *Session) Mount(ctx context.Context) {
	if s.cfg.Token == "" || s.cfg.UserID == "" {
		s.logger.Debug("mount skipped without credentials")
		return
	}

	s.mu.Lock()
	if s.mounted || s.projectID == "" {
		s.mu.Unlock()
		return
	}
	projectID := s.projectID
	hooks := s.cfg.Hooks

	m := NewManager(ManagerOptions{
		Dialer: s.cfg.Dialer,
		Clock:  s.cfg.Clock,
		Policy: s.cfg.Policy,
		Logger: s.cfg.Logger,
	})
	room := NewRoom(m, s.cfg.Logger)
	presence := NewPresence(m, s.cfg.Logger)
	typing := NewTyping(m, s.cfg.Clock, s.typingOpts, s.cfg.Logger)
	messages := NewMessageLog()
	channel := NewMessageChannel(m, s.api, messages, typing, s.notifications, s.cfg.Logger)
	s.notifications.Attach(m, s.cfg.UserID)

	if hooks.OnStatus != nil {
		m.OnStatus(hooks.OnStatus)
	}
	if hooks.OnMessage != nil {
		messages.OnAppend(hooks.OnMessage)
	}
	if hooks.OnPresence != nil {
		presence.OnChange(hooks.OnPresence)
	}
	if hooks.OnTyping != nil {
		typing.OnChange(hooks.OnTyping)
	}

	// Recorded now, emitted on the handshake.
	room.Join(projectID)

	s.manager, s.room, s.presence, s.typing = m, room, presence, typing
	s.messages, s.channel = messages, channel
	s.mounted = true
	s.mu.Unlock()

	s.notifications.RequestPermissionOnce()
	m.Open(Credentials{Token: s.cfg.Token, UserID: s.cfg.UserID}, s.baseURL)

	if err := channel.LoadHistory(ctx, projectID, s.cfg.HistoryLimit); err != nil {
		s.logger.Warn("history unavailable", zap.String("project_id", projectID), zap.Error(err))
	}
}

// Unmount closes the connection and cancels typing timers.
func (s *Session) Unmount() {
	s.mu.Lock()
	if !s.mounted {
		s.mu.Unlock()
		return
	}
	m, typing := s.manager, s.typing
	s.mounted = false
	s.mu.Unlock()

	typing.Close()
	m.Close()
}

// SwitchProject tears the view down and mounts it again for projectID.
func (s *Session) SwitchProject(ctx context.Context, projectID string) {
	s.Unmount()

	s.mu.Lock()
	s.projectID = projectID
	s.draft = ""
	s.mu.Unlock()

	s.Mount(ctx)
}

// Close unmounts and drops all notifications.
func (s *Session) Close() {
	s.Unmount()
	s.notifications.Close()
}

// Keystroke updates the draft and signals typing for non-empty input.
func (s *Session) Keystroke(draft string) {
	s.mu.Lock()
	s.draft = draft
	typing, projectID, mounted := s.typing, s.projectID, s.mounted
	s.mu.Unlock()

	if mounted && draft != "" {
		typing.StartTyping(projectID)
	}
}

func (s *Session) SetDraft(draft string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = draft
}

func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// Submit sends the draft. The draft is cleared up front and restored
// unchanged when the send fails.
func (s *Session) Submit(ctx context.Context) error {
	s.mu.Lock()
	content := s.draft
	s.draft = ""
	channel, projectID, mounted := s.channel, s.projectID, s.mounted
	s.mu.Unlock()

	var err error
	if !mounted {
		err = ErrNotConnected
	} else {
		err = channel.Send(ctx, content, projectID)
	}
	if err != nil {
		s.mu.Lock()
		s.draft = content
		s.mu.Unlock()
	}
	return err
}

func (s *Session) ProjectID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectID
}

// Status is the connection status, disconnected while unmounted.
func (s *Session) Status() Status {
	s.mu.Lock()
	m, mounted := s.manager, s.mounted
	s.mu.Unlock()
	if !mounted {
		return StatusDisconnected
	}
	return m.Status()
}

func (s *Session) Messages() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages.Messages()
}

func (s *Session) OnlineUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence.Users()
}

func (s *Session) TypingUsers() []string {
	s.mu.Lock()
	typing := s.typing
	s.mu.Unlock()
	if typing == nil {
		return nil
	}
	return typing.Users()
}

func (s *Session) Notifications() *Notifications {
	return s.notifications
}

// RequestRoster asks the server to resend the room's online set.
func (s *Session) RequestRoster() {
	s.mu.Lock()
	room, mounted := s.room, s.mounted
	s.mu.Unlock()
	if mounted {
		room.RequestRoster()
	}
}
