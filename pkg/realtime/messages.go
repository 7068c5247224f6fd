package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"projectchat/pkg/types"
)

// MessageLog is the view's message list: insertion ordered, keyed by
// message id so a message seen over both the socket and REST appears once.
type MessageLog struct {
	mu       sync.RWMutex
	order    []string
	byID     map[string]types.Message
	onAppend func(types.Message)
}

func NewMessageLog() *MessageLog {
	return &MessageLog{byID: make(map[string]types.Message)}
}

// OnAppend registers a callback for each newly appended message, the hook
// a view uses to scroll to the bottom.
func (l *MessageLog) OnAppend(f func(types.Message)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onAppend = f
}

// Append adds msg at the end. Messages without an id or already present
// are dropped; the return value reports whether msg was added.
func (l *MessageLog) Append(msg types.Message) bool {
	if msg.ID == "" {
		return false
	}
	l.mu.Lock()
	if _, exists := l.byID[msg.ID]; exists {
		l.mu.Unlock()
		return false
	}
	l.order = append(l.order, msg.ID)
	l.byID[msg.ID] = msg
	f := l.onAppend
	l.mu.Unlock()

	if f != nil {
		f(msg)
	}
	return true
}

// Messages returns a copy of the list in arrival order.
func (l *MessageLog) Messages() []types.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.Message, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id])
	}
	return out
}

func (l *MessageLog) Get(id string) (types.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	msg, ok := l.byID[id]
	return msg, ok
}

func (l *MessageLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// MessageChannel sends over the socket while connected and falls back to
// REST otherwise. Inbound new-message events land in the log.
type MessageChannel struct {
	manager       *Manager
	api           MessageAPI
	log           *MessageLog
	typing        *Typing
	notifications *Notifications
	logger        *zap.Logger
}

// NewMessageChannel wires the channel to the manager. typing and
// notifications may be nil.
func NewMessageChannel(m *Manager, api MessageAPI, log *MessageLog, typing *Typing, notifications *Notifications, logger *zap.Logger) *MessageChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &MessageChannel{
		manager:       m,
		api:           api,
		log:           log,
		typing:        typing,
		notifications: notifications,
		logger:        logger.Named("messages"),
	}
	m.On(types.EventNewMessage, c.handleNewMessage)
	return c
}

// Send delivers content to projectID. Over the socket it is fire and
// forget: the server echoes the persisted message back. Over REST the
// returned message is appended directly. A REST failure raises one error
// notification and returns an error wrapping ErrSendFailed.
func (c *MessageChannel) Send(ctx context.Context, content, projectID string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return types.ErrEmptyContent
	}
	if projectID == "" {
		return ErrNoProject
	}
	if c.typing != nil {
		c.typing.StopTyping(projectID)
	}

	if c.manager.Status() == StatusConnected {
		err := c.manager.Emit(types.EventSendMessage, types.SendMessagePayload{
			ProjectID: projectID,
			Content:   trimmed,
			Type:      types.MessageTypeText,
		})
		if err == nil {
			return nil
		}
		c.logger.Info("socket send failed, using REST", zap.Error(err))
	}

	msg, err := c.api.CreateMessage(ctx, projectID, types.CreateMessageRequest{
		Content: trimmed,
		Type:    types.MessageTypeText,
	})
	if err != nil {
		c.logger.Warn("message not sent", zap.String("project_id", projectID), zap.Error(err))
		if c.notifications != nil {
			c.notifications.Push(Notification{
				Title:   "Message not sent",
				Message: err.Error(),
				Type:    types.NotificationError,
			})
		}
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	c.log.Append(*msg)
	return nil
}

// LoadHistory fetches recent messages over REST and appends those not yet
// in the log.
func (c *MessageChannel) LoadHistory(ctx context.Context, projectID string, limit int) error {
	history, err := c.api.ListMessages(ctx, projectID, limit)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	for _, msg := range history {
		if msg != nil {
			c.log.Append(*msg)
		}
	}
	return nil
}

func (c *MessageChannel) handleNewMessage(env *types.Envelope) {
	var msg types.Message
	if err := env.Decode(&msg); err != nil {
		c.logger.Debug("ignoring malformed new-message")
		return
	}
	c.log.Append(msg)
}
