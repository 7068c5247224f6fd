package realtime

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"projectchat/pkg/types"
)

// NotificationTTL is how long a notification stays visible.
const NotificationTTL = 5000 * time.Millisecond

// Notification is a transient alert shown to the user.
type Notification struct {
	ID        string
	Title     string
	Message   string
	Type      string
	CreatedAt time.Time
}

// Permission mirrors the OS notification permission states.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// SystemNotifier raises native OS notifications.
type SystemNotifier interface {
	Permission() Permission
	RequestPermission() Permission
	Notify(title, body string) error
}

// Notifications holds the visible alert list. Every entry expires
// NotificationTTL after it was pushed unless dismissed first.
type Notifications struct {
	clock  Clock
	ttl    time.Duration
	system SystemNotifier
	logger *zap.Logger

	mu              sync.Mutex
	items           []Notification
	timers          map[string]Timer
	lastMillis      int64
	collisions      int
	permissionAsked bool
	onChange        func([]Notification)
}

// NewNotifications creates an empty list. system may be nil.
func NewNotifications(clock Clock, system SystemNotifier, logger *zap.Logger) *Notifications {
	if clock == nil {
		clock = RealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifications{
		clock:  clock,
		ttl:    NotificationTTL,
		system: system,
		logger: logger.Named("notifications"),
		timers: make(map[string]Timer),
	}
}

// Attach subscribes to the manager's new-message and notification events.
// Messages sent by selfID do not notify.
func (n *Notifications) Attach(m *Manager, selfID string) {
	m.On(types.EventNewMessage, func(env *types.Envelope) { n.handleNewMessage(env, selfID) })
	m.On(types.EventNotification, n.handleNotification)
}

// OnChange registers a callback for list changes.
func (n *Notifications) OnChange(f func([]Notification)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onChange = f
}

// RequestPermissionOnce asks for OS notification permission the first time
// it is called while the permission is still undecided.
func (n *Notifications) RequestPermissionOnce() {
	n.mu.Lock()
	if n.permissionAsked || n.system == nil {
		n.mu.Unlock()
		return
	}
	n.permissionAsked = true
	n.mu.Unlock()

	if n.system.Permission() == PermissionDefault {
		n.logger.Debug("requesting notification permission", zap.String("result", string(n.system.RequestPermission())))
	}
}

// Push shows a notification and returns its id. An empty ID is generated
// from the current time, an empty Title becomes "Notification" and an
// unknown Type becomes info. Pushing an id that is already visible is
// ignored.
func (n *Notifications) Push(note Notification) string {
	n.mu.Lock()
	now := n.clock.Now()
	if note.ID == "" {
		note.ID = n.nextIDLocked(now)
	}
	if n.visibleLocked(note.ID, now) {
		n.mu.Unlock()
		return ""
	}
	if note.Title == "" {
		note.Title = "Notification"
	}
	if !types.IsValidNotificationType(note.Type) {
		note.Type = types.NotificationInfo
	}
	note.CreatedAt = now

	n.removeLocked(note.ID)
	n.items = append(n.items, note)
	id, created := note.ID, note.CreatedAt
	n.timers[id] = n.clock.AfterFunc(n.ttl, func() { n.expire(id, created) })
	f, items := n.onChange, n.listLocked(now)
	n.mu.Unlock()

	if f != nil {
		f(items)
	}
	return id
}

// Dismiss removes a notification and cancels its expiry. Unknown ids are
// ignored.
func (n *Notifications) Dismiss(id string) bool {
	n.mu.Lock()
	removed := n.removeLocked(id)
	f, items := n.onChange, n.listLocked(n.clock.Now())
	n.mu.Unlock()

	if removed && f != nil {
		f(items)
	}
	return removed
}

// List returns the notifications visible now, oldest first.
func (n *Notifications) List() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.listLocked(n.clock.Now())
}

// Close cancels every pending expiry and clears the list.
func (n *Notifications) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, t := range n.timers {
		t.Stop()
		delete(n.timers, id)
	}
	n.items = nil
}

func (n *Notifications) handleNewMessage(env *types.Envelope, selfID string) {
	var msg types.Message
	if err := env.Decode(&msg); err != nil || msg.ID == "" {
		return
	}
	if msg.SenderID == selfID {
		return
	}

	title := "New Message"
	body := fmt.Sprintf("%s: %s", msg.SenderName(), msg.Content)
	if n.Push(Notification{ID: "msg-" + msg.ID, Title: title, Message: body, Type: types.NotificationInfo}) == "" {
		return
	}
	if n.system != nil && n.system.Permission() == PermissionGranted {
		if err := n.system.Notify(title, body); err != nil {
			n.logger.Debug("system notification failed", zap.Error(err))
		}
	}
}

func (n *Notifications) handleNotification(env *types.Envelope) {
	var payload types.NotificationPayload
	if err := env.Decode(&payload); err != nil {
		n.logger.Debug("ignoring malformed notification")
		return
	}
	n.Push(Notification{Title: payload.Title, Message: payload.Message, Type: payload.Type})
}

func (n *Notifications) expire(id string, created time.Time) {
	n.mu.Lock()
	for i, item := range n.items {
		if item.ID == id && item.CreatedAt.Equal(created) {
			n.items = append(n.items[:i], n.items[i+1:]...)
			delete(n.timers, id)
			break
		}
	}
	f, items := n.onChange, n.listLocked(n.clock.Now())
	n.mu.Unlock()

	if f != nil {
		f(items)
	}
}

// nextIDLocked returns notif-<unix millis>, suffixed -<n> when several
// notifications are created within the same millisecond.
func (n *Notifications) nextIDLocked(now time.Time) string {
	ms := now.UnixMilli()
	if ms != n.lastMillis {
		n.lastMillis = ms
		n.collisions = 0
		return fmt.Sprintf("notif-%d", ms)
	}
	n.collisions++
	return fmt.Sprintf("notif-%d-%d", ms, n.collisions)
}

func (n *Notifications) visibleLocked(id string, now time.Time) bool {
	for _, item := range n.items {
		if item.ID == id {
			return now.Before(item.CreatedAt.Add(n.ttl))
		}
	}
	return false
}

func (n *Notifications) removeLocked(id string) bool {
	if t, ok := n.timers[id]; ok {
		t.Stop()
		delete(n.timers, id)
	}
	for i, item := range n.items {
		if item.ID == id {
			n.items = append(n.items[:i], n.items[i+1:]...)
			return true
		}
	}
	return false
}

func (n *Notifications) listLocked(now time.Time) []Notification {
	out := make([]Notification, 0, len(n.items))
	for _, item := range n.items {
		if now.Before(item.CreatedAt.Add(n.ttl)) {
			out = append(out, item)
		}
	}
	return out
}
