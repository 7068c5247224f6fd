package types

import (
	"encoding/json"
	"time"
)

// Client-emitted events.
const (
	EventJoinProject  = "join-project"
	EventLeaveProject = "leave-project"
	EventSendMessage  = "send-message"
	EventTypingStart  = "typing-start"
	EventTypingStop   = "typing-stop"
	EventGetPresence  = "get-presence"
)

// Server-emitted events.
const (
	EventConnected      = "connected"
	EventNewMessage     = "new-message"
	EventUserJoined     = "user-joined"
	EventUserLeft       = "user-left"
	EventUserTyping     = "user-typing"
	EventPresenceRoster = "presence-roster"
	EventNotification   = "notification"
	EventError          = "error"

	// EventConnectError is raised locally by the client transport, never sent by the server.
	EventConnectError = "connect_error"
)

// Message content types.
const (
	MessageTypeText  = "text"
	MessageTypeFile  = "file"
	MessageTypeImage = "image"
)

// Notification severities.
const (
	NotificationInfo    = "info"
	NotificationSuccess = "success"
	NotificationWarning = "warning"
	NotificationError   = "error"
)

// Envelope is the frame exchanged over the realtime socket in both directions.
// ARCHITECTURAL DISCOVERY: Data stays raw until the event name picks the payload type
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope for the named event.
func NewEnvelope(event string, payload interface{}) (*Envelope, error) {
	env := &Envelope{Event: event}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, ErrInvalidPayload
	}
	env.Data = data
	return env, nil
}

// Decode unmarshals the envelope data into v.
func (e *Envelope) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return ErrInvalidPayload
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return ErrInvalidPayload
	}
	return nil
}

// Sender is the author summary embedded in a delivered message.
type Sender struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Message is a chat message belonging to exactly one project.
// FUNCTIONAL DISCOVERY: ID and CreatedAt are always assigned by the server
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	ProjectID string    `json:"projectId"`
	CreatedAt time.Time `json:"createdAt"`
	Type      string    `json:"type"`
	Sender    *Sender   `json:"sender,omitempty"`
}

// SenderName returns the best display name for the message author.
func (m *Message) SenderName() string {
	if m.Sender != nil && m.Sender.Username != "" {
		return m.Sender.Username
	}
	return m.SenderID
}

// ProjectPayload carries a project id for join/leave/typing/roster requests.
type ProjectPayload struct {
	ProjectID string `json:"projectId"`
}

// SendMessagePayload is the client send-message request.
type SendMessagePayload struct {
	ProjectID string `json:"projectId"`
	Content   string `json:"content"`
	Type      string `json:"type"`
}

// ConnectedPayload confirms a successful handshake authentication.
type ConnectedPayload struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	ConnectionID string `json:"connectionId"`
}

// PresencePayload is carried by user-joined and user-left.
type PresencePayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// TypingPayload is carried by user-typing.
type TypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// PresenceUser is one roster entry.
type PresenceUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// RosterPayload is the authoritative online set of a project room.
type RosterPayload struct {
	ProjectID string         `json:"projectId"`
	Users     []PresenceUser `json:"users"`
}

// NotificationPayload is a generic server alert; Title and Type are optional.
type NotificationPayload struct {
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

// ErrorPayload reports a rejected client event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateMessageRequest is the REST body for the create-message call.
type CreateMessageRequest struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

// Identity is the authenticated user behind a socket or REST call.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}
