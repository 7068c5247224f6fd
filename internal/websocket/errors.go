package websocket

import "errors"

var (
	ErrConnectionClosed = errors.New("websocket: connection closed")
	ErrWriteTimeout     = errors.New("websocket: write queue did not drain in time")
	ErrInvalidJSON      = errors.New("websocket: frame is not valid JSON")
	ErrPollQueueFull    = errors.New("polling: outbound queue is full")
)

// Registry errors
var (
	ErrNilConnection              = errors.New("registry: nil connection")
	ErrConnectionNotAuthenticated = errors.New("registry: connection has no authenticated user")
	ErrConnectionNotRegistered    = errors.New("registry: connection not registered, cannot join a project room")
)
