package realtime

import "errors"

var (
	ErrNotConnected = errors.New("realtime: not connected")
	ErrUnauthorized = errors.New("realtime: handshake rejected")
	ErrNoProject    = errors.New("realtime: project id is required")
	ErrSendFailed   = errors.New("realtime: message could not be sent")
	ErrInvalidURL   = errors.New("realtime: invalid API URL")
)
