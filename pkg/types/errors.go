package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidUserID      = errors.New("user ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidProjectID   = errors.New("project ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrEmptyContent       = errors.New("message content cannot be empty")
	ErrContentTooLarge    = errors.New("message content exceeds 10000 characters")
	ErrInvalidMessageType = errors.New("message type must be text, file or image")
	ErrInvalidPayload     = errors.New("invalid event payload")
)
