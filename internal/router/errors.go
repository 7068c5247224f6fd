package router

import (
	"errors"

	"projectchat/pkg/interfaces"
	"projectchat/pkg/types"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrUnknownEvent      = errors.New("unknown event")
	ErrPersistFailed     = errors.New("failed to persist message")
)

// Error codes carried by error events.
const (
	CodeInvalidPayload = "invalid_payload"
	CodeInvalidProject = "invalid_project"
	CodeForbidden      = "forbidden"
	CodeNotInRoom      = "not_in_room"
	CodeRateLimited    = "rate_limited"
	CodeInvalidMessage = "invalid_message"
	CodeUnknownEvent   = "unknown_event"
	CodeInternal       = "internal_error"
)

// ErrorCode maps a routing error to the code sent back to the client.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, types.ErrInvalidPayload):
		return CodeInvalidPayload
	case errors.Is(err, types.ErrInvalidProjectID):
		return CodeInvalidProject
	case errors.Is(err, interfaces.ErrNotMember):
		return CodeForbidden
	case errors.Is(err, interfaces.ErrNotInRoom):
		return CodeNotInRoom
	case errors.Is(err, ErrRateLimitExceeded):
		return CodeRateLimited
	case errors.Is(err, types.ErrEmptyContent),
		errors.Is(err, types.ErrContentTooLarge),
		errors.Is(err, types.ErrInvalidMessageType):
		return CodeInvalidMessage
	case errors.Is(err, ErrUnknownEvent):
		return CodeUnknownEvent
	default:
		return CodeInternal
	}
}
