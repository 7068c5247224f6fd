package types

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxContentLength is the largest accepted message body, counted in runes.
const MaxContentLength = 10000

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Validate trims content, defaults the type and checks every field a client may set.
func (p *SendMessagePayload) Validate() error {
	if !IsValidProjectID(p.ProjectID) {
		return ErrInvalidProjectID
	}
	content, err := NormalizeContent(p.Content)
	if err != nil {
		return err
	}
	p.Content = content

	// FUNCTIONAL DISCOVERY: Type defaults to text when the client omits it
	if p.Type == "" {
		p.Type = MessageTypeText
	}
	if !IsValidMessageType(p.Type) {
		return ErrInvalidMessageType
	}
	return nil
}

// NormalizeContent trims surrounding whitespace and enforces the length bounds.
func NormalizeContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(trimmed) > MaxContentLength {
		return "", ErrContentTooLarge
	}
	return trimmed, nil
}

// IsValidUserID checks if a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	return isValidIdentifier(userID)
}

// IsValidProjectID checks if a project ID meets format requirements.
func IsValidProjectID(projectID string) bool {
	return isValidIdentifier(projectID)
}

// IsValidMessageType checks if the message type is one of the allowed types.
func IsValidMessageType(msgType string) bool {
	switch msgType {
	case MessageTypeText, MessageTypeFile, MessageTypeImage:
		return true
	default:
		return false
	}
}

// IsValidNotificationType checks a notification severity.
func IsValidNotificationType(kind string) bool {
	switch kind {
	case NotificationInfo, NotificationSuccess, NotificationWarning, NotificationError:
		return true
	default:
		return false
	}
}

func isValidIdentifier(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return identifierRegex.MatchString(id)
}
