package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrUnauthorized = errors.New("unauthorized access")
	ErrNotMember    = errors.New("user is not a member of this project")
	ErrNotInRoom    = errors.New("connection has not joined this project")
)
