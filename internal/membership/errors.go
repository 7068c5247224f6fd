package membership

import (
	"errors"

	"projectchat/pkg/types"
)

var (
	ErrInvalidProjectID = types.ErrInvalidProjectID
	ErrInvalidUserID    = types.ErrInvalidUserID
	ErrTooManyMembers   = errors.New("member list exceeds 1000 users")
)
