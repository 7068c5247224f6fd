package hub

import "errors"

var (
	ErrHubAlreadyRunning  = errors.New("hub is already running")
	ErrHubNotRunning      = errors.New("hub is not running")
	ErrEventChannelFull   = errors.New("event channel is full")
	ErrMessageChannelFull = errors.New("message channel is full")
)
