package interfaces

import (
	"context"

	"projectchat/pkg/types"
)

// EventRouter applies client events to room state
// ARCHITECTURAL DISCOVERY: Routing logic abstracted from socket handling
// enables different routing strategies and simplifies testing with mocks
type EventRouter interface {
	// RouteEvent handles one envelope received from conn
	// FUNCTIONAL DISCOVERY: Context enables timeout and cancellation during
	// database persistence and presence store round trips
	RouteEvent(ctx context.Context, conn Connection, env *types.Envelope) error

	// HandleDisconnect removes conn from its room and announces departures
	HandleDisconnect(ctx context.Context, conn Connection)
}

// Broadcaster delivers server-originated messages to a project room.
// The REST layer uses it so messages created over HTTP reach live sockets.
type Broadcaster interface {
	BroadcastMessage(ctx context.Context, message *types.Message)
}
