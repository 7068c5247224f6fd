package interfaces

// Connection represents an authenticated realtime socket
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures clean boundaries between WebSocket infrastructure and event routing
type Connection interface {
	// WriteJSON sends a JSON frame to the client (thread-safe)
	// FUNCTIONAL DISCOVERY: Thread-safety requirement documented in interface
	// to ensure all implementations use single-writer pattern to prevent races
	WriteJSON(v interface{}) error

	// Close closes the connection and cleans up resources
	Close() error

	// GetConnectionID returns the server-assigned id of this socket.
	// A user with several tabs open owns several connection ids.
	GetConnectionID() string

	// GetUserID returns the authenticated user's ID
	GetUserID() string

	// GetUsername returns the display name carried by the token
	GetUsername() string

	// GetProjectID returns the project room this socket is in, or "" when none
	GetProjectID() string

	// SetProjectID records the room this socket joined ("" leaves)
	SetProjectID(projectID string)

	// IsAuthenticated returns true once SetCredentials succeeded
	IsAuthenticated() bool

	// SetCredentials binds the verified identity to the socket
	// TECHNICAL DISCOVERY: Credentials come from the handshake token, so they
	// are set exactly once right after the upgrade
	SetCredentials(userID, username string) error
}
