package realtime

// Status is the connection state exposed to the view.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
)

// Label is the short text shown next to the status dot.
func (s Status) Label() string {
	switch s {
	case StatusConnected:
		return "Connected"
	case StatusConnecting:
		return "Connecting..."
	case StatusReconnecting:
		return "Reconnecting..."
	default:
		return "Disconnected"
	}
}
