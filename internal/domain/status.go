package domain

// ConnectionStatus describes the feed connection as seen by consumers.
type ConnectionStatus string

// Connection statuses.
const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)
