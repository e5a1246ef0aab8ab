package domain

// Severity classifies a notification.
type Severity string

// Notification severities.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Notification is an ephemeral, user-facing message.
// Notifications self-expire and the queue is capacity-bounded.
type Notification struct {
	ID        string   `json:"id"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
	Timestamp int64    `json:"timestamp"` // Unix timestamp in milliseconds
}
