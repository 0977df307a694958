// Package queue defines the security events exchanged over the message
// broker, the publisher used by the API and the consumer that records them.
package queue

// SecurityQueueName is the durable queue carrying SecurityEvent messages.
const SecurityQueueName = "auth.security"

// Security event types.
const (
	EventAccountLocked          = "account_locked"
	EventTokenReuseDetected     = "token_reuse_detected"
	EventPasswordResetRequested = "password_reset_requested"
	EventPasswordChanged        = "password_changed"
)

// SecurityEvent is published when something happens to an account that a
// human or a downstream system (the mailer, alerting) should act on.  It
// carries enough context that consumers never need to query the primary
// database.
type SecurityEvent struct {
	Type          string            `json:"type"`
	UserID        uint64            `json:"user_id"`
	Email         string            `json:"email"`
	ConsultancyID uint64            `json:"consultancy_id,omitempty"`
	IP            string            `json:"ip,omitempty"`
	UserAgent     string            `json:"user_agent,omitempty"`
	Link          string            `json:"link,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
	OccurredAt    string            `json:"occurred_at"`
}
