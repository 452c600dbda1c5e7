package domain

import "time"

// WebhookStatus tracks an inbound event through the event store's lease
// lifecycle.
type WebhookStatus string

const (
	WebhookPending    WebhookStatus = "PENDING"
	WebhookProcessing WebhookStatus = "PROCESSING"
	WebhookCompleted  WebhookStatus = "COMPLETED"
	WebhookFailed     WebhookStatus = "FAILED"
)

// WebhookEvent is a durably stored inbound event. (Channel, ExternalID) is
// unique, which is what makes provider-side retries idempotent.
type WebhookEvent struct {
	ID            string
	Channel       string
	ExternalID    string
	Payload       []byte
	ReceivedAt    time.Time
	Status        WebhookStatus
	Attempts      int
	LastError     string
	NextAttemptAt *time.Time
	LeaseExpires  *time.Time
}
