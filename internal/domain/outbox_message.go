package domain

import "time"

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusPublished OutboxStatus = "PUBLISHED"
)

// OutboxMessage is written in the same transaction as its donation and
// transitioned to PUBLISHED only by the relay, only after the bus has
// acknowledged the publish. Records are retained after publishing for
// audit and replay.
type OutboxMessage struct {
	ID           string
	DonationID   string
	Topic        string
	PartitionKey string
	Payload      []byte
	Status       OutboxStatus
	CreatedAt    time.Time
	PublishedAt  *time.Time
}
