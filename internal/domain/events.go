package domain

import "time"

const (
	TopicDonationCreated = "donation_created"
	TopicDonationFailed  = "donation_failed"

	// DLQSuffix is appended to the source topic when routing a poison
	// envelope to its dead-letter topic.
	DLQSuffix = ".dlq"
)

// DonationEvent is the envelope published on both donation topics.
// EventID equals the outbox record id and is the dedup key downstream.
type DonationEvent struct {
	EventID     string    `json:"event_id"`
	DonationID  string    `json:"donation_id"`
	CampaignID  string    `json:"campaign_id"`
	DonorID     string    `json:"donor_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Reason      string    `json:"reason,omitempty"`
	ProducedAt  time.Time `json:"produced_at"`
}

// DeadLetterEvent wraps an envelope that exhausted consumer processing.
type DeadLetterEvent struct {
	DonationEvent
	OriginalTopic string `json:"original_topic"`
	FailureReason string `json:"failure_reason"`
	AttemptCount  int    `json:"attempt_count"`
}
