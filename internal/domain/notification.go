package domain

import "time"

type NotificationKind string

const (
	NotificationDonationReceived NotificationKind = "DONATION_RECEIVED"
	NotificationDonationFailed   NotificationKind = "DONATION_FAILED"
)

type Notification struct {
	ID         string
	EventID    string
	DonationID string
	DonorID    string
	Kind       NotificationKind
	Body       string
	CreatedAt  time.Time
}
