package donation_repo

import (
	"context"
	"time"

	"donations/internal/domain"
)

// Repository is the donation store. The settlement coordinator is its only
// writer. CreateDonationAndOutboxMessage must be a single local transaction:
// either both rows land or neither does.
type Repository interface {
	CreateDonationAndOutboxMessage(ctx context.Context, d *domain.Donation, msg *domain.OutboxMessage) error
	GetByID(ctx context.Context, id string) (*domain.Donation, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Donation, error)
	ListByDonor(ctx context.Context, donorID string) ([]*domain.Donation, error)
	ListByCampaign(ctx context.Context, campaignID string) ([]*domain.Donation, error)

	// UpdateStatus persists a SETTLED or FAILED transition.
	UpdateStatus(ctx context.Context, d *domain.Donation) error

	// FailWithOutboxRewrite marks the donation FAILED and, in the same
	// transaction, rewrites its pending outbox record to the failed-event
	// variant so downstream never sees a created event for money that was
	// never applied.
	FailWithOutboxRewrite(ctx context.Context, d *domain.Donation, failedTopic string, failedPayload []byte) error

	ListPendingOlderThan(ctx context.Context, age time.Duration) ([]*domain.Donation, error)

	// GetOutboxByDonationID returns the donation's outbox record; the
	// record id doubles as the downstream event id.
	GetOutboxByDonationID(ctx context.Context, donationID string) (*domain.OutboxMessage, error)

	// Referential view used for submission validation.
	CampaignExists(ctx context.Context, campaignID string) (bool, error)
	DonorExists(ctx context.Context, donorID string) (bool, error)
}
