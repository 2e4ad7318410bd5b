package ledger_repo

import (
	"context"

	"donations/internal/domain"
)

// Repository is the ledger's storage contract. The version column on
// campaign_totals is the optimistic-concurrency token; CompareAndSwapTotal
// writes conditioned on it and reports whether the write won.
type Repository interface {
	GetTotal(ctx context.Context, campaignID string) (*domain.CampaignTotal, error)

	// CompareAndSwapTotal sets the total to newTotal and bumps version by
	// one, conditioned on the version still being expectedVersion, and
	// records the applied delta in the same transaction. Returns false
	// when a concurrent writer won.
	CompareAndSwapTotal(ctx context.Context, campaignID string, expectedVersion, newTotal int64, applied *domain.AppliedDelta) (bool, error)

	// GetApplied returns the recorded apply for an idempotency key, or
	// sql.ErrNoRows if the key was never applied.
	GetApplied(ctx context.Context, campaignID, idempotencyKey string) (*domain.AppliedDelta, error)
}
