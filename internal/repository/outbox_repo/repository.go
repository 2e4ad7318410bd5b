package outbox_repo

import (
	"context"

	"donations/internal/domain"
)

// Repository is the relay's view of the outbox table.
type Repository interface {
	// GetPublishable returns PENDING records whose donation has resolved
	// to SETTLED or FAILED, oldest first. Records for still-PENDING
	// donations are held back so a created event can never reach the bus
	// before the ledger confirmed the money.
	GetPublishable(ctx context.Context, limit int) ([]*domain.OutboxMessage, error)

	// MarkPublished is called only after the bus acknowledged the publish.
	MarkPublished(ctx context.Context, id string) error
}
