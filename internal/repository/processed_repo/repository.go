package processed_repo

import (
	"context"

	"donations/internal/domain"
)

// Repository is one consumer group's processed-event log. Entries are
// append-only: Record on an already-recorded event returns
// domain.ErrEventAlreadyProcessed and never overwrites the first outcome.
type Repository interface {
	Get(ctx context.Context, consumerGroup, eventID string) (*domain.ProcessedEvent, error)
	Record(ctx context.Context, entry *domain.ProcessedEvent) error
}
