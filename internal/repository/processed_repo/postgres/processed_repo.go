package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"donations/internal/domain"
	"donations/internal/repository/processed_repo"
)

type pgProcessedRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewProcessedRepository(db *sql.DB, l *zap.Logger) processed_repo.Repository {
	return &pgProcessedRepository{db: db, logger: l}
}

func (r *pgProcessedRepository) Get(ctx context.Context, consumerGroup, eventID string) (*domain.ProcessedEvent, error) {
	e := &domain.ProcessedEvent{}
	query := `SELECT consumer_group, event_id, outcome, attempts, processed_at FROM processed_events WHERE consumer_group = $1 AND event_id = $2`
	err := r.db.QueryRowContext(ctx, query, consumerGroup, eventID).Scan(
		&e.ConsumerGroup, &e.EventID, &e.Outcome, &e.Attempts, &e.ProcessedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		r.logger.Error("Failed to get processed event", zap.String("event_id", eventID), zap.Error(err))
		return nil, fmt.Errorf("failed to get processed event %s: %w", eventID, err)
	}
	return e, nil
}

func (r *pgProcessedRepository) Record(ctx context.Context, entry *domain.ProcessedEvent) error {
	query := `INSERT INTO processed_events (consumer_group, event_id, outcome, attempts, processed_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, query,
		entry.ConsumerGroup, entry.EventID, entry.Outcome, entry.Attempts, entry.ProcessedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return domain.ErrEventAlreadyProcessed
		}
		r.logger.Error("Failed to record processed event", zap.String("event_id", entry.EventID), zap.Error(err))
		return fmt.Errorf("failed to record processed event %s: %w", entry.EventID, err)
	}
	return nil
}
