package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"donations/internal/domain"
	"donations/internal/repository/outbox_repo"
)

type pgOutboxRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOutboxRepository(db *sql.DB, l *zap.Logger) outbox_repo.Repository {
	return &pgOutboxRepository{db: db, logger: l}
}

func (r *pgOutboxRepository) GetPublishable(ctx context.Context, limit int) ([]*domain.OutboxMessage, error) {
	query := `
		SELECT o.id, o.donation_id, o.topic, o.partition_key, o.payload, o.status, o.created_at, o.published_at
		FROM outbox_messages o
		JOIN donations d ON d.id = o.donation_id
		WHERE o.status = $1 AND d.status <> $2
		ORDER BY o.created_at ASC
		LIMIT $3
		FOR UPDATE OF o SKIP LOCKED`
	rows, err := r.db.QueryContext(ctx, query, domain.OutboxStatusPending, domain.DonationStatusPending, limit)
	if err != nil {
		r.logger.Error("Failed to get publishable outbox messages", zap.Error(err))
		return nil, fmt.Errorf("failed to get publishable outbox messages: %w", err)
	}
	defer rows.Close()

	var messages []*domain.OutboxMessage
	for rows.Next() {
		msg := &domain.OutboxMessage{}
		var publishedAt sql.NullTime
		if err := rows.Scan(&msg.ID, &msg.DonationID, &msg.Topic, &msg.PartitionKey, &msg.Payload, &msg.Status, &msg.CreatedAt, &publishedAt); err != nil {
			r.logger.Error("Failed to scan outbox message row", zap.Error(err))
			return nil, fmt.Errorf("failed to scan outbox message row: %w", err)
		}
		if publishedAt.Valid {
			msg.PublishedAt = &publishedAt.Time
		}
		messages = append(messages, msg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return messages, nil
}

func (r *pgOutboxRepository) MarkPublished(ctx context.Context, id string) error {
	query := `UPDATE outbox_messages SET status = $1, published_at = $2 WHERE id = $3 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, domain.OutboxStatusPublished, time.Now(), id, domain.OutboxStatusPending)
	if err != nil {
		r.logger.Error("Failed to mark outbox message published", zap.String("message_id", id), zap.Error(err))
		return fmt.Errorf("failed to mark outbox message %s published: %w", id, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rowsAffected == 0 {
		r.logger.Warn("No rows affected when marking outbox message published, it may already be published", zap.String("message_id", id))
	}
	return nil
}
