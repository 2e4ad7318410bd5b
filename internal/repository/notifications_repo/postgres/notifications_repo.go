package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"donations/internal/domain"
	"donations/internal/repository/notifications_repo"
)

type pgNotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewNotificationRepository(db *sql.DB, l *zap.Logger) notifications_repo.Repository {
	return &pgNotificationRepository{db: db, logger: l}
}

func (r *pgNotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	query := `INSERT INTO notifications (id, event_id, donation_id, donor_id, kind, body, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query, n.ID, n.EventID, n.DonationID, n.DonorID, n.Kind, n.Body, n.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create notification", zap.String("notification_id", n.ID), zap.Error(err))
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}
