package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"donations/internal/domain"
	"donations/internal/repository/donation_repo"
)

type pgDonationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewDonationRepository(db *sql.DB, l *zap.Logger) donation_repo.Repository {
	return &pgDonationRepository{db: db, logger: l}
}

const donationColumns = `id, campaign_id, donor_id, amount_cents, currency, status, idempotency_key, failure_reason, created_at, updated_at`

// CreateDonationAndOutboxMessage returns a named error so the deferred
// commit failure reaches the caller instead of being silently dropped.
func (r *pgDonationRepository) CreateDonationAndOutboxMessage(ctx context.Context, d *domain.Donation, msg *domain.OutboxMessage) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		r.logger.Error("Failed to begin transaction for donation and outbox creation", zap.String("donation_id", d.ID), zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			r.logger.Warn("Rolling back donation+outbox transaction", zap.String("donation_id", d.ID), zap.Error(err))
			_ = tx.Rollback()
		} else if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("failed to commit donation+outbox transaction: %w", commitErr)
			r.logger.Error("Failed to commit donation+outbox transaction", zap.String("donation_id", d.ID), zap.Error(commitErr))
		}
	}()

	donationQuery := `INSERT INTO donations (` + donationColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = tx.ExecContext(ctx, donationQuery,
		d.ID, d.CampaignID, d.DonorID, d.AmountCents, d.Currency, d.Status, d.IdempotencyKey, d.FailureReason, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("tx failed to create donation: %w", err)
	}

	outboxQuery := `INSERT INTO outbox_messages (id, donation_id, topic, partition_key, payload, status, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = tx.ExecContext(ctx, outboxQuery,
		msg.ID, msg.DonationID, msg.Topic, msg.PartitionKey, msg.Payload, msg.Status, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("tx failed to create outbox message: %w", err)
	}

	return nil
}

func (r *pgDonationRepository) GetByID(ctx context.Context, id string) (*domain.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

func (r *pgDonationRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations WHERE idempotency_key = $1`
	return r.scanOne(ctx, query, key)
}

func (r *pgDonationRepository) scanOne(ctx context.Context, query string, arg any) (*domain.Donation, error) {
	d := &domain.Donation{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&d.ID, &d.CampaignID, &d.DonorID, &d.AmountCents, &d.Currency, &d.Status, &d.IdempotencyKey, &d.FailureReason, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		r.logger.Error("Failed to get donation", zap.Error(err))
		return nil, fmt.Errorf("failed to get donation: %w", err)
	}
	return d, nil
}

func (r *pgDonationRepository) ListByDonor(ctx context.Context, donorID string) ([]*domain.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations WHERE donor_id = $1 ORDER BY created_at DESC`
	return r.scanMany(ctx, query, donorID)
}

func (r *pgDonationRepository) ListByCampaign(ctx context.Context, campaignID string) ([]*domain.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations WHERE campaign_id = $1 ORDER BY created_at DESC`
	return r.scanMany(ctx, query, campaignID)
}

func (r *pgDonationRepository) ListPendingOlderThan(ctx context.Context, age time.Duration) ([]*domain.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations WHERE status = $1 AND created_at < $2 ORDER BY created_at ASC`
	cutoff := time.Now().Add(-age)
	return r.scanMany(ctx, query, domain.DonationStatusPending, cutoff)
}

func (r *pgDonationRepository) scanMany(ctx context.Context, query string, args ...any) ([]*domain.Donation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query donations", zap.Error(err))
		return nil, fmt.Errorf("failed to query donations: %w", err)
	}
	defer rows.Close()

	var donations []*domain.Donation
	for rows.Next() {
		d := &domain.Donation{}
		if err := rows.Scan(&d.ID, &d.CampaignID, &d.DonorID, &d.AmountCents, &d.Currency, &d.Status, &d.IdempotencyKey, &d.FailureReason, &d.CreatedAt, &d.UpdatedAt); err != nil {
			r.logger.Error("Failed to scan donation row", zap.Error(err))
			return nil, fmt.Errorf("failed to scan donation row: %w", err)
		}
		donations = append(donations, d)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return donations, nil
}

func (r *pgDonationRepository) UpdateStatus(ctx context.Context, d *domain.Donation) error {
	query := `UPDATE donations SET status = $2, failure_reason = $3, updated_at = $4 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, d.ID, d.Status, d.FailureReason, d.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to update donation status", zap.String("donation_id", d.ID), zap.Error(err))
		return fmt.Errorf("failed to update donation %s: %w", d.ID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rowsAffected == 0 {
		r.logger.Warn("No rows affected when updating donation status", zap.String("donation_id", d.ID))
		return sql.ErrNoRows
	}
	return nil
}

func (r *pgDonationRepository) FailWithOutboxRewrite(ctx context.Context, d *domain.Donation, failedTopic string, failedPayload []byte) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		r.logger.Error("Failed to begin transaction for donation failure", zap.String("donation_id", d.ID), zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		} else if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("failed to commit donation failure transaction: %w", commitErr)
			r.logger.Error("Failed to commit donation failure transaction", zap.String("donation_id", d.ID), zap.Error(commitErr))
		}
	}()

	donationQuery := `UPDATE donations SET status = $2, failure_reason = $3, updated_at = $4 WHERE id = $1`
	_, err = tx.ExecContext(ctx, donationQuery, d.ID, d.Status, d.FailureReason, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("tx failed to mark donation failed: %w", err)
	}

	outboxQuery := `UPDATE outbox_messages SET topic = $2, payload = $3 WHERE donation_id = $1 AND status = $4`
	_, err = tx.ExecContext(ctx, outboxQuery, d.ID, failedTopic, failedPayload, domain.OutboxStatusPending)
	if err != nil {
		return fmt.Errorf("tx failed to rewrite outbox message: %w", err)
	}

	return nil
}

func (r *pgDonationRepository) GetOutboxByDonationID(ctx context.Context, donationID string) (*domain.OutboxMessage, error) {
	msg := &domain.OutboxMessage{}
	var publishedAt sql.NullTime
	query := `SELECT id, donation_id, topic, partition_key, payload, status, created_at, published_at FROM outbox_messages WHERE donation_id = $1`
	err := r.db.QueryRowContext(ctx, query, donationID).Scan(
		&msg.ID, &msg.DonationID, &msg.Topic, &msg.PartitionKey, &msg.Payload, &msg.Status, &msg.CreatedAt, &publishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		r.logger.Error("Failed to get outbox record for donation", zap.String("donation_id", donationID), zap.Error(err))
		return nil, fmt.Errorf("failed to get outbox record for donation %s: %w", donationID, err)
	}
	if publishedAt.Valid {
		msg.PublishedAt = &publishedAt.Time
	}
	return msg, nil
}

func (r *pgDonationRepository) CampaignExists(ctx context.Context, campaignID string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM campaigns WHERE id = $1 AND active)`, campaignID)
}

func (r *pgDonationRepository) DonorExists(ctx context.Context, donorID string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM donors WHERE id = $1 AND active)`, donorID)
}

func (r *pgDonationRepository) exists(ctx context.Context, query, id string) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		r.logger.Error("Failed referential check", zap.String("id", id), zap.Error(err))
		return false, fmt.Errorf("failed referential check: %w", err)
	}
	return exists, nil
}
