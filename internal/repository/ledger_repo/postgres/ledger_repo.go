package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"donations/internal/domain"
	"donations/internal/repository/ledger_repo"
)

type pgLedgerRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewLedgerRepository(db *sql.DB, l *zap.Logger) ledger_repo.Repository {
	return &pgLedgerRepository{db: db, logger: l}
}

func (r *pgLedgerRepository) GetTotal(ctx context.Context, campaignID string) (*domain.CampaignTotal, error) {
	t := &domain.CampaignTotal{}
	query := `SELECT campaign_id, total_cents, version, updated_at FROM campaign_totals WHERE campaign_id = $1`
	err := r.db.QueryRowContext(ctx, query, campaignID).Scan(&t.CampaignID, &t.TotalCents, &t.Version, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCampaignNotFound
		}
		r.logger.Error("Failed to get campaign total", zap.String("campaign_id", campaignID), zap.Error(err))
		return nil, fmt.Errorf("failed to get campaign total %s: %w", campaignID, err)
	}
	return t, nil
}

// CompareAndSwapTotal uses named returns so the deferred commit can
// overwrite them: a failed COMMIT means nothing was applied, and reporting
// success here would let a rolled-back donation settle.
func (r *pgLedgerRepository) CompareAndSwapTotal(ctx context.Context, campaignID string, expectedVersion, newTotal int64, applied *domain.AppliedDelta) (swapped bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		r.logger.Error("Failed to begin transaction for ledger apply", zap.String("campaign_id", campaignID), zap.Error(err))
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil || !swapped {
			_ = tx.Rollback()
		} else if commitErr := tx.Commit(); commitErr != nil {
			swapped = false
			err = fmt.Errorf("failed to commit ledger apply transaction: %w", commitErr)
			r.logger.Error("Failed to commit ledger apply transaction", zap.String("campaign_id", campaignID), zap.Error(commitErr))
		}
	}()

	query := `UPDATE campaign_totals SET total_cents = $2, version = version + 1, updated_at = $3 WHERE campaign_id = $1 AND version = $4`
	res, err := tx.ExecContext(ctx, query, campaignID, newTotal, time.Now(), expectedVersion)
	if err != nil {
		return false, fmt.Errorf("tx failed to update campaign total: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check update result: %w", err)
	}
	if rowsAffected == 0 {
		// A concurrent writer won the version race.
		return false, nil
	}

	appliedQuery := `INSERT INTO ledger_applied (campaign_id, idempotency_key, amount_cents, resulting_total_cents, resulting_version, applied_at) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = tx.ExecContext(ctx, appliedQuery,
		applied.CampaignID, applied.IdempotencyKey, applied.AmountCents, applied.TotalCents, applied.Version, applied.AppliedAt)
	if err != nil {
		return false, fmt.Errorf("tx failed to record applied key: %w", err)
	}

	swapped = true
	return swapped, nil
}

func (r *pgLedgerRepository) GetApplied(ctx context.Context, campaignID, idempotencyKey string) (*domain.AppliedDelta, error) {
	a := &domain.AppliedDelta{}
	query := `SELECT campaign_id, idempotency_key, amount_cents, resulting_total_cents, resulting_version, applied_at FROM ledger_applied WHERE campaign_id = $1 AND idempotency_key = $2`
	err := r.db.QueryRowContext(ctx, query, campaignID, idempotencyKey).Scan(
		&a.CampaignID, &a.IdempotencyKey, &a.AmountCents, &a.TotalCents, &a.Version, &a.AppliedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		r.logger.Error("Failed to get applied key", zap.String("campaign_id", campaignID), zap.String("idempotency_key", idempotencyKey), zap.Error(err))
		return nil, fmt.Errorf("failed to get applied key: %w", err)
	}
	return a, nil
}
