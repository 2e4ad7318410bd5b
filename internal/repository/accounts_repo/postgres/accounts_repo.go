package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"donations/internal/domain"
	"donations/internal/repository/accounts_repo"
)

type pgAccountRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewAccountRepository(db *sql.DB, l *zap.Logger) accounts_repo.Repository {
	return &pgAccountRepository{db: db, logger: l}
}

func (r *pgAccountRepository) Create(ctx context.Context, account *domain.Account) error {
	query := `INSERT INTO accounts (id, donor_id, balance_cents, currency, active, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query,
		account.ID, account.DonorID, account.BalanceCents, account.Currency, account.Active, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create account", zap.String("account_id", account.ID), zap.Error(err))
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *pgAccountRepository) GetByDonorID(ctx context.Context, donorID string) (*domain.Account, error) {
	a := &domain.Account{}
	query := `SELECT id, donor_id, balance_cents, currency, active, created_at, updated_at FROM accounts WHERE donor_id = $1`
	err := r.db.QueryRowContext(ctx, query, donorID).Scan(
		&a.ID, &a.DonorID, &a.BalanceCents, &a.Currency, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		r.logger.Error("Failed to get account for donor", zap.String("donor_id", donorID), zap.Error(err))
		return nil, fmt.Errorf("failed to get account for donor %s: %w", donorID, err)
	}
	return a, nil
}

func (r *pgAccountRepository) Debit(ctx context.Context, accountID string, amountCents int64) (int64, error) {
	// The balance check rides the UPDATE condition so concurrent debits
	// cannot overdraw the account.
	query := `UPDATE accounts SET balance_cents = balance_cents - $2, updated_at = $3 WHERE id = $1 AND balance_cents >= $2 RETURNING balance_cents`
	var newBalance int64
	err := r.db.QueryRowContext(ctx, query, accountID, amountCents, time.Now()).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrInsufficientFunds
		}
		r.logger.Error("Failed to debit account", zap.String("account_id", accountID), zap.Error(err))
		return 0, fmt.Errorf("failed to debit account %s: %w", accountID, err)
	}
	return newBalance, nil
}
