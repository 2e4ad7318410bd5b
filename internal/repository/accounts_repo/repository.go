package accounts_repo

import (
	"context"

	"donations/internal/domain"
)

// Repository holds donor bank accounts for the payment worker.
type Repository interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByDonorID(ctx context.Context, donorID string) (*domain.Account, error)

	// Debit subtracts amountCents from the account balance and returns the
	// new balance. Fails with domain.ErrInsufficientFunds when the balance
	// would go negative.
	Debit(ctx context.Context, accountID string, amountCents int64) (int64, error)
}
