package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"donations/internal/domain"
	"donations/internal/repository/accounts_repo"
)

// PaymentHandler captures a settled donation by debiting the donor's bank
// account. Missing, inactive, or underfunded accounts are terminal; storage
// hiccups are retryable.
type PaymentHandler struct {
	accounts accounts_repo.Repository
	logger   *zap.Logger
}

func NewPaymentHandler(accounts accounts_repo.Repository, l *zap.Logger) *PaymentHandler {
	return &PaymentHandler{accounts: accounts, logger: l}
}

func (h *PaymentHandler) Handle(ctx context.Context, topic string, event *domain.DonationEvent) error {
	if topic == domain.TopicDonationFailed {
		// Nothing was applied at the ledger, so there is nothing to
		// capture.
		h.logger.Info("Donation failed upstream, no capture",
			zap.String("donation_id", event.DonationID),
			zap.String("reason", event.Reason))
		return nil
	}

	account, err := h.accounts.GetByDonorID(ctx, event.DonorID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return fmt.Errorf("no account for donor %s: %w", event.DonorID, err)
		}
		return Retryable(err)
	}
	if !account.Active {
		return fmt.Errorf("account %s: %w", account.ID, domain.ErrAccountInactive)
	}

	newBalance, err := h.accounts.Debit(ctx, account.ID, event.AmountCents)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			return fmt.Errorf("capturing %d cents from account %s: %w", event.AmountCents, account.ID, err)
		}
		return Retryable(err)
	}

	h.logger.Info("Payment captured",
		zap.String("donation_id", event.DonationID),
		zap.String("account_id", account.ID),
		zap.Int64("amount_cents", event.AmountCents),
		zap.Int64("new_balance_cents", newBalance))
	return nil
}
