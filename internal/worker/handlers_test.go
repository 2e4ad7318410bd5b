package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"donations/internal/domain"
)

type memoryAccountsRepo struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
	debitErr error
}

func newMemoryAccountsRepo() *memoryAccountsRepo {
	return &memoryAccountsRepo{accounts: make(map[string]*domain.Account)}
}

func (r *memoryAccountsRepo) Create(_ context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *account
	r.accounts[account.DonorID] = &copied
	return nil
}

func (r *memoryAccountsRepo) GetByDonorID(_ context.Context, donorID string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[donorID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	copied := *a
	return &copied, nil
}

func (r *memoryAccountsRepo) Debit(_ context.Context, accountID string, amountCents int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.debitErr != nil {
		return 0, r.debitErr
	}
	for _, a := range r.accounts {
		if a.ID == accountID {
			if a.BalanceCents < amountCents {
				return 0, domain.ErrInsufficientFunds
			}
			a.BalanceCents -= amountCents
			return a.BalanceCents, nil
		}
	}
	return 0, domain.ErrAccountNotFound
}

type memoryNotificationsRepo struct {
	mu            sync.Mutex
	notifications []*domain.Notification
	createErr     error
}

func (r *memoryNotificationsRepo) Create(_ context.Context, n *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	copied := *n
	r.notifications = append(r.notifications, &copied)
	return nil
}

func testEvent() *domain.DonationEvent {
	return &domain.DonationEvent{
		EventID:     "evt-1",
		DonationID:  "don-1",
		CampaignID:  "camp-1",
		DonorID:     "donor-1",
		AmountCents: 12500,
		Currency:    "USD",
		ProducedAt:  time.Now(),
	}
}

func TestPaymentHandlerDebitsAccount(t *testing.T) {
	accounts := newMemoryAccountsRepo()
	accounts.Create(context.Background(), &domain.Account{
		ID: "acc-1", DonorID: "donor-1", BalanceCents: 20000, Currency: "USD", Active: true,
	})
	h := NewPaymentHandler(accounts, zap.NewNop())

	if err := h.Handle(context.Background(), domain.TopicDonationCreated, testEvent()); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	account, _ := accounts.GetByDonorID(context.Background(), "donor-1")
	if account.BalanceCents != 7500 {
		t.Fatalf("expected balance 7500, got %d", account.BalanceCents)
	}
}

func TestPaymentHandlerIgnoresFailedDonations(t *testing.T) {
	accounts := newMemoryAccountsRepo()
	accounts.Create(context.Background(), &domain.Account{
		ID: "acc-1", DonorID: "donor-1", BalanceCents: 20000, Currency: "USD", Active: true,
	})
	h := NewPaymentHandler(accounts, zap.NewNop())

	if err := h.Handle(context.Background(), domain.TopicDonationFailed, testEvent()); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	account, _ := accounts.GetByDonorID(context.Background(), "donor-1")
	if account.BalanceCents != 20000 {
		t.Fatalf("failed donation must not be captured, balance %d", account.BalanceCents)
	}
}

func TestPaymentHandlerTerminalErrors(t *testing.T) {
	h := NewPaymentHandler(newMemoryAccountsRepo(), zap.NewNop())
	err := h.Handle(context.Background(), domain.TopicDonationCreated, testEvent())
	if err == nil || IsRetryable(err) {
		t.Fatalf("missing account must be terminal, got %v", err)
	}

	accounts := newMemoryAccountsRepo()
	accounts.Create(context.Background(), &domain.Account{
		ID: "acc-1", DonorID: "donor-1", BalanceCents: 20000, Currency: "USD", Active: false,
	})
	h = NewPaymentHandler(accounts, zap.NewNop())
	err = h.Handle(context.Background(), domain.TopicDonationCreated, testEvent())
	if !errors.Is(err, domain.ErrAccountInactive) || IsRetryable(err) {
		t.Fatalf("inactive account must be terminal, got %v", err)
	}

	accounts = newMemoryAccountsRepo()
	accounts.Create(context.Background(), &domain.Account{
		ID: "acc-1", DonorID: "donor-1", BalanceCents: 100, Currency: "USD", Active: true,
	})
	h = NewPaymentHandler(accounts, zap.NewNop())
	err = h.Handle(context.Background(), domain.TopicDonationCreated, testEvent())
	if !errors.Is(err, domain.ErrInsufficientFunds) || IsRetryable(err) {
		t.Fatalf("insufficient funds must be terminal, got %v", err)
	}
}

func TestPaymentHandlerStorageErrorIsRetryable(t *testing.T) {
	accounts := newMemoryAccountsRepo()
	accounts.Create(context.Background(), &domain.Account{
		ID: "acc-1", DonorID: "donor-1", BalanceCents: 20000, Currency: "USD", Active: true,
	})
	accounts.debitErr = errors.New("connection reset by peer")
	h := NewPaymentHandler(accounts, zap.NewNop())

	err := h.Handle(context.Background(), domain.TopicDonationCreated, testEvent())
	if !IsRetryable(err) {
		t.Fatalf("storage error must be retryable, got %v", err)
	}
}

func TestNotificationHandlerWritesByTopic(t *testing.T) {
	repo := &memoryNotificationsRepo{}
	h := NewNotificationHandler(repo, zap.NewNop())

	if err := h.Handle(context.Background(), domain.TopicDonationCreated, testEvent()); err != nil {
		t.Fatalf("created: %v", err)
	}
	failed := testEvent()
	failed.EventID = "evt-2"
	failed.Reason = "ledger unavailable"
	if err := h.Handle(context.Background(), domain.TopicDonationFailed, failed); err != nil {
		t.Fatalf("failed: %v", err)
	}

	if len(repo.notifications) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(repo.notifications))
	}
	if repo.notifications[0].Kind != domain.NotificationDonationReceived {
		t.Fatalf("expected DONATION_RECEIVED, got %s", repo.notifications[0].Kind)
	}
	if repo.notifications[1].Kind != domain.NotificationDonationFailed {
		t.Fatalf("expected DONATION_FAILED, got %s", repo.notifications[1].Kind)
	}
}

func TestNotificationHandlerStorageErrorIsRetryable(t *testing.T) {
	repo := &memoryNotificationsRepo{createErr: errors.New("too many connections")}
	h := NewNotificationHandler(repo, zap.NewNop())

	err := h.Handle(context.Background(), domain.TopicDonationCreated, testEvent())
	if !IsRetryable(err) {
		t.Fatalf("storage error must be retryable, got %v", err)
	}
}
