package settlement

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"donations/internal/domain"
	"donations/internal/ledger"
)

func seedPendingDonation(repo *memoryDonationRepo, id string, age time.Duration) *domain.Donation {
	d := &domain.Donation{
		ID:             id,
		CampaignID:     "camp-1",
		DonorID:        "donor-1",
		AmountCents:    10000,
		Currency:       "USD",
		Status:         domain.DonationStatusPending,
		IdempotencyKey: "key-" + id,
		CreatedAt:      time.Now().Add(-age),
		UpdatedAt:      time.Now().Add(-age),
	}
	repo.donations[id] = d
	repo.byKey[d.IdempotencyKey] = id
	repo.outbox[id] = &domain.OutboxMessage{
		ID:           "evt-" + id,
		DonationID:   id,
		Topic:        domain.TopicDonationCreated,
		PartitionKey: d.CampaignID,
		Payload:      []byte(`{}`),
		Status:       domain.OutboxStatusPending,
		CreatedAt:    d.CreatedAt,
	}
	return d
}

func TestSweepSettlesDonationAppliedAtLedger(t *testing.T) {
	repo := newMemoryDonationRepo()
	client := newFakeLedgerClient()
	d := seedPendingDonation(repo, "don-1", 5*time.Minute)
	// The crash happened after the ledger applied the delta.
	client.applied[d.ID] = &ledger.ApplyResult{TotalCents: 10000, Version: 1}

	sweeper := NewSweeper(repo, client, domain.TopicDonationFailed, time.Minute, time.Second, zap.NewNop())
	if err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	got, err := repo.GetByID(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.DonationStatusSettled {
		t.Fatalf("expected SETTLED, got %s", got.Status)
	}
	msg, _ := repo.GetOutboxByDonationID(context.Background(), d.ID)
	if msg.Topic != domain.TopicDonationCreated {
		t.Fatalf("settled donation must keep its created event, got %s", msg.Topic)
	}
}

func TestSweepFailsDonationNeverApplied(t *testing.T) {
	repo := newMemoryDonationRepo()
	client := newFakeLedgerClient()
	d := seedPendingDonation(repo, "don-1", 5*time.Minute)

	sweeper := NewSweeper(repo, client, domain.TopicDonationFailed, time.Minute, time.Second, zap.NewNop())
	if err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	got, err := repo.GetByID(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.DonationStatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
	msg, _ := repo.GetOutboxByDonationID(context.Background(), d.ID)
	if msg.Topic != domain.TopicDonationFailed {
		t.Fatalf("expected outbox rewritten to failed topic, got %s", msg.Topic)
	}
}

func TestSweepSkipsFreshPendingDonations(t *testing.T) {
	repo := newMemoryDonationRepo()
	client := newFakeLedgerClient()
	d := seedPendingDonation(repo, "don-1", time.Second)

	sweeper := NewSweeper(repo, client, domain.TopicDonationFailed, time.Minute, time.Second, zap.NewNop())
	if err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	got, _ := repo.GetByID(context.Background(), d.ID)
	if got.Status != domain.DonationStatusPending {
		t.Fatalf("fresh pending donation must be left alone, got %s", got.Status)
	}
}
