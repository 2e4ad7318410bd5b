package settlement

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"donations/internal/domain"
	"donations/internal/ledger"
)

type memoryDonationRepo struct {
	mu        sync.Mutex
	donations map[string]*domain.Donation
	byKey     map[string]string
	outbox    map[string]*domain.OutboxMessage
	campaigns map[string]bool
	donors    map[string]bool
}

func newMemoryDonationRepo() *memoryDonationRepo {
	return &memoryDonationRepo{
		donations: make(map[string]*domain.Donation),
		byKey:     make(map[string]string),
		outbox:    make(map[string]*domain.OutboxMessage),
		campaigns: map[string]bool{"camp-1": true},
		donors:    map[string]bool{"donor-1": true},
	}
}

func (r *memoryDonationRepo) CreateDonationAndOutboxMessage(_ context.Context, d *domain.Donation, msg *domain.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byKey[d.IdempotencyKey]; exists {
		return errors.New("duplicate key value violates unique constraint")
	}
	copied := *d
	r.donations[d.ID] = &copied
	r.byKey[d.IdempotencyKey] = d.ID
	msgCopy := *msg
	r.outbox[d.ID] = &msgCopy
	return nil
}

func (r *memoryDonationRepo) GetByID(_ context.Context, id string) (*domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.donations[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *d
	return &copied, nil
}

func (r *memoryDonationRepo) GetByIdempotencyKey(_ context.Context, key string) (*domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byKey[key]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *r.donations[id]
	return &copied, nil
}

func (r *memoryDonationRepo) ListByDonor(_ context.Context, donorID string) ([]*domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Donation
	for _, d := range r.donations {
		if d.DonorID == donorID {
			copied := *d
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memoryDonationRepo) ListByCampaign(_ context.Context, campaignID string) ([]*domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Donation
	for _, d := range r.donations {
		if d.CampaignID == campaignID {
			copied := *d
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memoryDonationRepo) UpdateStatus(_ context.Context, d *domain.Donation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.donations[d.ID]
	if !ok {
		return sql.ErrNoRows
	}
	stored.Status = d.Status
	stored.FailureReason = d.FailureReason
	stored.UpdatedAt = d.UpdatedAt
	return nil
}

func (r *memoryDonationRepo) FailWithOutboxRewrite(_ context.Context, d *domain.Donation, failedTopic string, failedPayload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.donations[d.ID]
	if !ok {
		return sql.ErrNoRows
	}
	stored.Status = d.Status
	stored.FailureReason = d.FailureReason
	stored.UpdatedAt = d.UpdatedAt
	msg, ok := r.outbox[d.ID]
	if ok && msg.Status == domain.OutboxStatusPending {
		msg.Topic = failedTopic
		msg.Payload = failedPayload
	}
	return nil
}

func (r *memoryDonationRepo) ListPendingOlderThan(_ context.Context, age time.Duration) ([]*domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-age)
	var out []*domain.Donation
	for _, d := range r.donations {
		if d.Status == domain.DonationStatusPending && d.CreatedAt.Before(cutoff) {
			copied := *d
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memoryDonationRepo) GetOutboxByDonationID(_ context.Context, donationID string) (*domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.outbox[donationID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *msg
	return &copied, nil
}

func (r *memoryDonationRepo) CampaignExists(_ context.Context, campaignID string) (bool, error) {
	return r.campaigns[campaignID], nil
}

func (r *memoryDonationRepo) DonorExists(_ context.Context, donorID string) (bool, error) {
	return r.donors[donorID], nil
}

// fakeLedgerClient applies deltas against an in-memory total and can be
// scripted to fail the first N ApplyDelta calls. With landFinalApply set,
// the last scripted failure still records the apply server-side, modeling a
// timeout racing a write that landed.
type fakeLedgerClient struct {
	mu             sync.Mutex
	totalCents     int64
	version        int64
	applied        map[string]*ledger.ApplyResult
	failures       []error
	applyCalls     int
	landFinalApply bool
}

func newFakeLedgerClient() *fakeLedgerClient {
	return &fakeLedgerClient{applied: make(map[string]*ledger.ApplyResult)}
}

func (c *fakeLedgerClient) ApplyDelta(_ context.Context, _ string, deltaCents int64, idempotencyKey string) (*ledger.ApplyResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyCalls++
	if len(c.failures) > 0 {
		err := c.failures[0]
		c.failures = c.failures[1:]
		if len(c.failures) == 0 && c.landFinalApply {
			c.totalCents += deltaCents
			c.version++
			c.applied[idempotencyKey] = &ledger.ApplyResult{TotalCents: c.totalCents, Version: c.version}
		}
		return nil, err
	}
	if res, ok := c.applied[idempotencyKey]; ok {
		return res, nil
	}
	c.totalCents += deltaCents
	c.version++
	res := &ledger.ApplyResult{TotalCents: c.totalCents, Version: c.version}
	c.applied[idempotencyKey] = res
	return res, nil
}

func (c *fakeLedgerClient) CheckApplied(_ context.Context, _ string, idempotencyKey string) (*ledger.ApplyResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.applied[idempotencyKey]
	return res, ok, nil
}

func newTestService(repo *memoryDonationRepo, client *fakeLedgerClient) Service {
	return NewService(repo, client, domain.TopicDonationCreated, domain.TopicDonationFailed, 3, time.Millisecond, zap.NewNop())
}

func submitReq(key string, amountCents int64) *SubmitDonationRequest {
	return &SubmitDonationRequest{
		CampaignID:     "camp-1",
		DonorID:        "donor-1",
		AmountCents:    amountCents,
		Currency:       "USD",
		IdempotencyKey: key,
	}
}

func TestSubmitSettlesAndAccumulatesTotal(t *testing.T) {
	repo := newMemoryDonationRepo()
	client := newFakeLedgerClient()
	svc := newTestService(repo, client)

	first, err := svc.Submit(context.Background(), submitReq("k1", 10000))
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if first.Status != string(domain.DonationStatusSettled) {
		t.Fatalf("expected SETTLED, got %s", first.Status)
	}
	if first.CampaignTotalCents != 10000 {
		t.Fatalf("expected total 10000, got %d", first.CampaignTotalCents)
	}

	second, err := svc.Submit(context.Background(), submitReq("k2", 2500))
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if second.CampaignTotalCents != 12500 {
		t.Fatalf("expected total 12500, got %d", second.CampaignTotalCents)
	}
	if second.CampaignVersion != 2 {
		t.Fatalf("expected version 2, got %d", second.CampaignVersion)
	}

	msg, err := repo.GetOutboxByDonationID(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("outbox lookup: %v", err)
	}
	if msg.Topic != domain.TopicDonationCreated {
		t.Fatalf("expected created topic, got %s", msg.Topic)
	}
	if msg.PartitionKey != "camp-1" {
		t.Fatalf("expected campaign partition key, got %s", msg.PartitionKey)
	}
}

func TestSubmitDuplicateKeyReturnsFirstOutcome(t *testing.T) {
	repo := newMemoryDonationRepo()
	client := newFakeLedgerClient()
	svc := newTestService(repo, client)

	first, err := svc.Submit(context.Background(), submitReq("k1", 10000))
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	replay, err := svc.Submit(context.Background(), submitReq("k1", 10000))
	if err != nil {
		t.Fatalf("replay Submit: %v", err)
	}
	if replay.ID != first.ID {
		t.Fatalf("replay created a new donation: %s vs %s", replay.ID, first.ID)
	}
	if replay.CampaignTotalCents != first.CampaignTotalCents {
		t.Fatalf("replay total %d differs from first %d", replay.CampaignTotalCents, first.CampaignTotalCents)
	}
	if len(repo.donations) != 1 {
		t.Fatalf("expected 1 stored donation, got %d", len(repo.donations))
	}
	if client.applyCalls != 1 {
		t.Fatalf("expected 1 ledger apply, got %d", client.applyCalls)
	}
}

func TestSubmitRetryableLedgerFailureRetriesThenSettles(t *testing.T) {
	repo := newMemoryDonationRepo()
	client := newFakeLedgerClient()
	client.failures = []error{
		&ledger.Error{Code: ledger.CodeUnavailable, Message: "timeout"},
		&ledger.Error{Code: ledger.CodeConflictExhausted, Message: "contention"},
	}
	svc := newTestService(repo, client)

	res, err := svc.Submit(context.Background(), submitReq("k1", 10000))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Status != string(domain.DonationStatusSettled) {
		t.Fatalf("expected SETTLED after retries, got %s", res.Status)
	}
	if client.applyCalls != 3 {
		t.Fatalf("expected 3 apply attempts, got %d", client.applyCalls)
	}
}

func TestSubmitLedgerExhaustionFailsDonationAndRewritesOutbox(t *testing.T) {
	repo := newMemoryDonationRepo()
	client := newFakeLedgerClient()
	client.failures = []error{
		&ledger.Error{Code: ledger.CodeUnavailable, Message: "timeout"},
		&ledger.Error{Code: ledger.CodeUnavailable, Message: "timeout"},
		&ledger.Error{Code: ledger.CodeUnavailable, Message: "timeout"},
	}
	svc := newTestService(repo, client)

	res, err := svc.Submit(context.Background(), submitReq("k1", 10000))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Status != string(domain.DonationStatusFailed) {
		t.Fatalf("expected FAILED, got %s", res.Status)
	}
	if res.FailureReason == "" {
		t.Fatal("expected a failure reason")
	}

	msg, err := repo.GetOutboxByDonationID(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("outbox lookup: %v", err)
	}
	if msg.Topic != domain.TopicDonationFailed {
		t.Fatalf("expected outbox rewritten to failed topic, got %s", msg.Topic)
	}
	var event domain.DonationEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		t.Fatalf("unmarshal failed event: %v", err)
	}
	if event.Reason == "" {
		t.Fatal("failed event must carry the failure reason")
	}
	if event.EventID != msg.ID {
		t.Fatalf("event id %s must match outbox id %s", event.EventID, msg.ID)
	}
}

func TestSubmitAmbiguousFinalFailureResolvesFromLedgerState(t *testing.T) {
	repo := newMemoryDonationRepo()
	client := newFakeLedgerClient()
	client.failures = []error{
		&ledger.Error{Code: ledger.CodeUnavailable, Message: "timeout"},
		&ledger.Error{Code: ledger.CodeUnavailable, Message: "timeout"},
		&ledger.Error{Code: ledger.CodeUnavailable, Message: "timeout"},
	}
	// The last timeout races an apply that actually landed.
	client.landFinalApply = true
	svc := newTestService(repo, client)

	res, err := svc.Submit(context.Background(), submitReq("k1", 10000))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Status != string(domain.DonationStatusSettled) {
		t.Fatalf("applied money must settle the donation, got %s", res.Status)
	}
	if res.CampaignTotalCents != 10000 {
		t.Fatalf("expected total 10000, got %d", res.CampaignTotalCents)
	}

	msg, err := repo.GetOutboxByDonationID(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("outbox lookup: %v", err)
	}
	if msg.Topic != domain.TopicDonationCreated {
		t.Fatalf("settled donation must keep its created event, got %s", msg.Topic)
	}
}

func TestSubmitNonRetryableLedgerErrorFailsWithoutRetry(t *testing.T) {
	repo := newMemoryDonationRepo()
	client := newFakeLedgerClient()
	client.failures = []error{
		&ledger.Error{Code: ledger.CodeInvalidDelta, Message: "would underflow"},
	}
	svc := newTestService(repo, client)

	res, err := svc.Submit(context.Background(), submitReq("k1", 10000))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Status != string(domain.DonationStatusFailed) {
		t.Fatalf("expected FAILED, got %s", res.Status)
	}
	if client.applyCalls != 1 {
		t.Fatalf("non-retryable error must not be retried, got %d attempts", client.applyCalls)
	}
}

func TestSubmitValidation(t *testing.T) {
	repo := newMemoryDonationRepo()
	svc := newTestService(repo, newFakeLedgerClient())

	if _, err := svc.Submit(context.Background(), submitReq("", 100)); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("missing key: expected ErrInvalidRequest, got %v", err)
	}
	if _, err := svc.Submit(context.Background(), submitReq("k1", 0)); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("zero amount: expected ErrInvalidRequest, got %v", err)
	}
	if _, err := svc.Submit(context.Background(), submitReq("k2", -100)); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("negative amount: expected ErrInvalidRequest, got %v", err)
	}

	req := submitReq("k3", 100)
	req.Currency = "XXX"
	if _, err := svc.Submit(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("bad currency: expected ErrInvalidRequest, got %v", err)
	}

	req = submitReq("k4", 100)
	req.CampaignID = "missing"
	if _, err := svc.Submit(context.Background(), req); !errors.Is(err, ErrUnknownCampaign) {
		t.Fatalf("expected ErrUnknownCampaign, got %v", err)
	}

	req = submitReq("k5", 100)
	req.DonorID = "missing"
	if _, err := svc.Submit(context.Background(), req); !errors.Is(err, ErrUnknownDonor) {
		t.Fatalf("expected ErrUnknownDonor, got %v", err)
	}

	if len(repo.donations) != 0 {
		t.Fatalf("rejected submissions must not persist donations, got %d", len(repo.donations))
	}
}

func TestGetDonationNotFound(t *testing.T) {
	svc := newTestService(newMemoryDonationRepo(), newFakeLedgerClient())
	if _, err := svc.GetDonation(context.Background(), "nope"); !errors.Is(err, ErrDonationNotFound) {
		t.Fatalf("expected ErrDonationNotFound, got %v", err)
	}
}
