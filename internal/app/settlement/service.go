package settlement

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"donations/internal/domain"
	"donations/internal/ledger"
	"donations/internal/repository/donation_repo"
	"donations/internal/util"
)

var (
	ErrInvalidRequest   = errors.New("invalid donation request")
	ErrUnknownCampaign  = errors.New("unknown campaign")
	ErrUnknownDonor     = errors.New("unknown donor")
	ErrDonationNotFound = errors.New("donation not found")
)

// Service is the settlement coordinator. Submit is the single write path
// from "a donation is recorded" to a resolved donation plus exactly one
// pending outbox event.
type Service interface {
	Submit(ctx context.Context, req *SubmitDonationRequest) (*DonationResult, error)
	GetDonation(ctx context.Context, donationID string) (*DonationResult, error)
	ListByDonor(ctx context.Context, donorID string) ([]*DonationResult, error)
	ListByCampaign(ctx context.Context, campaignID string) ([]*DonationResult, error)
}

type service struct {
	repo         donation_repo.Repository
	ledgerClient ledger.Client
	createdTopic string
	failedTopic  string
	maxAttempts  int
	retryBackoff time.Duration
	logger       *zap.Logger
}

func NewService(
	repo donation_repo.Repository,
	ledgerClient ledger.Client,
	createdTopic, failedTopic string,
	maxAttempts int,
	retryBackoff time.Duration,
	logger *zap.Logger,
) Service {
	return &service{
		repo:         repo,
		ledgerClient: ledgerClient,
		createdTopic: createdTopic,
		failedTopic:  failedTopic,
		maxAttempts:  maxAttempts,
		retryBackoff: retryBackoff,
		logger:       logger,
	}
}

func (s *service) Submit(ctx context.Context, req *SubmitDonationRequest) (*DonationResult, error) {
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", ErrInvalidRequest)
	}

	if existing, err := s.repo.GetByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		return s.replayResult(ctx, existing)
	} else if !errors.Is(err, sql.ErrNoRows) {
		s.logger.Error("Failed idempotency lookup", zap.String("idempotency_key", req.IdempotencyKey), zap.Error(err))
		return nil, errors.New("internal server error")
	}

	donation, err := domain.NewDonation(util.GenerateUUID(), req.CampaignID, req.DonorID, req.AmountCents, req.Currency, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if err := s.checkReferences(ctx, req.CampaignID, req.DonorID); err != nil {
		return nil, err
	}

	outboxMsg, err := s.buildOutboxMessage(donation)
	if err != nil {
		s.logger.Error("Failed to build outbox message", zap.String("donation_id", donation.ID), zap.Error(err))
		return nil, errors.New("internal server error")
	}

	if err := s.repo.CreateDonationAndOutboxMessage(ctx, donation, outboxMsg); err != nil {
		// A concurrent submit with the same key may have won the insert.
		if existing, lookupErr := s.repo.GetByIdempotencyKey(ctx, req.IdempotencyKey); lookupErr == nil {
			return s.replayResult(ctx, existing)
		}
		s.logger.Error("Failed to save donation and outbox message", zap.String("donation_id", donation.ID), zap.Error(err))
		return nil, errors.New("failed to record donation")
	}

	s.logger.Info("Donation recorded, settling against ledger",
		zap.String("donation_id", donation.ID),
		zap.String("campaign_id", donation.CampaignID),
		zap.Int64("amount_cents", donation.AmountCents))

	return s.settle(ctx, donation)
}

func (s *service) checkReferences(ctx context.Context, campaignID, donorID string) error {
	exists, err := s.repo.CampaignExists(ctx, campaignID)
	if err != nil {
		return errors.New("internal server error")
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownCampaign, campaignID)
	}
	exists, err = s.repo.DonorExists(ctx, donorID)
	if err != nil {
		return errors.New("internal server error")
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownDonor, donorID)
	}
	return nil
}

// settle drives the ledger RPC with bounded backed-off retries and resolves
// the donation from the RPC outcome. Resolution writes run on a detached
// context: a caller hanging up mid-RPC must not strand the donation in
// PENDING.
func (s *service) settle(ctx context.Context, donation *domain.Donation) (*DonationResult, error) {
	var applied *ledger.ApplyResult
	var err error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		applied, err = s.ledgerClient.ApplyDelta(ctx, donation.CampaignID, donation.AmountCents, donation.ID)
		if err == nil {
			break
		}
		if !ledger.IsRetryable(err) {
			s.logger.Warn("Ledger rejected donation",
				zap.String("donation_id", donation.ID),
				zap.Error(err))
			break
		}
		s.logger.Warn("Retryable ledger failure",
			zap.String("donation_id", donation.ID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.maxAttempts),
			zap.Error(err))
		if attempt < s.maxAttempts {
			backoff := s.retryBackoff * (1 << (attempt - 1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				// The RPC may still have taken effect; the recovery
				// sweep will resolve this donation from ledger state.
				s.logger.Warn("Submission canceled while settling, leaving resolution to recovery sweep",
					zap.String("donation_id", donation.ID))
				return nil, ctx.Err()
			}
		}
	}

	resolveCtx := context.WithoutCancel(ctx)

	if err != nil && ledger.IsRetryable(err) {
		// A timed-out or canceled attempt may have landed server-side;
		// the applied-keys view knows the actual outcome.
		if recorded, found, checkErr := s.ledgerClient.CheckApplied(resolveCtx, donation.CampaignID, donation.ID); checkErr == nil && found {
			s.logger.Info("Ledger apply landed despite failed attempts",
				zap.String("donation_id", donation.ID))
			applied = recorded
			err = nil
		}
	}

	if err != nil {
		if failErr := s.resolveFailed(resolveCtx, donation, err.Error()); failErr != nil {
			return nil, failErr
		}
		return s.toResult(donation, nil), nil
	}

	if markErr := donation.MarkSettled(); markErr != nil {
		return nil, markErr
	}
	if updErr := s.repo.UpdateStatus(resolveCtx, donation); updErr != nil {
		s.logger.Error("Failed to persist SETTLED state", zap.String("donation_id", donation.ID), zap.Error(updErr))
		return nil, errors.New("failed to update donation state")
	}

	s.logger.Info("Donation settled",
		zap.String("donation_id", donation.ID),
		zap.Int64("campaign_total_cents", applied.TotalCents),
		zap.Int64("campaign_version", applied.Version))

	return s.toResult(donation, applied), nil
}

func (s *service) resolveFailed(ctx context.Context, donation *domain.Donation, reason string) error {
	if err := donation.MarkFailed(reason); err != nil {
		return err
	}
	outboxMsg, err := s.repo.GetOutboxByDonationID(ctx, donation.ID)
	if err != nil {
		s.logger.Error("Failed to load outbox record for failed donation", zap.String("donation_id", donation.ID), zap.Error(err))
		return errors.New("failed to update donation state")
	}
	failedPayload, err := marshalEvent(donation, outboxMsg.ID, reason)
	if err != nil {
		return err
	}
	if err := s.repo.FailWithOutboxRewrite(ctx, donation, s.failedTopic, failedPayload); err != nil {
		s.logger.Error("Failed to persist FAILED state", zap.String("donation_id", donation.ID), zap.Error(err))
		return errors.New("failed to update donation state")
	}
	s.logger.Info("Donation failed, compensating event queued",
		zap.String("donation_id", donation.ID),
		zap.String("reason", reason))
	return nil
}

// replayResult returns the stored outcome of an earlier submission with the
// same idempotency key, re-reading the campaign total for settled donations
// so the caller sees the same response shape as the first submit.
func (s *service) replayResult(ctx context.Context, donation *domain.Donation) (*DonationResult, error) {
	s.logger.Info("Duplicate submission, returning existing donation",
		zap.String("donation_id", donation.ID),
		zap.String("idempotency_key", donation.IdempotencyKey))

	if donation.Status == domain.DonationStatusSettled {
		if applied, found, err := s.ledgerClient.CheckApplied(ctx, donation.CampaignID, donation.ID); err == nil && found {
			return s.toResult(donation, applied), nil
		}
	}
	return s.toResult(donation, nil), nil
}

func (s *service) buildOutboxMessage(donation *domain.Donation) (*domain.OutboxMessage, error) {
	outboxID := util.GenerateUUID()
	payload, err := marshalEvent(donation, outboxID, "")
	if err != nil {
		return nil, err
	}
	return &domain.OutboxMessage{
		ID:           outboxID,
		DonationID:   donation.ID,
		Topic:        s.createdTopic,
		PartitionKey: donation.CampaignID,
		Payload:      payload,
		Status:       domain.OutboxStatusPending,
		CreatedAt:    time.Now(),
	}, nil
}

func marshalEvent(donation *domain.Donation, eventID, reason string) ([]byte, error) {
	return json.Marshal(domain.DonationEvent{
		EventID:     eventID,
		DonationID:  donation.ID,
		CampaignID:  donation.CampaignID,
		DonorID:     donation.DonorID,
		AmountCents: donation.AmountCents,
		Currency:    donation.Currency,
		Reason:      reason,
		ProducedAt:  time.Now(),
	})
}

func (s *service) GetDonation(ctx context.Context, donationID string) (*DonationResult, error) {
	donation, err := s.repo.GetByID(ctx, donationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDonationNotFound
		}
		s.logger.Error("Failed to get donation", zap.String("donation_id", donationID), zap.Error(err))
		return nil, errors.New("internal server error")
	}
	return s.toResult(donation, nil), nil
}

func (s *service) ListByDonor(ctx context.Context, donorID string) ([]*DonationResult, error) {
	donations, err := s.repo.ListByDonor(ctx, donorID)
	if err != nil {
		s.logger.Error("Failed to list donations for donor", zap.String("donor_id", donorID), zap.Error(err))
		return nil, errors.New("internal server error")
	}
	return s.toResults(donations), nil
}

func (s *service) ListByCampaign(ctx context.Context, campaignID string) ([]*DonationResult, error) {
	donations, err := s.repo.ListByCampaign(ctx, campaignID)
	if err != nil {
		s.logger.Error("Failed to list donations for campaign", zap.String("campaign_id", campaignID), zap.Error(err))
		return nil, errors.New("internal server error")
	}
	return s.toResults(donations), nil
}

func (s *service) toResult(d *domain.Donation, applied *ledger.ApplyResult) *DonationResult {
	res := &DonationResult{
		ID:            d.ID,
		CampaignID:    d.CampaignID,
		DonorID:       d.DonorID,
		AmountCents:   d.AmountCents,
		Currency:      d.Currency,
		Status:        string(d.Status),
		FailureReason: d.FailureReason,
	}
	if applied != nil {
		res.CampaignTotalCents = applied.TotalCents
		res.CampaignVersion = applied.Version
	}
	return res
}

func (s *service) toResults(donations []*domain.Donation) []*DonationResult {
	results := make([]*DonationResult, len(donations))
	for i, d := range donations {
		results[i] = s.toResult(d, nil)
	}
	return results
}
