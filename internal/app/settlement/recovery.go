package settlement

import (
	"context"
	"time"

	"go.uber.org/zap"

	"donations/internal/domain"
	"donations/internal/ledger"
	"donations/internal/repository/donation_repo"
)

// Sweeper re-resolves donations stuck in PENDING: the process may have
// crashed between the local transaction and the ledger RPC, or the caller
// may have gone away mid-settlement. The ledger's applied-keys view is the
// source of truth for whether the money landed.
type Sweeper struct {
	repo         donation_repo.Repository
	ledgerClient ledger.Client
	failedTopic  string
	pendingAge   time.Duration
	interval     time.Duration
	logger       *zap.Logger
}

func NewSweeper(
	repo donation_repo.Repository,
	ledgerClient ledger.Client,
	failedTopic string,
	pendingAge, interval time.Duration,
	logger *zap.Logger,
) *Sweeper {
	return &Sweeper{
		repo:         repo,
		ledgerClient: ledgerClient,
		failedTopic:  failedTopic,
		pendingAge:   pendingAge,
		interval:     interval,
		logger:       logger,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("Recovery sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("pending_age", s.pendingAge))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Recovery sweeper stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("Recovery sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep resolves every sufficiently old PENDING donation. Applied at the
// ledger means the donation settled; never applied after the age cutoff
// means it failed and owes downstream a donation_failed event.
func (s *Sweeper) Sweep(ctx context.Context) error {
	pending, err := s.repo.ListPendingOlderThan(ctx, s.pendingAge)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	s.logger.Info("Re-resolving stale pending donations", zap.Int("count", len(pending)))

	for _, donation := range pending {
		if err := s.resolve(ctx, donation); err != nil {
			s.logger.Error("Failed to re-resolve pending donation",
				zap.String("donation_id", donation.ID),
				zap.Error(err))
		}
	}
	return nil
}

func (s *Sweeper) resolve(ctx context.Context, donation *domain.Donation) error {
	_, applied, err := s.ledgerClient.CheckApplied(ctx, donation.CampaignID, donation.ID)
	if err != nil {
		return err
	}

	if applied {
		if err := donation.MarkSettled(); err != nil {
			return err
		}
		if err := s.repo.UpdateStatus(ctx, donation); err != nil {
			return err
		}
		s.logger.Info("Recovered pending donation as SETTLED", zap.String("donation_id", donation.ID))
		return nil
	}

	reason := "settlement interrupted before ledger apply"
	if err := donation.MarkFailed(reason); err != nil {
		return err
	}
	outboxMsg, err := s.repo.GetOutboxByDonationID(ctx, donation.ID)
	if err != nil {
		return err
	}
	failedPayload, err := marshalEvent(donation, outboxMsg.ID, reason)
	if err != nil {
		return err
	}
	if err := s.repo.FailWithOutboxRewrite(ctx, donation, s.failedTopic, failedPayload); err != nil {
		return err
	}
	s.logger.Info("Recovered pending donation as FAILED", zap.String("donation_id", donation.ID))
	return nil
}
