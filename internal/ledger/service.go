package ledger

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

// Service owns campaign totals. ApplyDelta is the only write path; every
// successful apply bumps the campaign's version by exactly one and records
// the idempotency key so replays never double-apply.
type Service interface {
	ApplyDelta(ctx context.Context, campaignID string, deltaCents int64, idempotencyKey string) (*domain.AppliedDelta, error)
	GetTotal(ctx context.Context, campaignID string) (*domain.CampaignTotal, error)
	CheckApplied(ctx context.Context, campaignID, idempotencyKey string) (*domain.AppliedDelta, bool, error)
}

type service struct {
	repo            ledger_repo.Repository
	conflictRetries int
	logger          *zap.Logger
}

func NewService(repo ledger_repo.Repository, conflictRetries int, logger *zap.Logger) Service {
	return &service{repo: repo, conflictRetries: conflictRetries, logger: logger}
}

func (s *service) ApplyDelta(ctx context.Context, campaignID string, deltaCents int64, idempotencyKey string) (*domain.AppliedDelta, error) {
	if idempotencyKey == "" || deltaCents == 0 {
		return nil, &Error{Code: CodeInvalidDelta, Message: "idempotency key and non-zero delta are required"}
	}

	if applied, found, err := s.replay(ctx, campaignID, idempotencyKey, deltaCents); err != nil || found {
		return applied, err
	}

	for attempt := 0; attempt < s.conflictRetries; attempt++ {
		total, err := s.repo.GetTotal(ctx, campaignID)
		if err != nil {
			if errors.Is(err, domain.ErrCampaignNotFound) {
				return nil, &Error{Code: CodeUnknownCampaign, Message: fmt.Sprintf("campaign %s does not exist", campaignID)}
			}
			return nil, &Error{Code: CodeUnavailable, Message: err.Error()}
		}

		newTotal := total.TotalCents + deltaCents
		if newTotal < 0 {
			return nil, &Error{Code: CodeInvalidDelta, Message: "delta would drive campaign total below zero"}
		}

		applied := &domain.AppliedDelta{
			CampaignID:     campaignID,
			IdempotencyKey: idempotencyKey,
			AmountCents:    deltaCents,
			TotalCents:     newTotal,
			Version:        total.Version + 1,
			AppliedAt:      time.Now(),
		}

		swapped, err := s.repo.CompareAndSwapTotal(ctx, campaignID, total.Version, newTotal, applied)
		if err != nil {
			// The swap can fail on the applied-key unique constraint
			// when the same key raced us; replay resolves that.
			if replayed, found, rerr := s.replay(ctx, campaignID, idempotencyKey, deltaCents); rerr == nil && found {
				return replayed, nil
			}
			return nil, &Error{Code: CodeUnavailable, Message: err.Error()}
		}
		if swapped {
			s.logger.Info("Applied delta to campaign total",
				zap.String("campaign_id", campaignID),
				zap.Int64("delta_cents", deltaCents),
				zap.Int64("new_total_cents", newTotal),
				zap.Int64("new_version", applied.Version))
			return applied, nil
		}

		s.logger.Debug("Version conflict applying delta, retrying",
			zap.String("campaign_id", campaignID),
			zap.Int("attempt", attempt+1))
	}

	return nil, &Error{Code: CodeConflictExhausted, Message: fmt.Sprintf("gave up after %d version conflicts", s.conflictRetries)}
}

// replay returns the recorded outcome when the key was already applied.
// The same key with a different amount is a caller bug, not a replay.
func (s *service) replay(ctx context.Context, campaignID, idempotencyKey string, deltaCents int64) (*domain.AppliedDelta, bool, error) {
	applied, err := s.repo.GetApplied(ctx, campaignID, idempotencyKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, &Error{Code: CodeUnavailable, Message: err.Error()}
	}
	if applied.AmountCents != deltaCents {
		return nil, true, &Error{Code: CodeInvalidDelta, Message: "idempotency key was already applied with a different amount"}
	}
	s.logger.Info("Replayed already-applied delta",
		zap.String("campaign_id", campaignID),
		zap.String("idempotency_key", idempotencyKey))
	return applied, true, nil
}

func (s *service) GetTotal(ctx context.Context, campaignID string) (*domain.CampaignTotal, error) {
	total, err := s.repo.GetTotal(ctx, campaignID)
	if err != nil {
		if errors.Is(err, domain.ErrCampaignNotFound) {
			return nil, &Error{Code: CodeUnknownCampaign, Message: fmt.Sprintf("campaign %s does not exist", campaignID)}
		}
		return nil, &Error{Code: CodeUnavailable, Message: err.Error()}
	}
	return total, nil
}

func (s *service) CheckApplied(ctx context.Context, campaignID, idempotencyKey string) (*domain.AppliedDelta, bool, error) {
	applied, err := s.repo.GetApplied(ctx, campaignID, idempotencyKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, &Error{Code: CodeUnavailable, Message: err.Error()}
	}
	return applied, true, nil
}
