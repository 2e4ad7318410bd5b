package domain

import (
	"errors"
	"time"
)

type DonationStatus string

const (
	DonationStatusPending DonationStatus = "PENDING"
	DonationStatusSettled DonationStatus = "SETTLED"
	DonationStatusFailed  DonationStatus = "FAILED"
)

var (
	ErrInvalidDonation     = errors.New("invalid donation data")
	ErrDonationImmutable   = errors.New("donation is already settled or failed")
	ErrUnsupportedCurrency = errors.New("unsupported currency code")
)

// Donation is created and mutated only by the settlement coordinator.
// Once SETTLED or FAILED it never changes again.
type Donation struct {
	ID             string
	CampaignID     string
	DonorID        string
	AmountCents    int64
	Currency       string
	Status         DonationStatus
	IdempotencyKey string
	FailureReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func NewDonation(id, campaignID, donorID string, amountCents int64, currency, idempotencyKey string) (*Donation, error) {
	if id == "" || campaignID == "" || donorID == "" || idempotencyKey == "" {
		return nil, ErrInvalidDonation
	}
	if amountCents <= 0 {
		return nil, ErrInvalidDonation
	}
	if !ValidCurrency(currency) {
		return nil, ErrUnsupportedCurrency
	}
	now := time.Now()
	return &Donation{
		ID:             id,
		CampaignID:     campaignID,
		DonorID:        donorID,
		AmountCents:    amountCents,
		Currency:       currency,
		Status:         DonationStatusPending,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (d *Donation) MarkSettled() error {
	if d.Status != DonationStatusPending {
		return ErrDonationImmutable
	}
	d.Status = DonationStatusSettled
	d.UpdatedAt = time.Now()
	return nil
}

func (d *Donation) MarkFailed(reason string) error {
	if d.Status != DonationStatusPending {
		return ErrDonationImmutable
	}
	d.Status = DonationStatusFailed
	d.FailureReason = reason
	d.UpdatedAt = time.Now()
	return nil
}

func (d *Donation) Resolved() bool {
	return d.Status == DonationStatusSettled || d.Status == DonationStatusFailed
}
