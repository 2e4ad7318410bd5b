package domain

import (
	"errors"
	"time"
)

var (
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrDonorNotFound    = errors.New("donor not found")
)

type Campaign struct {
	ID        string
	Title     string
	Active    bool
	CreatedAt time.Time
}

type Donor struct {
	ID        string
	Active    bool
	CreatedAt time.Time
}

// CampaignTotal is the ledger's row for one campaign. Version is the
// optimistic-concurrency token: every successful apply bumps it by one.
type CampaignTotal struct {
	CampaignID string
	TotalCents int64
	Version    int64
	UpdatedAt  time.Time
}

// AppliedDelta records one idempotency key the ledger has already applied,
// together with the total and version it produced. A replay of the same key
// returns this record instead of re-applying.
type AppliedDelta struct {
	CampaignID     string
	IdempotencyKey string
	AmountCents    int64
	TotalCents     int64
	Version        int64
	AppliedAt      time.Time
}
