package ledger

// Wire types for the apply-delta RPC, shared by the HTTP handler and client.

type ApplyRequest struct {
	CampaignID       string `json:"campaign_id"`
	AmountDeltaCents int64  `json:"amount_delta_cents"`
	IdempotencyKey   string `json:"idempotency_key"`
}

type ApplyResponse struct {
	NewTotalCents int64 `json:"new_total_cents"`
	NewVersion    int64 `json:"new_version"`
}

type TotalResponse struct {
	CampaignID string `json:"campaign_id"`
	TotalCents int64  `json:"total_cents"`
	Version    int64  `json:"version"`
}

type AppliedResponse struct {
	Applied       bool  `json:"applied"`
	AmountCents   int64 `json:"amount_cents,omitempty"`
	NewTotalCents int64 `json:"new_total_cents,omitempty"`
	NewVersion    int64 `json:"new_version,omitempty"`
}
