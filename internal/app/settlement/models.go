package settlement

type SubmitDonationRequest struct {
	CampaignID     string `json:"campaign_id"`
	DonorID        string `json:"donor_id"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotency_key"`
}

type DonationResult struct {
	ID                 string `json:"id"`
	CampaignID         string `json:"campaign_id"`
	DonorID            string `json:"donor_id"`
	AmountCents        int64  `json:"amount_cents"`
	Currency           string `json:"currency"`
	Status             string `json:"status"`
	FailureReason      string `json:"failure_reason,omitempty"`
	CampaignTotalCents int64  `json:"campaign_total_cents,omitempty"`
	CampaignVersion    int64  `json:"campaign_version,omitempty"`
}
