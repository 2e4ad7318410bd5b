package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Client is the settlement coordinator's view of the ledger RPC. ApplyResult
// mirrors the wire response; retryability of failures is answered by
// IsRetryable.
type Client interface {
	ApplyDelta(ctx context.Context, campaignID string, deltaCents int64, idempotencyKey string) (*ApplyResult, error)
	CheckApplied(ctx context.Context, campaignID, idempotencyKey string) (*ApplyResult, bool, error)
}

type ApplyResult struct {
	TotalCents int64
	Version    int64
}

type httpClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewHTTPClient(baseURL string, timeout time.Duration, l *zap.Logger) Client {
	return &httpClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  l,
	}
}

func (c *httpClient) ApplyDelta(ctx context.Context, campaignID string, deltaCents int64, idempotencyKey string) (*ApplyResult, error) {
	body, err := json.Marshal(ApplyRequest{
		CampaignID:       campaignID,
		AmountDeltaCents: deltaCents,
		IdempotencyKey:   idempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal apply request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/ledger/apply", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build apply request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("Ledger apply request failed at transport level", zap.Error(err))
		return nil, &Error{Code: CodeUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeError(resp)
	}

	var applied ApplyResponse
	if err := json.NewDecoder(resp.Body).Decode(&applied); err != nil {
		return nil, &Error{Code: CodeUnavailable, Message: fmt.Sprintf("malformed apply response: %v", err)}
	}
	return &ApplyResult{TotalCents: applied.NewTotalCents, Version: applied.NewVersion}, nil
}

func (c *httpClient) CheckApplied(ctx context.Context, campaignID, idempotencyKey string) (*ApplyResult, bool, error) {
	endpoint := fmt.Sprintf("%s/internal/ledger/campaigns/%s/applied/%s",
		c.baseURL, url.PathEscape(campaignID), url.PathEscape(idempotencyKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build applied-check request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, false, &Error{Code: CodeUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, c.decodeError(resp)
	}

	var applied AppliedResponse
	if err := json.NewDecoder(resp.Body).Decode(&applied); err != nil {
		return nil, false, &Error{Code: CodeUnavailable, Message: fmt.Sprintf("malformed applied response: %v", err)}
	}
	if !applied.Applied {
		return nil, false, nil
	}
	return &ApplyResult{TotalCents: applied.NewTotalCents, Version: applied.NewVersion}, true, nil
}

func (c *httpClient) decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var lerr Error
	if err := json.Unmarshal(raw, &lerr); err == nil && lerr.Code != "" {
		return &lerr
	}
	// A body we cannot parse means the service is broken or fronted by
	// something else entirely; treat anything but a 4xx as transient.
	code := CodeUnavailable
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		code = CodeInvalidDelta
	}
	return &Error{Code: code, Message: fmt.Sprintf("unexpected ledger response %d: %s", resp.StatusCode, raw)}
}
