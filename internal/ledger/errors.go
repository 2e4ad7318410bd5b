package ledger

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeUnknownCampaign   ErrorCode = "UNKNOWN_CAMPAIGN"
	CodeInvalidDelta      ErrorCode = "INVALID_DELTA"
	CodeConflictExhausted ErrorCode = "CONFLICT_EXHAUSTED"
	CodeUnavailable       ErrorCode = "UNAVAILABLE"
)

// Error is the typed failure of the apply-delta RPC, carried across the wire
// in the response body and reconstructed by the client.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("ledger: %s: %s", e.Code, e.Message)
}

// Retryable reports whether the caller may safely retry with the same
// idempotency key. Validation rejections are final; exhausted conflicts and
// unavailability are transient.
func (e *Error) Retryable() bool {
	return e.Code == CodeConflictExhausted || e.Code == CodeUnavailable
}

// IsRetryable classifies any error from the ledger client. Errors that are
// not typed ledger errors are transport-level failures (timeouts, refused
// connections) and count as retryable.
func IsRetryable(err error) bool {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Retryable()
	}
	return true
}
