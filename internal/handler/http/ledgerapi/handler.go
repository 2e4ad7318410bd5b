package ledgerapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"donations/internal/ledger"
)

type LedgerHandler struct {
	service ledger.Service
	logger  *zap.Logger
}

func NewLedgerHandler(s ledger.Service, l *zap.Logger) *LedgerHandler {
	return &LedgerHandler{service: s, logger: l}
}

func (h *LedgerHandler) ApplyDelta(w http.ResponseWriter, r *http.Request) {
	var req ledger.ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid request body for ApplyDelta", zap.Error(err))
		h.writeError(w, &ledger.Error{Code: ledger.CodeInvalidDelta, Message: "invalid request body"})
		return
	}

	applied, err := h.service.ApplyDelta(r.Context(), req.CampaignID, req.AmountDeltaCents, req.IdempotencyKey)
	if err != nil {
		h.handleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ledger.ApplyResponse{
		NewTotalCents: applied.TotalCents,
		NewVersion:    applied.Version,
	})
}

func (h *LedgerHandler) GetTotal(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	total, err := h.service.GetTotal(r.Context(), campaignID)
	if err != nil {
		h.handleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ledger.TotalResponse{
		CampaignID: total.CampaignID,
		TotalCents: total.TotalCents,
		Version:    total.Version,
	})
}

func (h *LedgerHandler) GetApplied(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	idempotencyKey := chi.URLParam(r, "idempotencyKey")

	applied, found, err := h.service.CheckApplied(r.Context(), campaignID, idempotencyKey)
	if err != nil {
		h.handleError(w, err)
		return
	}

	resp := ledger.AppliedResponse{Applied: found}
	if found {
		resp.AmountCents = applied.AmountCents
		resp.NewTotalCents = applied.TotalCents
		resp.NewVersion = applied.Version
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *LedgerHandler) handleError(w http.ResponseWriter, err error) {
	var lerr *ledger.Error
	if errors.As(err, &lerr) {
		h.writeError(w, lerr)
		return
	}
	h.logger.Error("Unexpected ledger error", zap.Error(err))
	h.writeError(w, &ledger.Error{Code: ledger.CodeUnavailable, Message: "internal server error"})
}

func (h *LedgerHandler) writeError(w http.ResponseWriter, lerr *ledger.Error) {
	status := http.StatusServiceUnavailable
	switch lerr.Code {
	case ledger.CodeUnknownCampaign:
		status = http.StatusNotFound
	case ledger.CodeInvalidDelta:
		status = http.StatusUnprocessableEntity
	case ledger.CodeConflictExhausted:
		status = http.StatusConflict
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(lerr)
}
