package donations

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"donations/internal/app/settlement"
)

type DonationHandler struct {
	service settlement.Service
	logger  *zap.Logger
}

func NewDonationHandler(s settlement.Service, l *zap.Logger) *DonationHandler {
	return &DonationHandler{service: s, logger: l}
}

func (h *DonationHandler) SubmitDonation(w http.ResponseWriter, r *http.Request) {
	var req settlement.SubmitDonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid request body for SubmitDonation", zap.Error(err))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.service.Submit(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, settlement.ErrInvalidRequest):
			h.logger.Warn("Bad request for SubmitDonation", zap.Error(err))
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, settlement.ErrUnknownCampaign), errors.Is(err, settlement.ErrUnknownDonor):
			h.logger.Warn("Unknown reference in SubmitDonation", zap.Error(err))
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			h.logger.Error("Error submitting donation", zap.Error(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(res)
}

func (h *DonationHandler) GetDonation(w http.ResponseWriter, r *http.Request) {
	donationID := chi.URLParam(r, "donationID")
	if donationID == "" {
		http.Error(w, "Donation ID is required", http.StatusBadRequest)
		return
	}

	res, err := h.service.GetDonation(r.Context(), donationID)
	if err != nil {
		if errors.Is(err, settlement.ErrDonationNotFound) {
			h.logger.Info("Donation not found", zap.String("donation_id", donationID))
			http.Error(w, "Donation not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Error getting donation", zap.String("donation_id", donationID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

func (h *DonationHandler) ListByDonor(w http.ResponseWriter, r *http.Request) {
	donorID := chi.URLParam(r, "donorID")
	if donorID == "" {
		http.Error(w, "Donor ID is required", http.StatusBadRequest)
		return
	}

	res, err := h.service.ListByDonor(r.Context(), donorID)
	if err != nil {
		h.logger.Error("Error listing donations for donor", zap.String("donor_id", donorID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

func (h *DonationHandler) ListByCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	if campaignID == "" {
		http.Error(w, "Campaign ID is required", http.StatusBadRequest)
		return
	}

	res, err := h.service.ListByCampaign(r.Context(), campaignID)
	if err != nil {
		h.logger.Error("Error listing donations for campaign", zap.String("campaign_id", campaignID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}
