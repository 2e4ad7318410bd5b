package donations

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"donations/internal/app/settlement"
)

func RegisterRoutes(r chi.Router, s settlement.Service, l *zap.Logger) {
	handler := NewDonationHandler(s, l.With(zap.String("component", "DonationHTTPHandler")))

	r.Route("/donations", func(r chi.Router) {
		r.Post("/", handler.SubmitDonation)
		r.Get("/{donationID}", handler.GetDonation)
		r.Get("/donor/{donorID}", handler.ListByDonor)
		r.Get("/campaign/{campaignID}", handler.ListByCampaign)
	})
}
