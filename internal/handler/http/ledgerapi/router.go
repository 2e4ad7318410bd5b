package ledgerapi

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"donations/internal/ledger"
)

func RegisterRoutes(r chi.Router, s ledger.Service, l *zap.Logger) {
	handler := NewLedgerHandler(s, l.With(zap.String("component", "LedgerHTTPHandler")))

	r.Route("/internal/ledger", func(r chi.Router) {
		r.Post("/apply", handler.ApplyDelta)
		r.Get("/campaigns/{campaignID}", handler.GetTotal)
		r.Get("/campaigns/{campaignID}/applied/{idempotencyKey}", handler.GetApplied)
	})
}
