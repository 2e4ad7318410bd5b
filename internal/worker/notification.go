package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"donations/internal/domain"
	"donations/internal/repository/notifications_repo"
	"donations/internal/util"
)

// NotificationHandler records a donor-facing notification for every resolved
// donation. Actual delivery (mail, push) happens outside this core; the row
// is the durable hand-off.
type NotificationHandler struct {
	notifications notifications_repo.Repository
	logger        *zap.Logger
}

func NewNotificationHandler(notifications notifications_repo.Repository, l *zap.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, logger: l}
}

func (h *NotificationHandler) Handle(ctx context.Context, topic string, event *domain.DonationEvent) error {
	kind := domain.NotificationDonationReceived
	body := fmt.Sprintf("Thank you! Your donation of %d.%02d %s was received.",
		event.AmountCents/100, event.AmountCents%100, event.Currency)
	if topic == domain.TopicDonationFailed {
		kind = domain.NotificationDonationFailed
		body = fmt.Sprintf("Your donation of %d.%02d %s could not be completed.",
			event.AmountCents/100, event.AmountCents%100, event.Currency)
	}

	notification := &domain.Notification{
		ID:         util.GenerateUUID(),
		EventID:    event.EventID,
		DonationID: event.DonationID,
		DonorID:    event.DonorID,
		Kind:       kind,
		Body:       body,
		CreatedAt:  time.Now(),
	}
	if err := h.notifications.Create(ctx, notification); err != nil {
		return Retryable(err)
	}

	h.logger.Info("Notification queued",
		zap.String("donation_id", event.DonationID),
		zap.String("donor_id", event.DonorID),
		zap.String("kind", string(kind)))
	return nil
}
