package notifications_repo

import (
	"context"

	"donations/internal/domain"
)

type Repository interface {
	Create(ctx context.Context, n *domain.Notification) error
}
