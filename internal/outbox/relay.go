package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"donations/internal/eventbus"
	"donations/internal/repository/outbox_repo"
)

// Relay drains the outbox: publish to the bus, then mark published. The
// order is deliberate — a crash between the two steps re-publishes the same
// event later, which the dedup key downstream absorbs. Marking first would
// risk silent loss.
type Relay struct {
	repo         outbox_repo.Repository
	publisher    eventbus.Publisher
	pollInterval time.Duration
	pollTimeout  time.Duration
	batchSize    int
	logger       *zap.Logger
}

func NewRelay(
	repo outbox_repo.Repository,
	publisher eventbus.Publisher,
	pollInterval, pollTimeout time.Duration,
	batchSize int,
	logger *zap.Logger,
) *Relay {
	return &Relay{
		repo:         repo,
		publisher:    publisher,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		batchSize:    batchSize,
		logger:       logger,
	}
}

func (r *Relay) Run(ctx context.Context) {
	r.logger.Info("Outbox relay started", zap.Duration("poll_interval", r.pollInterval))
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Outbox relay stopped")
			return
		case <-ticker.C:
			pollCtx, cancel := context.WithTimeout(ctx, r.pollTimeout)
			if err := r.Drain(pollCtx); err != nil {
				r.logger.Error("Error draining outbox", zap.Error(err))
			}
			cancel()
		}
	}
}

// Drain publishes one batch of publishable records. A failed publish leaves
// the record PENDING for the next tick and holds back the rest of the batch
// for that partition key, so younger records never overtake an older one
// within a campaign.
func (r *Relay) Drain(ctx context.Context) error {
	messages, err := r.repo.GetPublishable(ctx, r.batchSize)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	r.logger.Info("Publishing outbox messages", zap.Int("count", len(messages)))

	blocked := make(map[string]struct{})
	for _, msg := range messages {
		if _, held := blocked[msg.PartitionKey]; held {
			continue
		}
		if err := r.publisher.Publish(ctx, msg.Topic, msg.PartitionKey, msg.Payload); err != nil {
			r.logger.Error("Failed to publish outbox message, holding back partition key",
				zap.String("message_id", msg.ID),
				zap.String("topic", msg.Topic),
				zap.String("partition_key", msg.PartitionKey),
				zap.Error(err))
			blocked[msg.PartitionKey] = struct{}{}
			continue
		}
		if err := r.repo.MarkPublished(ctx, msg.ID); err != nil {
			// The event is already on the bus; the next tick will
			// re-publish and consumers will dedup on event id.
			r.logger.Error("Failed to mark outbox message published",
				zap.String("message_id", msg.ID),
				zap.Error(err))
			continue
		}
		r.logger.Debug("Outbox message published",
			zap.String("message_id", msg.ID),
			zap.String("topic", msg.Topic),
			zap.String("partition_key", msg.PartitionKey))
	}
	return nil
}
