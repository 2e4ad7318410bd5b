package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"donations/internal/domain"
	"donations/internal/eventbus"
	"donations/internal/repository/processed_repo"
)

// SideEffect performs one consumer group's work for one envelope. Wrap
// transient failures with Retryable; anything else is terminal and routes
// the envelope to the dead-letter topic.
type SideEffect func(ctx context.Context, topic string, event *domain.DonationEvent) error

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Worker is the consumer-group processing loop shared by the payment and
// notification workers: dedup against the processed-event log, bounded
// in-process retries with backoff, dead-letter on exhaustion, and an
// acknowledgment discipline that never stalls the partition on one bad
// envelope.
type Worker struct {
	group        string
	processed    processed_repo.Repository
	publisher    eventbus.Publisher
	handler      SideEffect
	maxAttempts  int
	retryBackoff time.Duration
	logger       *zap.Logger
}

func New(
	group string,
	processed processed_repo.Repository,
	publisher eventbus.Publisher,
	handler SideEffect,
	maxAttempts int,
	retryBackoff time.Duration,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		group:        group,
		processed:    processed,
		publisher:    publisher,
		handler:      handler,
		maxAttempts:  maxAttempts,
		retryBackoff: retryBackoff,
		logger:       logger,
	}
}

// HandleMessage is the eventbus handler. Returning nil acknowledges the
// envelope; returning an error leaves it uncommitted for redelivery.
func (w *Worker) HandleMessage(ctx context.Context, msg eventbus.Message) error {
	var event domain.DonationEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		// A payload that never parses would poison the partition
		// forever; acknowledge and drop it.
		w.logger.Error("Error unmarshalling envelope, dropping",
			zap.String("topic", msg.Topic),
			zap.Error(err),
			zap.String("raw_message", string(msg.Payload)))
		return nil
	}

	if entry, err := w.processed.Get(ctx, w.group, event.EventID); err == nil {
		w.logger.Info("Event already processed, skipping",
			zap.String("event_id", event.EventID),
			zap.String("outcome", string(entry.Outcome)))
		return nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("processed-event lookup failed: %w", err)
	}

	attempts := 0
	var lastErr error
	for attempts < w.maxAttempts {
		attempts++
		lastErr = w.handler(ctx, msg.Topic, &event)
		if lastErr == nil {
			return w.record(ctx, event.EventID, domain.OutcomeProcessed, attempts)
		}
		if !IsRetryable(lastErr) {
			w.logger.Warn("Non-retryable side-effect failure",
				zap.String("event_id", event.EventID),
				zap.Error(lastErr))
			break
		}
		w.logger.Warn("Retryable side-effect failure",
			zap.String("event_id", event.EventID),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", w.maxAttempts),
			zap.Error(lastErr))
		if attempts < w.maxAttempts {
			backoff := w.retryBackoff * (1 << (attempts - 1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return w.deadLetter(ctx, msg, &event, attempts, lastErr)
}

// deadLetter publishes the poison envelope to the topic's dead-letter
// companion, then records the terminal failure and acknowledges so the
// partition keeps moving. A failed DLQ publish leaves the envelope
// unacknowledged for redelivery rather than losing it.
func (w *Worker) deadLetter(ctx context.Context, msg eventbus.Message, event *domain.DonationEvent, attempts int, cause error) error {
	dlq := domain.DeadLetterEvent{
		DonationEvent: *event,
		OriginalTopic: msg.Topic,
		FailureReason: cause.Error(),
		AttemptCount:  attempts,
	}
	payload, err := json.Marshal(dlq)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter event: %w", err)
	}

	dlqTopic := msg.Topic + domain.DLQSuffix
	if err := w.publisher.Publish(ctx, dlqTopic, msg.Key, payload); err != nil {
		return fmt.Errorf("failed to publish to dead-letter topic %s: %w", dlqTopic, err)
	}

	w.logger.Error("Event dead-lettered",
		zap.String("event_id", event.EventID),
		zap.String("dlq_topic", dlqTopic),
		zap.Int("attempts", attempts),
		zap.Error(cause))

	return w.record(ctx, event.EventID, domain.OutcomeDeadLettered, attempts)
}

func (w *Worker) record(ctx context.Context, eventID string, outcome domain.ProcessingOutcome, attempts int) error {
	err := w.processed.Record(ctx, &domain.ProcessedEvent{
		ConsumerGroup: w.group,
		EventID:       eventID,
		Outcome:       outcome,
		Attempts:      attempts,
		ProcessedAt:   time.Now(),
	})
	if errors.Is(err, domain.ErrEventAlreadyProcessed) {
		// Another instance of the group won the race; same outcome.
		return nil
	}
	return err
}
