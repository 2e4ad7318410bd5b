package domain

import (
	"errors"
	"time"
)

type ProcessingOutcome string

const (
	OutcomeProcessed    ProcessingOutcome = "PROCESSED"
	OutcomeDeadLettered ProcessingOutcome = "DEAD_LETTERED"
)

var ErrEventAlreadyProcessed = errors.New("event already processed by this consumer group")

// ProcessedEvent is one append-only entry in a consumer group's
// processed-event log. Its presence makes redelivery of the same envelope a
// no-op for that group.
type ProcessedEvent struct {
	ConsumerGroup string
	EventID       string
	Outcome       ProcessingOutcome
	Attempts      int
	ProcessedAt   time.Time
}
