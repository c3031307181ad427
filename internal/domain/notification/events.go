package notification

import (
	"context"
	"time"
)

// EventType names a domain event.
type EventType string

const (
	EventSent   EventType = "notification.sent"
	EventDenied EventType = "notification.denied"
)

// Event is published after every rate-limited send decision.
type Event struct {
	Type             EventType `json:"type"`
	RecordID         string    `json:"record_id,omitempty"`
	ClientID         string    `json:"client_id"`
	NotificationType string    `json:"notification_type"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// EventPublisher ships domain events to an external sink.
// Implementations live in infra/events/.
type EventPublisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Send outcomes reported to Metrics.
const (
	OutcomeSent           = "sent"
	OutcomeDenied         = "denied"
	OutcomeClientNotFound = "client_not_found"
	OutcomeUnknownType    = "unknown_type"
	OutcomeError          = "error"
)

// Metrics records send outcomes and rate check latency.
// Implementations live in infra/metrics/.
type Metrics interface {
	ObserveSend(outcome string)
	ObserveRateCheck(d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveSend(string)             {}
func (nopMetrics) ObserveRateCheck(time.Duration) {}
