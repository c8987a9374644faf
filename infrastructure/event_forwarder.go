package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"palomas/events"
	"palomas/infrastructure/metrics"
)

const publishTimeout = 5 * time.Second

// MessagePublisher sends raw payloads to a subject
type MessagePublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// EventEnvelope wraps every event sent to NATS
type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	Timestamp     time.Time       `json:"timestamp"`
	SourceService string          `json:"source_service"`
	Payload       json.RawMessage `json:"payload"`
}

// EventForwarder relays committed bus events to NATS as <prefix>.<event_type>
type EventForwarder struct {
	publisher MessagePublisher
	prefix    string
	now       func() time.Time
}

// NewEventForwarder creates a forwarder publishing under prefix
func NewEventForwarder(publisher MessagePublisher, prefix string) *EventForwarder {
	return &EventForwarder{
		publisher: publisher,
		prefix:    prefix,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Subject returns the NATS subject for an event type
func (f *EventForwarder) Subject(eventType events.EventType) string {
	return fmt.Sprintf("%s.%s", f.prefix, eventType)
}

// Register subscribes the forwarder to every event type on bus
func (f *EventForwarder) Register(bus *events.Bus) {
	bus.SubscribeAll(f.Handle)
}

// Handle publishes one event. Failures are logged and counted, never returned:
// the ledger change is already committed.
func (f *EventForwarder) Handle(ctx context.Context, event events.Event) {
	err := f.forward(ctx, event)
	metrics.RecordEventPublished(string(event.Type()), err)
	if err != nil {
		log.WithFields(log.Fields{
			"eventType": event.Type(),
			"subject":   f.Subject(event.Type()),
		}).WithError(err).Error("Failed to forward event to NATS")
	}
}

func (f *EventForwarder) forward(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	envelope := EventEnvelope{
		EventID:       uuid.New().String(),
		EventType:     string(event.Type()),
		Timestamp:     f.now(),
		SourceService: "palomas",
		Payload:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return f.publisher.Publish(ctx, f.Subject(event.Type()), data)
}
