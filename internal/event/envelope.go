package event

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gantryio/gantry/internal/event/topic"
)

// Envelope carries a payload across the bus. Envelopes are immutable once
// created.
type Envelope struct {
	// Topic is the concrete channel the envelope was emitted on.
	Topic topic.Topic

	// Payload is the event-specific data.
	Payload any

	// Meta holds standard envelope information.
	Meta Metadata
}

// Metadata is standard information attached to every envelope.
type Metadata struct {
	// ID uniquely identifies this envelope instance.
	ID string

	// Timestamp is when the envelope was created.
	Timestamp time.Time

	// Source identifies the component that emitted the envelope.
	Source string

	// CorrelationID links related envelopes (request/response pairs).
	CorrelationID string
}

// NewEnvelope creates an envelope for the given topic and payload.
func NewEnvelope(t topic.Topic, payload any, source string) Envelope {
	return Envelope{
		Topic:   t,
		Payload: payload,
		Meta: Metadata{
			ID:        uuid.NewString(),
			Timestamp: time.Now(),
			Source:    source,
		},
	}
}

// WithCorrelation returns a copy of the envelope with a correlation ID set.
func (e Envelope) WithCorrelation(id string) Envelope {
	e.Meta.CorrelationID = id
	return e
}

// Handler processes envelopes delivered by the bus.
type Handler interface {
	Handle(ctx context.Context, evt Envelope) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, evt Envelope) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt Envelope) error {
	return f(ctx, evt)
}

// Stats contains bus counters.
type Stats struct {
	// Emitted is the total number of envelopes emitted.
	Emitted uint64

	// Delivered is the number of successful handler deliveries.
	Delivered uint64

	// Dropped is the number of async deliveries dropped (queue full).
	Dropped uint64

	// ListenerErrors is the number of handlers that returned errors.
	ListenerErrors uint64

	// ListenerPanics is the number of handlers that panicked.
	ListenerPanics uint64

	// ActiveSubscriptions is the current number of live subscriptions.
	ActiveSubscriptions int
}
