package event

import (
	"sync/atomic"
	"time"

	"github.com/gantryio/gantry/internal/event/topic"
)

// Subscription states. A once subscription moves active -> claimed -> done;
// everything else moves active -> cancelled.
const (
	subStateActive int32 = iota
	subStateClaimed
	subStateCancelled
)

// Subscription is an owned handle for a registered listener. Release is
// explicit through Bus.Unsubscribe (or Namespace.Unsubscribe for facade-made
// subscriptions); dropping the handle does not release the entry.
type Subscription struct {
	id        string
	seq       uint64
	pattern   topic.Topic
	handler   Handler
	owner     string
	once      bool
	createdAt time.Time
	state     atomic.Int32
}

// SubscriptionOption configures a subscription at creation.
type SubscriptionOption func(*Subscription)

// WithOnce marks the subscription for removal before its first delivery, so
// the handler fires at most once even under re-entrant emits.
func WithOnce() SubscriptionOption {
	return func(s *Subscription) {
		s.once = true
	}
}

// WithOwner tags the subscription with an owner key for bulk teardown.
func WithOwner(owner string) SubscriptionOption {
	return func(s *Subscription) {
		s.owner = owner
	}
}

func newSubscription(id string, seq uint64, pattern topic.Topic, h Handler, opts ...SubscriptionOption) *Subscription {
	s := &Subscription{
		id:        id,
		seq:       seq,
		pattern:   pattern,
		handler:   h,
		createdAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the unique subscription identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Pattern returns the subscribed topic pattern.
func (s *Subscription) Pattern() topic.Topic {
	return s.pattern
}

// Owner returns the owner key, empty when untagged.
func (s *Subscription) Owner() string {
	return s.owner
}

// Once reports whether this is a single-delivery subscription.
func (s *Subscription) Once() bool {
	return s.once
}

// CreatedAt returns the registration time.
func (s *Subscription) CreatedAt() time.Time {
	return s.createdAt
}

// IsActive reports whether the subscription can still receive deliveries.
func (s *Subscription) IsActive() bool {
	return s.state.Load() == subStateActive
}

// claim atomically takes a once subscription's single delivery. Only the
// winning caller may invoke the handler.
func (s *Subscription) claim() bool {
	return s.state.CompareAndSwap(subStateActive, subStateClaimed)
}

// cancel permanently deactivates the subscription.
func (s *Subscription) cancel() {
	s.state.Store(subStateCancelled)
}
