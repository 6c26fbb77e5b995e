package event

import (
	"context"
	"sync"

	"github.com/gantryio/gantry/internal/event/topic"
)

// reservedRoots are root namespaces that pass through a facade unprefixed:
// platform broadcasts (system, plugin, host, config) and the
// request/response coordination channels stay reachable from every facade.
var reservedRoots = map[string]struct{}{
	"system":   {},
	"plugin":   {},
	"host":     {},
	"config":   {},
	"request":  {},
	"response": {},
}

// Namespace is a scoped view of the bus handed to a plugin instance. Topics
// are prefixed with the namespace on both emit and subscribe, except topics
// under reserved roots. The facade shares the underlying registry entries, so
// unsubscribing through it removes the real entry, and it tracks everything it
// created for bulk teardown through Drain.
type Namespace struct {
	bus    *Bus
	prefix topic.Topic

	mu    sync.Mutex
	owned map[string]*Subscription
}

// Namespace returns a facade that scopes topics under the given prefix.
func (b *Bus) Namespace(prefix topic.Topic) *Namespace {
	return &Namespace{
		bus:    b,
		prefix: prefix,
		owned:  make(map[string]*Subscription),
	}
}

// Prefix returns the facade's namespace prefix.
func (n *Namespace) Prefix() topic.Topic {
	return n.prefix
}

// Qualify maps a facade-relative topic onto the shared bus: reserved roots
// pass through unchanged, everything else is prefixed.
func (n *Namespace) Qualify(t topic.Topic) topic.Topic {
	if _, reserved := reservedRoots[t.Root()]; reserved {
		return t
	}
	if n.prefix == "" {
		return t
	}
	return topic.Join(n.prefix.String(), t.String())
}

// Emit publishes on the qualified topic.
func (n *Namespace) Emit(ctx context.Context, t topic.Topic, payload any) error {
	evt := NewEnvelope(n.Qualify(t), payload, n.prefix.String())
	return n.bus.EmitEnvelope(ctx, evt)
}

// EmitAsync publishes on the qualified topic through the worker pool.
func (n *Namespace) EmitAsync(ctx context.Context, t topic.Topic, payload any) error {
	evt := NewEnvelope(n.Qualify(t), payload, n.prefix.String())
	return n.bus.EmitEnvelopeAsync(ctx, evt)
}

// Subscribe registers a handler for the qualified pattern. The subscription
// is tagged with the facade's prefix as owner and tracked for Drain.
func (n *Namespace) Subscribe(pattern topic.Topic, h Handler, opts ...SubscriptionOption) (*Subscription, error) {
	sub, err := n.bus.Subscribe(n.Qualify(pattern), h, append(opts, WithOwner(n.prefix.String()))...)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.owned[sub.ID()] = sub
	n.mu.Unlock()
	return sub, nil
}

// SubscribeFunc is Subscribe for a bare function handler.
func (n *Namespace) SubscribeFunc(pattern topic.Topic, fn HandlerFunc, opts ...SubscriptionOption) (*Subscription, error) {
	return n.Subscribe(pattern, fn, opts...)
}

// Once registers a single-delivery handler for the qualified pattern.
func (n *Namespace) Once(pattern topic.Topic, h Handler, opts ...SubscriptionOption) (*Subscription, error) {
	return n.Subscribe(pattern, h, append(opts, WithOnce())...)
}

// Unsubscribe removes a facade-created subscription from the shared bus.
func (n *Namespace) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return ErrInvalidSubscription
	}

	n.mu.Lock()
	delete(n.owned, sub.ID())
	n.mu.Unlock()

	return n.bus.Unsubscribe(sub)
}

// Drain removes every subscription this facade created, in one atomic sweep
// over the shared registry. Returns the number removed.
func (n *Namespace) Drain() int {
	n.mu.Lock()
	n.owned = make(map[string]*Subscription)
	n.mu.Unlock()

	return n.bus.RemoveOwner(n.prefix.String())
}

// Count returns the number of live subscriptions created through this facade.
func (n *Namespace) Count() int {
	return n.bus.registry.CountOwner(n.prefix.String())
}
