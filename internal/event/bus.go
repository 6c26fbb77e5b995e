package event

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gantryio/gantry/internal/event/dispatch"
	"github.com/gantryio/gantry/internal/event/topic"
	"github.com/gantryio/gantry/internal/observability"
)

// Bus is the shared publish/subscribe bus.
type Bus struct {
	registry *Registry

	syncDispatcher  *dispatch.SyncDispatcher
	asyncDispatcher *dispatch.AsyncDispatcher

	logger  *slog.Logger
	metrics observability.MetricsRecorder

	// seq orders subscriptions across patterns for snapshot dispatch.
	seq atomic.Uint64

	emitted        atomic.Uint64
	delivered      atomic.Uint64
	dropped        atomic.Uint64
	listenerErrors atomic.Uint64
	listenerPanics atomic.Uint64
}

type busConfig struct {
	logger       *slog.Logger
	metrics      observability.MetricsRecorder
	asyncQueue   int
	asyncWorkers int
}

// Option configures a Bus.
type Option func(*busConfig)

// WithLogger sets the logger used for listener faults.
func WithLogger(l *slog.Logger) Option {
	return func(c *busConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder for emit instrumentation.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *busConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithAsyncQueueSize sets the async dispatch queue capacity.
func WithAsyncQueueSize(n int) Option {
	return func(c *busConfig) {
		if n > 0 {
			c.asyncQueue = n
		}
	}
}

// WithAsyncWorkers sets the async worker pool size.
func WithAsyncWorkers(n int) Option {
	return func(c *busConfig) {
		if n > 0 {
			c.asyncWorkers = n
		}
	}
}

// New creates a bus. Synchronous Emit works immediately; call Start before
// using EmitAsync.
func New(opts ...Option) *Bus {
	cfg := busConfig{
		logger:       slog.Default(),
		metrics:      observability.NoopMetrics{},
		asyncQueue:   dispatch.DefaultQueueSize,
		asyncWorkers: dispatch.DefaultWorkerCount,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	b := &Bus{
		registry: NewRegistry(),
		logger:   cfg.logger.With(slog.String("component", "event.bus")),
		metrics:  cfg.metrics,
	}

	onPanic := func(payload any, recovered any, _ []byte) {
		b.logger.Error("listener panic recovered",
			slog.Any("panic", recovered))
	}

	b.syncDispatcher = dispatch.NewSyncDispatcher(onPanic)
	b.asyncDispatcher = dispatch.NewAsyncDispatcher(onPanic,
		dispatch.WithQueueSize(cfg.asyncQueue),
		dispatch.WithWorkerCount(cfg.asyncWorkers),
	)

	return b
}

// Start launches the async worker pool.
func (b *Bus) Start() error {
	return b.asyncDispatcher.Start()
}

// Stop drains pending async deliveries or gives up when the context is
// cancelled.
func (b *Bus) Stop(ctx context.Context) error {
	return b.asyncDispatcher.Stop(ctx)
}

// Emit dispatches synchronously to a snapshot of the listeners live at call
// time, in registration order. Listener faults are isolated: they are logged
// and counted but never returned. Only argument validation can fail.
func (b *Bus) Emit(ctx context.Context, t topic.Topic, payload any) error {
	return b.EmitEnvelope(ctx, NewEnvelope(t, payload, ""))
}

// EmitEnvelope is Emit for a pre-built envelope (used by facades and the
// request/response coordinator to carry source and correlation metadata).
func (b *Bus) EmitEnvelope(ctx context.Context, evt Envelope) error {
	if !evt.Topic.IsValid() || evt.Topic.IsPattern() {
		return ErrInvalidTopic
	}

	start := time.Now()
	snapshot := b.registry.Snapshot(evt.Topic)
	b.emitted.Add(1)

	for _, sub := range snapshot {
		b.deliverSync(ctx, evt, sub)
	}

	b.metrics.RecordEmit(ctx, evt.Topic.String(), len(snapshot), time.Since(start))
	return nil
}

// EmitAsync queues the envelope for worker-pool delivery. The same snapshot
// and isolation rules apply; deliveries that do not fit the queue are dropped
// and counted.
func (b *Bus) EmitAsync(ctx context.Context, t topic.Topic, payload any) error {
	return b.EmitEnvelopeAsync(ctx, NewEnvelope(t, payload, ""))
}

// EmitEnvelopeAsync is EmitAsync for a pre-built envelope.
func (b *Bus) EmitEnvelopeAsync(ctx context.Context, evt Envelope) error {
	if !evt.Topic.IsValid() || evt.Topic.IsPattern() {
		return ErrInvalidTopic
	}

	snapshot := b.registry.Snapshot(evt.Topic)
	b.emitted.Add(1)

	for _, sub := range snapshot {
		if sub.Once() {
			if !sub.claim() {
				continue
			}
			b.registry.Remove(sub.ID())
		}

		handler := sub.handler
		err := b.asyncDispatcher.Enqueue(ctx, evt, func(ctx context.Context, payload any) error {
			env, ok := payload.(Envelope)
			if !ok {
				return nil
			}
			if err := handler.Handle(ctx, env); err != nil {
				b.listenerErrors.Add(1)
				b.logListenerError(env, sub, err)
				return err
			}
			b.delivered.Add(1)
			return nil
		})
		if err != nil {
			b.dropped.Add(1)
		}
	}

	return nil
}

// deliverSync runs one listener with panic isolation, honoring once
// semantics: the entry is claimed and removed before the handler runs, so a
// re-entrant emit cannot deliver a second time.
func (b *Bus) deliverSync(ctx context.Context, evt Envelope, sub *Subscription) {
	if sub.Once() {
		if !sub.claim() {
			return
		}
		b.registry.Remove(sub.ID())
	} else if !sub.IsActive() {
		return
	}

	result := b.syncDispatcher.Dispatch(ctx, evt, func(ctx context.Context, payload any) error {
		env, ok := payload.(Envelope)
		if !ok {
			return nil
		}
		return sub.handler.Handle(ctx, env)
	})

	switch {
	case result.Panicked:
		b.listenerPanics.Add(1)
		b.metrics.RecordListenerFault(ctx, evt.Topic.String())
	case result.Error != nil && !result.Skipped:
		b.listenerErrors.Add(1)
		b.metrics.RecordListenerFault(ctx, evt.Topic.String())
		b.logListenerError(evt, sub, result.Error)
	case result.Success:
		b.delivered.Add(1)
	}
}

func (b *Bus) logListenerError(evt Envelope, sub *Subscription, err error) {
	b.logger.Error("listener error",
		slog.String("topic", evt.Topic.String()),
		slog.String("subscription", sub.ID()),
		slog.String("owner", sub.Owner()),
		slog.Any("error", err))
}

// Subscribe registers a handler for a topic pattern and returns its handle.
// Subscribing the same handler twice creates two independent entries.
func (b *Bus) Subscribe(pattern topic.Topic, h Handler, opts ...SubscriptionOption) (*Subscription, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	if !pattern.IsValid() {
		return nil, ErrInvalidTopic
	}

	sub := newSubscription(uuid.NewString(), b.seq.Add(1), pattern, h, opts...)
	b.registry.Add(sub)
	return sub, nil
}

// SubscribeFunc is Subscribe for a bare function handler.
func (b *Bus) SubscribeFunc(pattern topic.Topic, fn HandlerFunc, opts ...SubscriptionOption) (*Subscription, error) {
	return b.Subscribe(pattern, fn, opts...)
}

// Once registers a single-delivery handler.
func (b *Bus) Once(pattern topic.Topic, h Handler, opts ...SubscriptionOption) (*Subscription, error) {
	return b.Subscribe(pattern, h, append(opts, WithOnce())...)
}

// Unsubscribe removes a subscription. Removing an already-removed
// subscription is a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return ErrInvalidSubscription
	}
	sub.cancel()
	b.registry.Remove(sub.ID())
	return nil
}

// RemoveAll removes every subscription registered under the exact pattern.
func (b *Bus) RemoveAll(pattern topic.Topic) int {
	return b.registry.RemovePattern(pattern)
}

// Clear removes every subscription on the bus.
func (b *Bus) Clear() {
	b.registry.Clear()
}

// RemoveOwner removes every subscription tagged with the owner key in one
// atomic sweep and returns the number removed.
func (b *Bus) RemoveOwner(owner string) int {
	return b.registry.RemoveOwner(owner)
}

// Registry exposes read access for introspection.
func (b *Bus) Registry() *Registry {
	return b.registry
}

// Stats returns bus counters.
func (b *Bus) Stats() Stats {
	async := b.asyncDispatcher.Stats()
	return Stats{
		Emitted:             b.emitted.Load(),
		Delivered:           b.delivered.Load() + async.Succeeded,
		Dropped:             b.dropped.Load(),
		ListenerErrors:      b.listenerErrors.Load(),
		ListenerPanics:      b.listenerPanics.Load() + async.Panicked,
		ActiveSubscriptions: b.registry.Count(),
	}
}
