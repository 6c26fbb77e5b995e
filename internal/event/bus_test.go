package event

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gantryio/gantry/internal/event/topic"
)

func collector(mu *sync.Mutex, got *[]any) HandlerFunc {
	return func(_ context.Context, evt Envelope) error {
		mu.Lock()
		*got = append(*got, evt.Payload)
		mu.Unlock()
		return nil
	}
}

func TestBus_EmitDeliversPayload(t *testing.T) {
	b := New()
	ctx := context.Background()

	var mu sync.Mutex
	var got []any
	sub, err := b.SubscribeFunc("a.b", collector(&mu, &got))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := b.Emit(ctx, "a.b", map[string]int{"x": 1}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if got[0].(map[string]int)["x"] != 1 {
		t.Errorf("unexpected payload: %v", got[0])
	}

	if err := b.Unsubscribe(sub); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := b.Emit(ctx, "a.b", map[string]int{"x": 2}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("handler called after unsubscribe: %v", got)
	}
}

func TestBus_RegistrationOrder(t *testing.T) {
	b := New()
	ctx := context.Background()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		// Mix exact and wildcard patterns; order must still follow
		// registration across patterns.
		pattern := topic.Topic("job.done")
		if i%2 == 1 {
			pattern = "job.*"
		}
		if _, err := b.SubscribeFunc(pattern, func(_ context.Context, _ Envelope) error {
			order = append(order, i)
			return nil
		}); err != nil {
			t.Fatalf("subscribe %d: %v", i, err)
		}
	}

	if err := b.Emit(ctx, "job.done", nil); err != nil {
		t.Fatalf("emit: %v", err)
	}

	for i, v := range order {
		if v != i {
			t.Fatalf("expected registration order, got %v", order)
		}
	}
}

func TestBus_SnapshotIgnoresMidDispatchChanges(t *testing.T) {
	b := New()
	ctx := context.Background()

	var calls []string
	var late *Subscription

	_, _ = b.SubscribeFunc("t", func(_ context.Context, _ Envelope) error {
		calls = append(calls, "first")
		// Subscribing during dispatch must not affect the current emit.
		late, _ = b.SubscribeFunc("t", func(_ context.Context, _ Envelope) error {
			calls = append(calls, "late")
			return nil
		})
		return nil
	})

	if err := b.Emit(ctx, "t", nil); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(calls) != 1 || calls[0] != "first" {
		t.Fatalf("mid-dispatch subscriber leaked into snapshot: %v", calls)
	}

	if err := b.Emit(ctx, "t", nil); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("late subscriber missing from next emit: %v", calls)
	}
	_ = b.Unsubscribe(late)
}

func TestBus_OnceReentrantEmit(t *testing.T) {
	b := New()
	ctx := context.Background()

	count := 0
	_, err := b.Once("ping", HandlerFunc(func(ctx context.Context, _ Envelope) error {
		count++
		// Re-entrant emit from within the once handler must not cause a
		// second delivery.
		return b.Emit(ctx, "ping", nil)
	}))
	if err != nil {
		t.Fatalf("once: %v", err)
	}

	if err := b.Emit(ctx, "ping", nil); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if count != 1 {
		t.Errorf("once handler fired %d times, want 1", count)
	}
	if b.Registry().Count() != 0 {
		t.Errorf("once subscription not removed")
	}
}

func TestBus_ListenerFaultIsolation(t *testing.T) {
	b := New()
	ctx := context.Background()

	var after int
	_, _ = b.SubscribeFunc("t", func(_ context.Context, _ Envelope) error {
		return errors.New("listener failure")
	})
	_, _ = b.SubscribeFunc("t", func(_ context.Context, _ Envelope) error {
		panic("listener panic")
	})
	_, _ = b.SubscribeFunc("t", func(_ context.Context, _ Envelope) error {
		after++
		return nil
	})

	// Faults must be swallowed and the remaining listener still delivered.
	if err := b.Emit(ctx, "t", nil); err != nil {
		t.Fatalf("emit returned listener fault: %v", err)
	}
	if after != 1 {
		t.Errorf("sibling listener blocked by fault, deliveries = %d", after)
	}

	stats := b.Stats()
	if stats.ListenerErrors != 1 {
		t.Errorf("ListenerErrors = %d, want 1", stats.ListenerErrors)
	}
	if stats.ListenerPanics != 1 {
		t.Errorf("ListenerPanics = %d, want 1", stats.ListenerPanics)
	}
}

func TestBus_DuplicateHandlerRegistration(t *testing.T) {
	b := New()
	ctx := context.Background()

	count := 0
	h := HandlerFunc(func(_ context.Context, _ Envelope) error {
		count++
		return nil
	})

	// Same handler twice: two independent entries, both delivered.
	sub1, _ := b.Subscribe("t", h)
	sub2, _ := b.Subscribe("t", h)

	_ = b.Emit(ctx, "t", nil)
	if count != 2 {
		t.Fatalf("expected 2 deliveries for duplicate registration, got %d", count)
	}

	// Each entry requires its own unsubscription.
	_ = b.Unsubscribe(sub1)
	_ = b.Emit(ctx, "t", nil)
	if count != 3 {
		t.Fatalf("expected 1 delivery after one unsubscribe, got %d", count-2)
	}
	_ = b.Unsubscribe(sub2)
}

func TestBus_RemoveAll(t *testing.T) {
	b := New()

	for i := 0; i < 4; i++ {
		_, _ = b.SubscribeFunc("t.a", func(_ context.Context, _ Envelope) error { return nil })
	}
	_, _ = b.SubscribeFunc("t.b", func(_ context.Context, _ Envelope) error { return nil })

	if n := b.RemoveAll("t.a"); n != 4 {
		t.Errorf("RemoveAll removed %d, want 4", n)
	}
	if n := b.Registry().CountByPattern("t.a"); n != 0 {
		t.Errorf("listener count for t.a = %d, want 0", n)
	}
	if n := b.Registry().Count(); n != 1 {
		t.Errorf("unrelated subscriptions removed, count = %d", n)
	}

	b.Clear()
	if n := b.Registry().Count(); n != 0 {
		t.Errorf("Clear left %d subscriptions", n)
	}
}

func TestBus_UnsubscribeIdempotent(t *testing.T) {
	b := New()

	sub, _ := b.SubscribeFunc("t", func(_ context.Context, _ Envelope) error { return nil })
	if err := b.Unsubscribe(sub); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := b.Unsubscribe(sub); err != nil {
		t.Fatalf("second unsubscribe must be a no-op, got %v", err)
	}
	if err := b.Unsubscribe(nil); !errors.Is(err, ErrInvalidSubscription) {
		t.Errorf("expected ErrInvalidSubscription for nil, got %v", err)
	}
}

func TestBus_ValidationErrors(t *testing.T) {
	b := New()
	ctx := context.Background()

	if _, err := b.Subscribe("", HandlerFunc(func(_ context.Context, _ Envelope) error { return nil })); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("expected ErrInvalidTopic for empty pattern, got %v", err)
	}
	if _, err := b.Subscribe("t", nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("expected ErrNilHandler, got %v", err)
	}
	if err := b.Emit(ctx, "", nil); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("expected ErrInvalidTopic for empty topic, got %v", err)
	}
	if err := b.Emit(ctx, "a.*", nil); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("expected ErrInvalidTopic for pattern emit, got %v", err)
	}
}

func TestBus_WildcardSubscription(t *testing.T) {
	b := New()
	ctx := context.Background()

	var topics []string
	_, _ = b.SubscribeFunc("plugin.**", func(_ context.Context, evt Envelope) error {
		topics = append(topics, evt.Topic.String())
		return nil
	})

	_ = b.Emit(ctx, "plugin.markdown.enabled", nil)
	_ = b.Emit(ctx, "system.startup", nil)

	if len(topics) != 1 || topics[0] != "plugin.markdown.enabled" {
		t.Errorf("wildcard delivery mismatch: %v", topics)
	}
}

func TestBus_EmitAsync(t *testing.T) {
	b := New(WithAsyncWorkers(2))
	if err := b.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx := context.Background()

	var mu sync.Mutex
	seen := 0
	_, _ = b.SubscribeFunc("t", func(_ context.Context, _ Envelope) error {
		mu.Lock()
		seen++
		mu.Unlock()
		return nil
	})

	for i := 0; i < 8; i++ {
		if err := b.EmitAsync(ctx, "t", i); err != nil {
			t.Fatalf("emit async: %v", err)
		}
	}

	if err := b.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen != 8 {
		t.Errorf("async deliveries = %d, want 8", seen)
	}
}
