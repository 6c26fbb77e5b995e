package event

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestCoordinator(t *testing.T) (*Bus, *Coordinator) {
	t.Helper()
	b := New()
	c, err := NewCoordinator(b, nil)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return b, c
}

func TestCoordinator_RequestResponse(t *testing.T) {
	_, c := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.HandleRequests(func(_ context.Context, requestTopic string, payload any) (any, error) {
		if requestTopic != "math.double" {
			return nil, errors.New("unknown request")
		}
		return payload.(int) * 2, nil
	})
	if err != nil {
		t.Fatalf("handle requests: %v", err)
	}

	got, err := c.Request(ctx, "math.double", 21, time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if got != 42 {
		t.Errorf("response = %v, want 42", got)
	}
	if c.PendingCount() != 0 {
		t.Errorf("pending count = %d after settlement", c.PendingCount())
	}
}

func TestCoordinator_Timeout(t *testing.T) {
	_, c := newTestCoordinator(t)
	ctx := context.Background()

	// No responder installed: the deadline must win.
	start := time.Now()
	_, err := c.Request(ctx, "never.answered", nil, 50*time.Millisecond)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TimeoutError, got %T", err)
	}
	if te.Topic != "never.answered" {
		t.Errorf("TimeoutError.Topic = %q", te.Topic)
	}
	if elapsed < 50*time.Millisecond {
		t.Errorf("request settled before the deadline: %s", elapsed)
	}
	if c.PendingCount() != 0 {
		t.Errorf("timed-out request left pending entry")
	}
}

func TestCoordinator_LateResponseDropped(t *testing.T) {
	b, c := newTestCoordinator(t)
	ctx := context.Background()

	var requestID string
	_, _ = b.SubscribeFunc(TopicRequest, func(_ context.Context, evt Envelope) error {
		requestID = evt.Payload.(RequestMessage).ID
		return nil
	})

	_, err := c.Request(ctx, "slow.op", nil, 30*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	// A response arriving after the timeout is a dropped no-op.
	if err := b.Emit(ctx, TopicResponse, ResponseMessage{ID: requestID, Payload: "late"}); err != nil {
		t.Fatalf("late response emit: %v", err)
	}
	if c.PendingCount() != 0 {
		t.Errorf("late response revived a settled request")
	}
}

func TestCoordinator_HandlerErrorBecomesErrorResponse(t *testing.T) {
	_, c := newTestCoordinator(t)
	ctx := context.Background()

	_, _ = c.HandleRequests(func(_ context.Context, _ string, _ any) (any, error) {
		return nil, errors.New("storage offline")
	})

	_, err := c.Request(ctx, "any.op", nil, time.Second)
	if err == nil || !strings.Contains(err.Error(), "storage offline") {
		t.Fatalf("expected responder error surfaced to requester, got %v", err)
	}
}

func TestCoordinator_HandlerPanicBecomesErrorResponse(t *testing.T) {
	_, c := newTestCoordinator(t)
	ctx := context.Background()

	_, _ = c.HandleRequests(func(_ context.Context, _ string, _ any) (any, error) {
		panic("responder bug")
	})

	// The panic must be converted to an error response, never propagated
	// into the bus or the requester as a crash.
	_, err := c.Request(ctx, "any.op", nil, time.Second)
	if err == nil || !strings.Contains(err.Error(), "responder bug") {
		t.Fatalf("expected panic converted to error response, got %v", err)
	}
}

func TestCoordinator_ContextCancellation(t *testing.T) {
	_, c := newTestCoordinator(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Request(ctx, "never.answered", nil, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if c.PendingCount() != 0 {
		t.Errorf("cancelled request left pending entry")
	}
}

func TestCoordinator_Close(t *testing.T) {
	_, c := newTestCoordinator(t)

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close must be a no-op, got %v", err)
	}

	_, err := c.Request(context.Background(), "any.op", nil, time.Second)
	if !errors.Is(err, ErrCoordinatorClosed) {
		t.Errorf("expected ErrCoordinatorClosed, got %v", err)
	}
}
