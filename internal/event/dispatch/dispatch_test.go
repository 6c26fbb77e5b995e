package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestExecutor_Success(t *testing.T) {
	e := NewExecutor(nil)

	result := e.Execute(context.Background(), "payload", func(ctx context.Context, payload any) error {
		return nil
	})

	if !result.Success {
		t.Error("expected success")
	}
	if result.Error != nil {
		t.Errorf("unexpected error: %v", result.Error)
	}
}

func TestExecutor_HandlerError(t *testing.T) {
	e := NewExecutor(nil)
	wantErr := errors.New("handler failed")

	result := e.Execute(context.Background(), nil, func(ctx context.Context, payload any) error {
		return wantErr
	})

	if result.Success {
		t.Error("expected failure")
	}
	if !errors.Is(result.Error, wantErr) {
		t.Errorf("expected %v, got %v", wantErr, result.Error)
	}
}

func TestExecutor_PanicRecovery(t *testing.T) {
	var recovered any
	e := NewExecutor(func(payload, r any, stack []byte) {
		recovered = r
	})

	result := e.Execute(context.Background(), nil, func(ctx context.Context, payload any) error {
		panic("boom")
	})

	if !result.Panicked {
		t.Error("expected panicked result")
	}
	if !errors.Is(result.Error, ErrHandlerPanic) {
		t.Errorf("expected ErrHandlerPanic, got %v", result.Error)
	}
	if recovered != "boom" {
		t.Errorf("expected panic value to reach panic handler, got %v", recovered)
	}
}

func TestExecutor_CancelledContext(t *testing.T) {
	e := NewExecutor(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := e.Execute(ctx, nil, func(ctx context.Context, payload any) error {
		t.Error("handler must not run with cancelled context")
		return nil
	})

	if !result.Skipped {
		t.Error("expected skipped result")
	}
}

func TestExecutor_Timeout(t *testing.T) {
	e := NewExecutor(nil)

	result := e.ExecuteWithTimeout(context.Background(), nil, func(ctx context.Context, payload any) error {
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
		}
		return nil
	}, 20*time.Millisecond)

	if result.Success {
		t.Error("expected timeout failure")
	}
	if !errors.Is(result.Error, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", result.Error)
	}
}

func TestSyncDispatcher_Stats(t *testing.T) {
	d := NewSyncDispatcher(nil)
	ctx := context.Background()

	d.Dispatch(ctx, nil, func(ctx context.Context, payload any) error { return nil })
	d.Dispatch(ctx, nil, func(ctx context.Context, payload any) error { return errors.New("x") })
	d.Dispatch(ctx, nil, func(ctx context.Context, payload any) error { panic("y") })

	stats := d.Stats()
	if stats.Dispatched != 3 || stats.Succeeded != 1 || stats.Failed != 1 || stats.Panicked != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestAsyncDispatcher_ProcessesQueued(t *testing.T) {
	d := NewAsyncDispatcher(nil, WithWorkerCount(2), WithQueueSize(16))
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	var mu sync.Mutex
	seen := 0
	for i := 0; i < 10; i++ {
		err := d.Enqueue(context.Background(), i, func(ctx context.Context, payload any) error {
			mu.Lock()
			seen++
			mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen != 10 {
		t.Errorf("expected 10 processed, got %d", seen)
	}
}

func TestAsyncDispatcher_QueueFull(t *testing.T) {
	d := NewAsyncDispatcher(nil, WithWorkerCount(1), WithQueueSize(1))
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop(context.Background())

	block := make(chan struct{})
	defer close(block)

	// Occupy the single worker, then fill the queue.
	_ = d.Enqueue(context.Background(), nil, func(ctx context.Context, payload any) error {
		<-block
		return nil
	})

	var full bool
	for i := 0; i < 10; i++ {
		if err := d.Enqueue(context.Background(), nil, func(ctx context.Context, payload any) error { return nil }); errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
	}
	if !full {
		t.Error("expected ErrQueueFull once capacity is exceeded")
	}
}

func TestAsyncDispatcher_EnqueueAfterStop(t *testing.T) {
	d := NewAsyncDispatcher(nil)
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if err := d.Enqueue(context.Background(), nil, func(ctx context.Context, payload any) error { return nil }); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}
