package dispatch

import (
	"context"
	"errors"
	"runtime/debug"
	"time"
)

// ErrHandlerPanic marks results produced by a recovered handler panic.
var ErrHandlerPanic = errors.New("handler panicked")

// Handler is the type-erased handler signature the dispatchers execute.
type Handler func(ctx context.Context, payload any) error

// PanicHandler is invoked after a handler panic has been recovered.
type PanicHandler func(payload any, recovered any, stack []byte)

// Result describes a single handler execution.
type Result struct {
	// Success is true when the handler completed without error or panic.
	Success bool

	// Error is the error returned by the handler, or a wrapped panic.
	Error error

	// Panicked is true when the handler panicked.
	Panicked bool

	// Skipped is true when the handler was not run (context cancelled).
	Skipped bool

	// Duration is the wall-clock time spent in the handler.
	Duration time.Duration
}

// Executor runs handlers with panic recovery and timing.
type Executor struct {
	onPanic PanicHandler
}

// NewExecutor creates an executor. A nil panic handler is allowed; panics are
// still recovered and reflected in the result.
func NewExecutor(onPanic PanicHandler) *Executor {
	return &Executor{onPanic: onPanic}
}

// Execute runs the handler and returns the outcome. It never lets a panic
// escape to the caller.
func (e *Executor) Execute(ctx context.Context, payload any, h Handler) (result Result) {
	select {
	case <-ctx.Done():
		return Result{Skipped: true, Error: ctx.Err()}
	default:
	}

	start := time.Now()

	defer func() {
		result.Duration = time.Since(start)
		if r := recover(); r != nil {
			result.Panicked = true
			result.Error = ErrHandlerPanic
			if e.onPanic != nil {
				e.onPanic(payload, r, debug.Stack())
			}
		}
	}()

	if err := h(ctx, payload); err != nil {
		return Result{Error: err}
	}
	return Result{Success: true}
}

// ExecuteWithTimeout runs the handler under a deadline. The handler runs in a
// separate goroutine; on timeout the result is returned immediately and the
// handler's eventual outcome is discarded.
func (e *Executor) ExecuteWithTimeout(ctx context.Context, payload any, h Handler, timeout time.Duration) Result {
	if timeout <= 0 {
		return e.Execute(ctx, payload, h)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		done <- e.Execute(ctx, payload, h)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return Result{Error: ctx.Err(), Duration: timeout}
	}
}
