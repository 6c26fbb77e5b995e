package dispatch

import (
	"context"
	"sync/atomic"
	"time"
)

// SyncDispatcher executes handlers in the caller's goroutine.
type SyncDispatcher struct {
	executor *Executor

	dispatched  atomic.Uint64
	succeeded   atomic.Uint64
	failed      atomic.Uint64
	panicked    atomic.Uint64
	skipped     atomic.Uint64
	totalTimeNs atomic.Int64
}

// NewSyncDispatcher creates a synchronous dispatcher.
func NewSyncDispatcher(onPanic PanicHandler) *SyncDispatcher {
	return &SyncDispatcher{executor: NewExecutor(onPanic)}
}

// Dispatch runs the handler and records the outcome.
func (d *SyncDispatcher) Dispatch(ctx context.Context, payload any, h Handler) Result {
	d.dispatched.Add(1)

	result := d.executor.Execute(ctx, payload, h)
	d.record(result)
	return result
}

func (d *SyncDispatcher) record(result Result) {
	d.totalTimeNs.Add(result.Duration.Nanoseconds())

	switch {
	case result.Skipped:
		d.skipped.Add(1)
	case result.Panicked:
		d.panicked.Add(1)
	case result.Error != nil:
		d.failed.Add(1)
	case result.Success:
		d.succeeded.Add(1)
	}
}

// Stats returns dispatch counters. Values may be slightly inconsistent while
// dispatches are in flight.
func (d *SyncDispatcher) Stats() Stats {
	return Stats{
		Dispatched:    d.dispatched.Load(),
		Succeeded:     d.succeeded.Load(),
		Failed:        d.failed.Load(),
		Panicked:      d.panicked.Load(),
		Skipped:       d.skipped.Load(),
		TotalDuration: time.Duration(d.totalTimeNs.Load()),
	}
}

// Stats contains handler execution counters for a dispatcher.
type Stats struct {
	Dispatched    uint64
	Succeeded     uint64
	Failed        uint64
	Panicked      uint64
	Skipped       uint64
	Dropped       uint64
	QueueDepth    int
	TotalDuration time.Duration
}
