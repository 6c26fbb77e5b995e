package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Async dispatcher errors.
var (
	// ErrQueueFull is returned when the async queue cannot accept more work.
	ErrQueueFull = errors.New("dispatch queue is full")

	// ErrNotRunning is returned when enqueueing on a stopped dispatcher.
	ErrNotRunning = errors.New("dispatcher is not running")
)

// Defaults for the async worker pool.
const (
	DefaultQueueSize   = 1024
	DefaultWorkerCount = 4
)

type asyncTask struct {
	ctx     context.Context
	payload any
	handler Handler
}

// AsyncDispatcher executes handlers on a worker pool fed by a bounded queue.
// Enqueue never blocks: when the queue is full the task is dropped and
// ErrQueueFull returned so the publisher can count the drop.
type AsyncDispatcher struct {
	executor *Executor
	queue    chan asyncTask
	wg       sync.WaitGroup

	workerCount int
	running     atomic.Bool

	processed   atomic.Uint64
	succeeded   atomic.Uint64
	failed      atomic.Uint64
	panicked    atomic.Uint64
	dropped     atomic.Uint64
	totalTimeNs atomic.Int64
}

// AsyncOption configures an AsyncDispatcher.
type AsyncOption func(*AsyncDispatcher)

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) AsyncOption {
	return func(d *AsyncDispatcher) {
		if n > 0 {
			d.queue = make(chan asyncTask, n)
		}
	}
}

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(n int) AsyncOption {
	return func(d *AsyncDispatcher) {
		if n > 0 {
			d.workerCount = n
		}
	}
}

// NewAsyncDispatcher creates an asynchronous dispatcher. Call Start before
// enqueueing work.
func NewAsyncDispatcher(onPanic PanicHandler, opts ...AsyncOption) *AsyncDispatcher {
	d := &AsyncDispatcher{
		executor:    NewExecutor(onPanic),
		queue:       make(chan asyncTask, DefaultQueueSize),
		workerCount: DefaultWorkerCount,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the worker pool.
func (d *AsyncDispatcher) Start() error {
	if !d.running.CompareAndSwap(false, true) {
		return nil
	}
	for i := 0; i < d.workerCount; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return nil
}

// Stop drains the queue and waits for workers to finish, or until the context
// is cancelled.
func (d *AsyncDispatcher) Stop(ctx context.Context) error {
	if !d.running.CompareAndSwap(true, false) {
		return nil
	}
	close(d.queue)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue queues a handler execution. Returns ErrQueueFull when the queue is
// at capacity.
func (d *AsyncDispatcher) Enqueue(ctx context.Context, payload any, h Handler) error {
	if !d.running.Load() {
		return ErrNotRunning
	}

	select {
	case d.queue <- asyncTask{ctx: ctx, payload: payload, handler: h}:
		return nil
	default:
		d.dropped.Add(1)
		return ErrQueueFull
	}
}

func (d *AsyncDispatcher) worker() {
	defer d.wg.Done()

	for task := range d.queue {
		result := d.executor.Execute(task.ctx, task.payload, task.handler)

		d.processed.Add(1)
		d.totalTimeNs.Add(result.Duration.Nanoseconds())

		switch {
		case result.Panicked:
			d.panicked.Add(1)
		case result.Error != nil:
			d.failed.Add(1)
		case result.Success:
			d.succeeded.Add(1)
		}
	}
}

// Stats returns dispatch counters.
func (d *AsyncDispatcher) Stats() Stats {
	return Stats{
		Dispatched:    d.processed.Load(),
		Succeeded:     d.succeeded.Load(),
		Failed:        d.failed.Load(),
		Panicked:      d.panicked.Load(),
		Dropped:       d.dropped.Load(),
		QueueDepth:    len(d.queue),
		TotalDuration: time.Duration(d.totalTimeNs.Load()),
	}
}
