package concurrency

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxorio/hellopool/pkg/core/failfast"
)

// Observer receives pool lifecycle events, e.g. to feed metrics.
// Callbacks run on the goroutine that caused the event and must not block.
type Observer interface {
	JobSubmitted()
	JobDropped(err error)
	JobStarted(workerID int)
	JobFinished(workerID int, elapsed time.Duration, panicked bool)
	// WorkerTerminated fires when a worker goroutine exits. err is nil for a
	// clean exit after the queue closed and drained.
	WorkerTerminated(workerID int, err error)
}

// NopObserver ignores every event. Embed it to implement only some callbacks.
type NopObserver struct{}

func (NopObserver) JobSubmitted() {}
func (NopObserver) JobDropped(error) {}
func (NopObserver) JobStarted(int) {}
func (NopObserver) JobFinished(int, time.Duration, bool) {}
func (NopObserver) WorkerTerminated(int, error) {}

// PoolStats is a point-in-time snapshot of a Pool.
type PoolStats struct {
	Workers       int   // Fixed pool size
	LiveWorkers   int   // Workers whose goroutine has not terminated
	BusyWorkers   int   // Workers currently executing a job
	QueuedJobs    int   // Jobs waiting in the queue
	SubmittedJobs int64 // Total jobs accepted by Submit
	CompletedJobs int64 // Total jobs that ran to completion (including panics)
	DroppedJobs   int64 // Total jobs rejected after retirement
	PanickedJobs  int64 // Total jobs that panicked
}

type poolCounters struct {
	submitted atomic.Int64
	completed atomic.Int64
	dropped   atomic.Int64
	panicked  atomic.Int64
}

// PoolOption customises a Pool at construction.
type PoolOption func(*Pool)

// WithLogger sets the pool logger. Default: zap's global sugared logger.
func WithLogger(logger Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithQueue replaces the default unbounded queue.
func WithQueue(queue WorkQueue) PoolOption {
	return func(p *Pool) {
		if queue != nil {
			p.queue = queue
		}
	}
}

// WithObserver registers an Observer for pool events.
func WithObserver(observer Observer) PoolOption {
	return func(p *Pool) {
		if observer != nil {
			p.observer = observer
		}
	}
}

// Pool is a fixed-size set of workers sharing one unbounded work queue.
//
// Submission never blocks. Close retires the submission endpoint, lets the
// workers drain what was already queued, then joins every worker in creation
// order. A job submitted after retirement is dropped and logged, not run.
type Pool struct {
	workers  []*worker
	queue    WorkQueue
	logger   Logger
	observer Observer
	stats    poolCounters

	retired   atomic.Bool
	closeOnce sync.Once
}

// NewPool starts size workers. A size below one can never make progress and
// panics (fail-fast) before any worker is started.
func NewPool(size int, opts ...PoolOption) *Pool {
	failfast.Positive(size, "pool size")

	p := &Pool{
		logger:   newDefaultLogger(),
		observer: NopObserver{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.queue == nil {
		p.queue = NewWorkQueue()
	}

	p.workers = make([]*worker, 0, size)
	for id := 0; id < size; id++ {
		p.workers = append(p.workers, startWorker(id, p.queue, p.logger, p.observer, &p.stats))
	}
	return p
}

// Submit enqueues job for execution by some worker. It never blocks and never
// fails loudly: a job submitted after Close has begun is dropped and logged.
func (p *Pool) Submit(job Job) {
	if err := p.TrySubmit(job); err != nil {
		p.logger.Errorf("Failed to send job to worker: %v", err)
	}
}

// TrySubmit is Submit for callers that own resources tied to the job and
// must release them when it is dropped.
func (p *Pool) TrySubmit(job Job) error {
	if job == nil {
		return fmt.Errorf("job cannot be nil")
	}
	if p.retired.Load() {
		return p.drop(ErrPoolClosed)
	}
	if err := p.queue.Send(job); err != nil {
		return p.drop(err)
	}
	p.stats.submitted.Add(1)
	p.observer.JobSubmitted()
	return nil
}

func (p *Pool) drop(err error) error {
	p.stats.dropped.Add(1)
	p.observer.JobDropped(err)
	return err
}

// Close tears the pool down: it retires the submission endpoint, then blocks
// until every worker has terminated, joining them in creation order. Jobs
// already queued still run. Safe to call more than once; concurrent callers
// all return after teardown completes.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.retired.Store(true)
		p.queue.Close()

		for _, w := range p.workers {
			p.logger.Infof("Shutting down worker %d", w.id)
			w.join()
		}
	})
}

// Shutdown runs Close but gives up waiting when ctx ends. Teardown still
// completes in the background in that case.
func (p *Pool) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Close()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool shutdown: %w", ctx.Err())
	}
}

// Size returns the fixed number of workers the pool was built with.
func (p *Pool) Size() int {
	return len(p.workers)
}

// LiveWorkers returns how many worker goroutines are still running.
// It only falls below Size during teardown or after a worker lost the queue.
func (p *Pool) LiveWorkers() int {
	n := 0
	for _, w := range p.workers {
		if w.State() != WorkerTerminated {
			n++
		}
	}
	return n
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	s := PoolStats{
		Workers:       len(p.workers),
		QueuedJobs:    p.queue.Len(),
		SubmittedJobs: p.stats.submitted.Load(),
		CompletedJobs: p.stats.completed.Load(),
		DroppedJobs:   p.stats.dropped.Load(),
		PanickedJobs:  p.stats.panicked.Load(),
	}
	for _, w := range p.workers {
		switch w.State() {
		case WorkerExecuting:
			s.LiveWorkers++
			s.BusyWorkers++
		case WorkerIdle:
			s.LiveWorkers++
		}
	}
	return s
}
