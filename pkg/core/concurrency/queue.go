package concurrency

import (
	"errors"
)

var (
	// ErrQueueClosed is returned by Send after Close, and by Receive once the
	// queue is closed and drained.
	ErrQueueClosed = errors.New("work queue is closed")

	// ErrQueuePoisoned is returned once a panic has escaped while the queue's
	// lock was held. The queue state can no longer be trusted.
	ErrQueuePoisoned = errors.New("work queue is poisoned")

	// ErrPoolClosed is returned by TrySubmit after the pool retired its
	// submission endpoint.
	ErrPoolClosed = errors.New("pool is closed")
)

// WorkQueue carries Jobs from submitters to the workers of one Pool.
// Many goroutines send; all workers share the single receiving side.
type WorkQueue interface {
	// Send enqueues job without blocking.
	// Returns ErrQueueClosed once Close has been called.
	Send(job Job) error

	// Receive blocks until a job is available and returns it.
	// Jobs queued before Close are still delivered; after that Receive
	// returns ErrQueueClosed.
	Receive() (Job, error)

	// Close retires the sending side. Idempotent; wakes every blocked receiver.
	Close()

	// Len returns the number of queued jobs.
	Len() int

	// IsClosed reports whether Close has been called.
	IsClosed() bool
}
