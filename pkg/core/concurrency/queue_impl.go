package concurrency

import (
	"sync"
)

// compactThreshold is how many consumed slots may pile up at the front of the
// buffer before Receive shifts the live tail down.
const compactThreshold = 1024

// unboundedQueue is a FIFO WorkQueue backed by a slice, a mutex and a condition
// variable. A worker holds the mutex only long enough to take one job.
type unboundedQueue struct {
	mu       sync.Mutex
	ready    *sync.Cond
	jobs     []Job
	head     int
	closed   bool
	poisoned bool
}

// NewWorkQueue creates an empty, open, unbounded WorkQueue.
func NewWorkQueue() WorkQueue {
	q := &unboundedQueue{}
	q.ready = sync.NewCond(&q.mu)
	return q
}

// locked runs fn with the queue lock held. A panic escaping fn poisons the
// queue, wakes all receivers so they observe it, and is re-raised.
func (q *unboundedQueue) locked(fn func()) {
	q.mu.Lock()
	defer q.unlock()
	fn()
}

func (q *unboundedQueue) unlock() {
	if r := recover(); r != nil {
		q.poisoned = true
		q.ready.Broadcast()
		q.mu.Unlock()
		panic(r)
	}
	q.mu.Unlock()
}

func (q *unboundedQueue) Send(job Job) (err error) {
	q.locked(func() {
		switch {
		case q.poisoned:
			err = ErrQueuePoisoned
		case q.closed:
			err = ErrQueueClosed
		default:
			q.jobs = append(q.jobs, job)
			q.ready.Signal()
		}
	})
	return err
}

func (q *unboundedQueue) Receive() (job Job, err error) {
	q.locked(func() {
		for {
			if q.poisoned {
				err = ErrQueuePoisoned
				return
			}
			if q.head < len(q.jobs) {
				job = q.take()
				return
			}
			if q.closed {
				err = ErrQueueClosed
				return
			}
			q.ready.Wait()
		}
	})
	return job, err
}

// take pops the front job. Caller holds q.mu and has checked the queue is non-empty.
func (q *unboundedQueue) take() Job {
	job := q.jobs[q.head]
	q.jobs[q.head] = nil
	q.head++

	switch {
	case q.head == len(q.jobs):
		q.jobs = q.jobs[:0]
		q.head = 0
	case q.head >= compactThreshold && q.head*2 >= len(q.jobs):
		n := copy(q.jobs, q.jobs[q.head:])
		clear(q.jobs[n:])
		q.jobs = q.jobs[:n]
		q.head = 0
	}
	return job
}

func (q *unboundedQueue) Close() {
	q.locked(func() {
		if q.closed {
			return
		}
		q.closed = true
		q.ready.Broadcast()
	})
}

func (q *unboundedQueue) Len() (n int) {
	q.locked(func() {
		n = len(q.jobs) - q.head
	})
	return n
}

func (q *unboundedQueue) IsClosed() (closed bool) {
	q.locked(func() {
		closed = q.closed
	})
	return closed
}
