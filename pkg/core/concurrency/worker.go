package concurrency

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// WorkerState is the lifecycle state of one worker: Idle -> Executing -> Idle ... -> Terminated.
type WorkerState int32

const (
	WorkerIdle WorkerState = iota
	WorkerExecuting
	WorkerTerminated
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerExecuting:
		return "executing"
	case WorkerTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// worker is one goroutine pulling jobs from the pool's shared queue.
type worker struct {
	id    int
	queue WorkQueue
	state atomic.Int32

	// done is the join handle. It is closed when the goroutine returns and
	// set to nil by the single join that consumes it.
	done chan struct{}

	logger   Logger
	observer Observer
	stats    *poolCounters
}

func startWorker(id int, queue WorkQueue, logger Logger, observer Observer, stats *poolCounters) *worker {
	w := &worker{
		id:       id,
		queue:    queue,
		done:     make(chan struct{}),
		logger:   logger,
		observer: observer,
		stats:    stats,
	}
	go w.run(w.done)
	return w
}

func (w *worker) run(done chan struct{}) {
	defer close(done)

	for {
		job, err := w.next()
		if err != nil {
			w.state.Store(int32(WorkerTerminated))
			if errors.Is(err, ErrQueueClosed) {
				w.logger.Infof("Worker %d disconnected; shutting down", w.id)
				w.observer.WorkerTerminated(w.id, nil)
			} else {
				w.logger.Errorf("Worker %d failed to acquire work queue: %v", w.id, err)
				w.observer.WorkerTerminated(w.id, err)
			}
			return
		}
		w.execute(job)
	}
}

// next fetches the following job. Any failure other than a clean close is
// fatal to this worker only, including a panic raised by the queue itself.
func (w *worker) next() (job Job, err error) {
	defer func() {
		if r := recover(); r != nil {
			job = nil
			err = fmt.Errorf("%w: %v", ErrQueuePoisoned, r)
		}
	}()
	return w.queue.Receive()
}

func (w *worker) execute(job Job) {
	w.state.Store(int32(WorkerExecuting))
	w.logger.Debugf("Worker %d got a job; executing", w.id)
	w.observer.JobStarted(w.id)

	start := time.Now()
	panicked := w.runIsolated(job)

	if panicked {
		w.stats.panicked.Add(1)
	}
	w.stats.completed.Add(1)
	w.observer.JobFinished(w.id, time.Since(start), panicked)
	w.state.Store(int32(WorkerIdle))
}

// runIsolated keeps a panicking job from taking the worker down with it.
func (w *worker) runIsolated(job Job) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			w.logger.Errorf("Worker %d: job panicked (isolated): %v", w.id, r)
		}
	}()
	job()
	return false
}

// join blocks until the worker goroutine has returned. The handle is taken by
// the first call; later calls return false without blocking.
func (w *worker) join() bool {
	done := w.done
	if done == nil {
		return false
	}
	w.done = nil
	<-done
	return true
}

func (w *worker) State() WorkerState {
	return WorkerState(w.state.Load())
}
