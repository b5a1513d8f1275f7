package concurrency

// Job is a unit of deferred work. A submitted Job runs exactly once, on
// whichever worker dequeues it, and is never re-queued.
type Job func()

// NamedJob wraps an error-returning body into a Job. A returned error is
// logged under name and goes no further: a Job never fails loudly.
func NamedJob(name string, logger Logger, fn func() error) Job {
	if logger == nil {
		logger = newDefaultLogger()
	}
	return func() {
		if err := fn(); err != nil {
			logger.Errorf("job %s failed: %v", name, err)
		}
	}
}
