package prometheus

import (
	"time"

	"github.com/fluxorio/hellopool/pkg/core/concurrency"
)

type poolObserver struct {
	m *Metrics
}

// PoolObserver returns a concurrency.Observer feeding the job and worker
// metrics. workers is the pool size, used as the initial live worker count.
// The queue length gauge is only sampled, see UpdatePoolStats.
func (m *Metrics) PoolObserver(workers int) concurrency.Observer {
	m.PoolWorkersLive.Set(float64(workers))
	return poolObserver{m: m}
}

func (o poolObserver) JobSubmitted() {
	o.m.JobsSubmitted.Inc()
}

func (o poolObserver) JobDropped(error) {
	o.m.JobsDropped.Inc()
}

func (o poolObserver) JobStarted(int) {
	o.m.PoolWorkersBusy.Inc()
}

func (o poolObserver) JobFinished(_ int, elapsed time.Duration, panicked bool) {
	o.m.PoolWorkersBusy.Dec()
	o.m.JobsCompleted.Inc()
	o.m.JobDuration.Observe(elapsed.Seconds())
	if panicked {
		o.m.JobsPanicked.Inc()
	}
}

func (o poolObserver) WorkerTerminated(int, error) {
	o.m.PoolWorkersLive.Dec()
}
