package prometheus

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fluxorio/hellopool/pkg/core/concurrency"
	"github.com/fluxorio/hellopool/pkg/tcp"
)

var (
	// DefaultRegistry is the default Prometheus registry
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer is the default Prometheus registerer
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "hellopool"}, DefaultRegistry)

	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registerer prometheus.Registerer

	// Connection metrics
	ConnectionsAccepted prometheus.Counter
	ConnectionsHandled  *prometheus.CounterVec
	ConnectionsDropped  prometheus.Counter
	AcceptErrors        prometheus.Counter
	ConnectionDuration  *prometheus.HistogramVec
	ConnectionQueueWait prometheus.Histogram
	ResponseSize        *prometheus.HistogramVec

	// Worker pool metrics
	JobsSubmitted   prometheus.Counter
	JobsCompleted   prometheus.Counter
	JobsDropped     prometheus.Counter
	JobsPanicked    prometheus.Counter
	JobDuration     prometheus.Histogram
	PoolWorkersLive prometheus.Gauge
	PoolWorkersBusy prometheus.Gauge
	PoolQueueLength prometheus.Gauge

	// Server load metrics
	ServerActiveConnections prometheus.Gauge
	ServerPeakConnections   prometheus.Gauge
	ServerNormalCCU         prometheus.Gauge
	ServerCCUUtilization    prometheus.Gauge

	// Access log database pool metrics
	DatabaseConnectionsOpen  prometheus.Gauge
	DatabaseConnectionsInUse prometheus.Gauge
	DatabaseConnectionsIdle  prometheus.Gauge

	// Custom metrics registry
	CustomCounters map[string]*prometheus.CounterVec
	CustomGauges   map[string]*prometheus.GaugeVec
	customMu       sync.RWMutex
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics(DefaultRegisterer)
	})
	return metrics
}

// NewMetrics creates a new metrics collection
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}
	f := promauto.With(registerer)

	return &Metrics{
		registerer: registerer,

		ConnectionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "hellopool_connections_accepted_total",
			Help: "Total number of accepted TCP connections",
		}),
		ConnectionsHandled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hellopool_connections_handled_total",
			Help: "Total number of connections that reached a handler",
		}, []string{"outcome", "status"}), // outcome: ok, error, panic
		ConnectionsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "hellopool_connections_dropped_total",
			Help: "Total number of connections closed unserved after the pool was retired",
		}),
		AcceptErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "hellopool_accept_errors_total",
			Help: "Total number of non-timeout accept failures",
		}),
		ConnectionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hellopool_connection_duration_seconds",
			Help:    "Time a worker spent serving a connection",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"outcome"}),
		ConnectionQueueWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hellopool_connection_queue_wait_seconds",
			Help:    "Time between accept and a worker picking the connection up",
			Buckets: []float64{.0001, .001, .01, .1, .5, 1, 5, 10, 30},
		}),
		ResponseSize: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hellopool_response_size_bytes",
			Help:    "Response size in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8), // 64B to 1MB
		}, []string{"status"}),

		JobsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "hellopool_jobs_submitted_total",
			Help: "Total number of jobs accepted by the work queue",
		}),
		JobsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "hellopool_jobs_completed_total",
			Help: "Total number of jobs that ran to completion or panicked",
		}),
		JobsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "hellopool_jobs_dropped_total",
			Help: "Total number of jobs dropped because the pool was retired",
		}),
		JobsPanicked: f.NewCounter(prometheus.CounterOpts{
			Name: "hellopool_jobs_panicked_total",
			Help: "Total number of jobs that panicked",
		}),
		JobDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hellopool_job_duration_seconds",
			Help:    "Job execution time in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		PoolWorkersLive: f.NewGauge(prometheus.GaugeOpts{
			Name: "hellopool_pool_workers_live",
			Help: "Number of worker goroutines still running",
		}),
		PoolWorkersBusy: f.NewGauge(prometheus.GaugeOpts{
			Name: "hellopool_pool_workers_busy",
			Help: "Number of workers executing a job",
		}),
		PoolQueueLength: f.NewGauge(prometheus.GaugeOpts{
			Name: "hellopool_pool_queue_length",
			Help: "Jobs waiting in the work queue",
		}),

		ServerActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "hellopool_server_active_connections",
			Help: "In-flight connections, queued or being handled",
		}),
		ServerPeakConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "hellopool_server_peak_connections",
			Help: "Highest number of in-flight connections observed",
		}),
		ServerNormalCCU: f.NewGauge(prometheus.GaugeOpts{
			Name: "hellopool_server_normal_ccu",
			Help: "Normal capacity (pool size)",
		}),
		ServerCCUUtilization: f.NewGauge(prometheus.GaugeOpts{
			Name: "hellopool_server_ccu_utilization",
			Help: "In-flight connections relative to pool size, percent",
		}),

		DatabaseConnectionsOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "hellopool_database_connections_open",
			Help: "Number of open access log database connections",
		}),
		DatabaseConnectionsInUse: f.NewGauge(prometheus.GaugeOpts{
			Name: "hellopool_database_connections_in_use",
			Help: "Number of access log database connections in use",
		}),
		DatabaseConnectionsIdle: f.NewGauge(prometheus.GaugeOpts{
			Name: "hellopool_database_connections_idle",
			Help: "Number of idle access log database connections",
		}),

		CustomCounters: make(map[string]*prometheus.CounterVec),
		CustomGauges:   make(map[string]*prometheus.GaugeVec),
	}
}

// RecordConnection records one served connection.
func (m *Metrics) RecordConnection(outcome, status string, duration, queueWait time.Duration, bytes int) {
	m.ConnectionsHandled.WithLabelValues(outcome, status).Inc()
	m.ConnectionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if queueWait > 0 {
		m.ConnectionQueueWait.Observe(queueWait.Seconds())
	}
	if bytes > 0 {
		m.ResponseSize.WithLabelValues(status).Observe(float64(bytes))
	}
}

// UpdatePoolStats sets the pool gauges from a snapshot.
func (m *Metrics) UpdatePoolStats(s concurrency.PoolStats) {
	m.PoolWorkersLive.Set(float64(s.LiveWorkers))
	m.PoolWorkersBusy.Set(float64(s.BusyWorkers))
	m.PoolQueueLength.Set(float64(s.QueuedJobs))
}

// UpdateServerMetrics sets the server gauges from a snapshot. Counters are
// advanced by the observer and middleware, not here.
func (m *Metrics) UpdateServerMetrics(s tcp.ServerMetrics) {
	m.ServerActiveConnections.Set(float64(s.ActiveConnections))
	m.ServerPeakConnections.Set(float64(s.PeakCCU))
	m.ServerNormalCCU.Set(float64(s.NormalCCU))
	m.ServerCCUUtilization.Set(s.CCUUtilization)
	m.UpdatePoolStats(s.Pool)
}

// UpdateDatabasePool updates database pool metrics
func (m *Metrics) UpdateDatabasePool(s sql.DBStats) {
	m.DatabaseConnectionsOpen.Set(float64(s.OpenConnections))
	m.DatabaseConnectionsInUse.Set(float64(s.InUse))
	m.DatabaseConnectionsIdle.Set(float64(s.Idle))
}

// Counter creates or returns a custom counter metric
func (m *Metrics) Counter(name, help string, labels ...string) *prometheus.CounterVec {
	m.customMu.RLock()
	if counter, exists := m.CustomCounters[name]; exists {
		m.customMu.RUnlock()
		return counter
	}
	m.customMu.RUnlock()

	m.customMu.Lock()
	defer m.customMu.Unlock()

	// Double-check after acquiring write lock
	if counter, exists := m.CustomCounters[name]; exists {
		return counter
	}
	counter := promauto.With(m.registerer).NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	m.CustomCounters[name] = counter
	return counter
}

// Gauge creates or returns a custom gauge metric
func (m *Metrics) Gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	m.customMu.RLock()
	if gauge, exists := m.CustomGauges[name]; exists {
		m.customMu.RUnlock()
		return gauge
	}
	m.customMu.RUnlock()

	m.customMu.Lock()
	defer m.customMu.Unlock()

	if gauge, exists := m.CustomGauges[name]; exists {
		return gauge
	}
	gauge := promauto.With(m.registerer).NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	m.CustomGauges[name] = gauge
	return gauge
}
