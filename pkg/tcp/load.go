package tcp

import (
	"sync/atomic"
)

// LoadGauge tracks in-flight connections against a normal capacity (the pool
// size). It only measures: connections beyond capacity wait in the pool queue
// and are never rejected.
type LoadGauge struct {
	normalCapacity int64
	current        int64
	peak           int64
}

// NewLoadGauge creates a gauge for the given normal capacity (minimum 1).
func NewLoadGauge(normalCapacity int) *LoadGauge {
	if normalCapacity < 1 {
		normalCapacity = 1
	}
	return &LoadGauge{normalCapacity: int64(normalCapacity)}
}

// Acquire records one more in-flight connection and returns the new load.
func (g *LoadGauge) Acquire() int64 {
	n := atomic.AddInt64(&g.current, 1)
	for {
		peak := atomic.LoadInt64(&g.peak)
		if n <= peak || atomic.CompareAndSwapInt64(&g.peak, peak, n) {
			return n
		}
	}
}

// Release records that a connection finished.
func (g *LoadGauge) Release() {
	atomic.AddInt64(&g.current, -1)
}

// Metrics returns current load metrics.
func (g *LoadGauge) Metrics() LoadMetrics {
	current := atomic.LoadInt64(&g.current)
	return LoadMetrics{
		NormalCapacity: g.normalCapacity,
		CurrentLoad:    current,
		PeakLoad:       atomic.LoadInt64(&g.peak),
		Utilization:    float64(current) / float64(g.normalCapacity) * 100,
	}
}

// LoadMetrics provides load statistics.
type LoadMetrics struct {
	NormalCapacity int64   // Pool size
	CurrentLoad    int64   // In-flight connections
	PeakLoad       int64   // Highest CurrentLoad seen
	Utilization    float64 // CurrentLoad relative to NormalCapacity, percent; exceeds 100 when jobs queue
}
