package prometheus

import (
	"context"
	"strings"
	"time"

	"github.com/fluxorio/hellopool/pkg/tcp"
)

// Middleware records one ConnectionsHandled sample per connection, labelled
// with the outcome and the status code the handler left on the context.
func (m *Metrics) Middleware() tcp.Middleware {
	return func(next tcp.ConnectionHandler) tcp.ConnectionHandler {
		return func(ctx *tcp.ConnContext) (err error) {
			start := time.Now()
			defer func() {
				outcome := "ok"
				r := recover()
				switch {
				case r != nil:
					outcome = "panic"
				case err != nil:
					outcome = "error"
				}
				var wait time.Duration
				if !ctx.Accepted.IsZero() {
					wait = start.Sub(ctx.Accepted)
				}
				m.RecordConnection(outcome, statusCode(ctx.GetString(tcp.KeyStatus)),
					time.Since(start), wait, ctx.GetInt(tcp.KeyBytes))
				if r != nil {
					panic(r)
				}
			}()
			return next(ctx)
		}
	}
}

// Collector periodically copies gauge snapshots into Metrics.
type Collector struct {
	metrics  *Metrics
	interval time.Duration
	sources  []func(*Metrics)
}

// NewCollector samples every interval (default 5s).
func (m *Metrics) NewCollector(interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Collector{metrics: m, interval: interval}
}

// Server samples the server and pool gauges, and advances the counters only
// the acceptor sees by their change since the last sample.
func (c *Collector) Server(s *tcp.TCPServer) *Collector {
	var last tcp.ServerMetrics
	c.sources = append(c.sources, func(m *Metrics) {
		sm := s.Metrics()
		m.UpdateServerMetrics(sm)
		addDelta(m.ConnectionsAccepted, sm.TotalAccepted, last.TotalAccepted)
		addDelta(m.AcceptErrors, sm.AcceptErrors, last.AcceptErrors)
		addDelta(m.ConnectionsDropped, sm.DroppedConnections, last.DroppedConnections)
		last = sm
	})
	return c
}

func addDelta(c interface{ Add(float64) }, now, before int64) {
	if d := now - before; d > 0 {
		c.Add(float64(d))
	}
}

// Source adds an arbitrary sampling function, e.g. database pool stats.
func (c *Collector) Source(fn func(*Metrics)) *Collector {
	c.sources = append(c.sources, fn)
	return c
}

// Collect samples every source once.
func (c *Collector) Collect() {
	for _, fn := range c.sources {
		fn(c.metrics)
	}
}

// Run samples until ctx is done, then samples a final time.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Collect()
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}

// statusCode extracts "200" from "HTTP/1.1 200 OK". Missing statuses map to "none".
func statusCode(status string) string {
	fields := strings.Fields(status)
	if len(fields) < 2 {
		return "none"
	}
	return fields[1]
}
