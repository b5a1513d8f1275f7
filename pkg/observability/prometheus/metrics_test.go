package prometheus

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/fluxorio/hellopool/pkg/core"
	"github.com/fluxorio/hellopool/pkg/core/concurrency"
	"github.com/fluxorio/hellopool/pkg/tcp"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetrics(reg), reg
}

func TestGetMetrics_Singleton(t *testing.T) {
	if GetMetrics() != GetMetrics() {
		t.Fatal("GetMetrics should return the same instance")
	}
}

func TestPoolObserver_TracksJobsAndWorkers(t *testing.T) {
	m, _ := newTestMetrics(t)

	pool := concurrency.NewPool(2,
		concurrency.WithLogger(zaptest.NewLogger(t).Sugar()),
		concurrency.WithObserver(m.PoolObserver(2)),
	)
	if got := testutil.ToFloat64(m.PoolWorkersLive); got != 2 {
		t.Fatalf("live workers = %v, want 2", got)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			if i == 0 {
				panic("job failure")
			}
		})
	}
	wg.Wait()
	pool.Close()
	pool.Submit(func() {})

	if got := testutil.ToFloat64(m.JobsSubmitted); got != 5 {
		t.Errorf("submitted = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.JobsCompleted); got != 5 {
		t.Errorf("completed = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.JobsPanicked); got != 1 {
		t.Errorf("panicked = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.JobsDropped); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PoolWorkersBusy); got != 0 {
		t.Errorf("busy = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.PoolWorkersLive); got != 0 {
		t.Errorf("live after close = %v, want 0", got)
	}
	if testutil.CollectAndCount(m.JobDuration) != 1 {
		t.Error("job duration histogram not registered")
	}
}

func TestMiddleware_Outcomes(t *testing.T) {
	m, _ := newTestMetrics(t)
	mw := m.Middleware()

	ctx := func() *tcp.ConnContext {
		return &tcp.ConnContext{
			RequestContext: core.NewRequestContext(),
			Accepted:       time.Now().Add(-time.Millisecond),
		}
	}

	ok := mw(func(c *tcp.ConnContext) error {
		c.Set(tcp.KeyStatus, "HTTP/1.1 200 OK")
		c.Set(tcp.KeyBytes, 128)
		return nil
	})
	notFound := mw(func(c *tcp.ConnContext) error {
		c.Set(tcp.KeyStatus, "HTTP/1.1 404 NOT FOUND")
		return nil
	})
	failing := mw(func(*tcp.ConnContext) error { return errors.New("no file") })
	panicking := mw(func(*tcp.ConnContext) error { panic("boom") })

	_ = ok(ctx())
	_ = ok(ctx())
	_ = notFound(ctx())
	_ = failing(ctx())
	func() {
		defer func() { _ = recover() }()
		_ = panicking(ctx())
	}()

	cases := []struct {
		outcome, status string
		want            float64
	}{
		{"ok", "200", 2},
		{"ok", "404", 1},
		{"error", "none", 1},
		{"panic", "none", 1},
	}
	for _, c := range cases {
		if got := testutil.ToFloat64(m.ConnectionsHandled.WithLabelValues(c.outcome, c.status)); got != c.want {
			t.Errorf("handled{%s,%s} = %v, want %v", c.outcome, c.status, got, c.want)
		}
	}
	if testutil.CollectAndCount(m.ResponseSize) != 1 {
		t.Error("only the 200 responses carried bytes")
	}
}

func TestMiddleware_ReraisesPanic(t *testing.T) {
	m, _ := newTestMetrics(t)
	h := m.Middleware()(func(*tcp.ConnContext) error { panic("boom") })

	defer func() {
		if r := recover(); r != "boom" {
			t.Errorf("recovered %v, want boom", r)
		}
	}()
	_ = h(&tcp.ConnContext{RequestContext: core.NewRequestContext()})
}

func TestCollector_ServerDeltas(t *testing.T) {
	m, _ := newTestMetrics(t)

	pool := concurrency.NewPool(3, concurrency.WithLogger(zaptest.NewLogger(t).Sugar()))
	defer pool.Close()
	s := tcp.NewTCPServer(tcp.DefaultTCPServerConfig("127.0.0.1:0"), tcp.WithPool(pool))

	var samples int
	c := m.NewCollector(time.Hour).Server(s).Source(func(*Metrics) { samples++ })
	c.Collect()
	c.Collect()

	if samples != 2 {
		t.Errorf("custom source sampled %d times, want 2", samples)
	}
	if got := testutil.ToFloat64(m.ServerNormalCCU); got != 3 {
		t.Errorf("normal ccu = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.PoolWorkersLive); got != 3 {
		t.Errorf("live workers = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.ConnectionsAccepted); got != 0 {
		t.Errorf("accepted = %v, want 0", got)
	}
}

func TestStatusCode(t *testing.T) {
	cases := map[string]string{
		"HTTP/1.1 200 OK":        "200",
		"HTTP/1.1 404 NOT FOUND": "404",
		"":                       "none",
		"garbage":                "none",
	}
	for in, want := range cases {
		if got := statusCode(in); got != want {
			t.Errorf("statusCode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCustomMetrics_AreCached(t *testing.T) {
	m, reg := newTestMetrics(t)

	c1 := m.Counter("custom_events_total", "Total custom events", "type")
	c2 := m.Counter("custom_events_total", "Total custom events", "type")
	if c1 != c2 {
		t.Fatal("Counter should return the cached vector")
	}
	c1.WithLabelValues("x").Inc()
	m.Gauge("custom_gauge", "Custom gauge", "label").WithLabelValues("y").Set(42)

	if n, err := testutil.GatherAndCount(reg, "custom_events_total", "custom_gauge"); err != nil || n != 2 {
		t.Errorf("gathered %d custom series, err %v", n, err)
	}
}
