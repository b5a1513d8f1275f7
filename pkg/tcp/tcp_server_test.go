package tcp

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fluxorio/hellopool/pkg/core"
	"github.com/fluxorio/hellopool/pkg/core/concurrency"
)

const testPoll = 20 * time.Millisecond

func testConfig(workers int) *TCPServerConfig {
	cfg := DefaultTCPServerConfig("127.0.0.1:0")
	cfg.Workers = workers
	cfg.PollInterval = testPoll
	return cfg
}

type running struct {
	server *TCPServer
	addr   string
	flag   *core.ShutdownFlag
	errCh  chan error
}

// start binds s and runs Serve on a goroutine.
func start(t *testing.T, s *TCPServer) *running {
	t.Helper()
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	r := &running{
		server: s,
		addr:   s.ListeningAddr(),
		flag:   core.NewShutdownFlag(),
		errCh:  make(chan error, 1),
	}
	go func() { r.errCh <- s.Serve(r.flag) }()
	return r
}

// stop raises the flag and waits for Serve to return.
func (r *running) stop(t *testing.T) time.Duration {
	t.Helper()
	begin := time.Now()
	r.flag.Set()
	select {
	case err := <-r.errCh:
		if err != nil {
			t.Fatalf("Serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not exit after shutdown flag")
	}
	return time.Since(begin)
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return c
}

func eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestNewTCPServer_FailFast_ZeroWorkersPanics(t *testing.T) {
	t.Parallel()
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic for zero workers")
		}
	}()
	_ = NewTCPServer(testConfig(0))
}

func TestTCPServer_SetHandler_FailFast_NilPanics(t *testing.T) {
	t.Parallel()
	s := NewTCPServer(testConfig(1), WithLogger(zaptest.NewLogger(t).Sugar()))
	defer s.Pool().Close()
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic for nil handler")
		}
	}()
	s.SetHandler(nil)
}

func TestTCPServer_Use_FailFast_NilPanics(t *testing.T) {
	t.Parallel()
	s := NewTCPServer(testConfig(1), WithLogger(zaptest.NewLogger(t).Sugar()))
	defer s.Pool().Close()
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic for nil middleware")
		}
	}()
	s.Use(nil)
}

func TestTCPServer_Serve_RequiresListen(t *testing.T) {
	s := NewTCPServer(testConfig(1), WithLogger(zaptest.NewLogger(t).Sugar()))
	defer s.Pool().Close()

	if err := s.Serve(core.NewShutdownFlag()); err == nil {
		t.Fatal("Serve without Listen should fail")
	}
}

func TestTCPServer_Listen_BindFailure(t *testing.T) {
	first := NewTCPServer(testConfig(1), WithLogger(zaptest.NewLogger(t).Sugar()))
	defer first.Pool().Close()
	if err := first.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	r := &running{server: first, flag: core.NewShutdownFlag(), errCh: make(chan error, 1)}
	go func() { r.errCh <- first.Serve(r.flag) }()
	defer r.stop(t)

	second := NewTCPServer(testConfig(1), WithLogger(zaptest.NewLogger(t).Sugar()))
	defer second.Pool().Close()
	second.addr = first.ListeningAddr()
	if err := second.Listen(); err == nil {
		t.Fatal("binding an address in use should fail")
	}
	if err := first.Listen(); err == nil {
		t.Fatal("second Listen on the same server should fail")
	}
}

func TestTCPServer_Serve_HandlesConnection(t *testing.T) {
	s := NewTCPServer(testConfig(2), WithLogger(zaptest.NewLogger(t).Sugar()))

	var handled int64
	var seen sync.Map
	s.SetHandler(func(ctx *ConnContext) error {
		buf := make([]byte, 1)
		_, _ = ctx.Conn.Read(buf)
		seen.Store("id", ctx.RequestID)
		seen.Store("remote", ctx.RemoteAddr)
		if core.GetRequestID(ctx.Context) != ctx.RequestID {
			t.Errorf("context request id mismatch")
		}
		atomic.AddInt64(&handled, 1)
		return nil
	})
	r := start(t, s)

	conn := dial(t, r.addr)
	_, _ = conn.Write([]byte{0x01})

	// The server closes the connection once the handler returns.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF after handler returned, got %v", err)
	}
	_ = conn.Close()

	r.stop(t)

	if atomic.LoadInt64(&handled) != 1 {
		t.Fatalf("handled = %d, want 1", handled)
	}
	id, _ := seen.Load("id")
	if _, err := uuid.Parse(id.(string)); err != nil {
		t.Errorf("request id %v is not a UUID", id)
	}
	if remote, _ := seen.Load("remote"); remote == nil {
		t.Error("remote address not populated")
	}
	m := s.Metrics()
	if m.TotalAccepted != 1 || m.HandledConnections != 1 || m.ActiveConnections != 0 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestTCPServer_ShutdownFlag_StopsWithinOnePollInterval(t *testing.T) {
	s := NewTCPServer(testConfig(1), WithLogger(zaptest.NewLogger(t).Sugar()))
	r := start(t, s)

	time.Sleep(3 * testPoll)
	if took := r.stop(t); took > 10*testPoll {
		t.Errorf("acceptor took %v to notice the flag (poll %v)", took, testPoll)
	}
	if s.ListeningAddr() != "" {
		t.Error("listener should be closed after Serve returns")
	}
	if _, err := net.DialTimeout("tcp", r.addr, 200*time.Millisecond); err == nil {
		t.Error("dial should fail once the listener is closed")
	}
	if s.Pool().LiveWorkers() != 0 {
		t.Error("owned pool should be torn down after Serve returns")
	}
}

func TestTCPServer_Shutdown_WaitsForInFlightConnections(t *testing.T) {
	s := NewTCPServer(testConfig(1), WithLogger(zaptest.NewLogger(t).Sugar()))

	started := make(chan struct{})
	var finished atomic.Bool
	s.SetHandler(func(ctx *ConnContext) error {
		close(started)
		time.Sleep(200 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	r := start(t, s)

	conn := dial(t, r.addr)
	defer conn.Close()
	<-started

	r.stop(t)
	if !finished.Load() {
		t.Fatal("Serve returned before the in-flight connection finished")
	}
}

func TestTCPServer_SlowConnectionDoesNotBlockOthers(t *testing.T) {
	s := NewTCPServer(testConfig(2), WithLogger(zaptest.NewLogger(t).Sugar()))

	s.SetHandler(func(ctx *ConnContext) error {
		buf := make([]byte, 1)
		if _, err := io.ReadFull(ctx.Conn, buf); err != nil {
			return err
		}
		if buf[0] == 's' {
			time.Sleep(500 * time.Millisecond)
		}
		_, err := ctx.Conn.Write(buf)
		return err
	})
	r := start(t, s)
	defer r.stop(t)

	slow := dial(t, r.addr)
	defer slow.Close()
	_, _ = slow.Write([]byte("s"))
	time.Sleep(50 * time.Millisecond)

	begin := time.Now()
	fast := dial(t, r.addr)
	defer fast.Close()
	_, _ = fast.Write([]byte("f"))
	_ = fast.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(fast, make([]byte, 1)); err != nil {
		t.Fatalf("fast read: %v", err)
	}
	if took := time.Since(begin); took > 300*time.Millisecond {
		t.Errorf("fast connection waited %v behind the slow one", took)
	}
}

func TestTCPServer_PanicIsolation(t *testing.T) {
	s := NewTCPServer(testConfig(1), WithLogger(zaptest.NewLogger(t).Sugar()))

	var calls int64
	s.SetHandler(func(ctx *ConnContext) error {
		if atomic.AddInt64(&calls, 1) == 1 {
			panic("boom")
		}
		return nil
	})
	r := start(t, s)

	c1 := dial(t, r.addr)
	_ = c1.Close()
	c2 := dial(t, r.addr)
	_ = c2.Close()

	if !eventually(2*time.Second, func() bool { return atomic.LoadInt64(&calls) >= 2 }) {
		t.Fatalf("expected second call after panic, got %d", atomic.LoadInt64(&calls))
	}
	r.stop(t)

	if m := s.Metrics(); m.PanickedConnections != 1 {
		t.Errorf("PanickedConnections = %d, want 1", m.PanickedConnections)
	}
}

func TestTCPServer_HandlerErrorIsCountedNotFatal(t *testing.T) {
	s := NewTCPServer(testConfig(1), WithLogger(zaptest.NewLogger(t).Sugar()))
	s.SetHandler(func(ctx *ConnContext) error { return errors.New("disk on fire") })
	r := start(t, s)

	for i := 0; i < 3; i++ {
		c := dial(t, r.addr)
		_ = c.Close()
	}
	if !eventually(2*time.Second, func() bool { return s.Metrics().ErrorConnections == 3 }) {
		t.Fatalf("ErrorConnections = %d, want 3", s.Metrics().ErrorConnections)
	}
	r.stop(t)
}

func TestTCPServer_MiddlewareOrder(t *testing.T) {
	s := NewTCPServer(testConfig(1), WithLogger(zaptest.NewLogger(t).Sugar()))

	var mu sync.Mutex
	var order []string
	record := func(name string) Middleware {
		return func(next ConnectionHandler) ConnectionHandler {
			return func(ctx *ConnContext) error {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return next(ctx)
			}
		}
	}
	s.SetHandler(func(ctx *ConnContext) error {
		mu.Lock()
		order = append(order, "handler")
		mu.Unlock()
		ctx.Set(KeyStatus, "done")
		return nil
	})
	s.Use(record("first"), record("second"))
	r := start(t, s)

	c := dial(t, r.addr)
	_ = c.Close()
	if !eventually(2*time.Second, func() bool { return s.Metrics().HandledConnections == 1 }) {
		t.Fatal("connection was not handled")
	}
	r.stop(t)

	mu.Lock()
	defer mu.Unlock()
	if got := strings.Join(order, ","); got != "first,second,handler" {
		t.Errorf("order = %s", got)
	}
}

func TestTCPServer_RetiredPoolClosesConnection(t *testing.T) {
	pool := concurrency.NewPool(1, concurrency.WithLogger(zaptest.NewLogger(t).Sugar()))
	pool.Close()

	s := NewTCPServer(testConfig(1), WithPool(pool), WithLogger(zaptest.NewLogger(t).Sugar()))
	r := start(t, s)

	c := dial(t, r.addr)
	defer c.Close()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := c.Read(make([]byte, 1)); err == nil {
		t.Fatal("expected the unserved connection to be closed")
	}
	r.stop(t)

	m := s.Metrics()
	if m.DroppedConnections != 1 || m.HandledConnections != 0 || m.ActiveConnections != 0 {
		t.Errorf("metrics = %+v, want one dropped connection", m)
	}
}

func TestTCPServer_ExternalPoolIsNotClosed(t *testing.T) {
	pool := concurrency.NewPool(2, concurrency.WithLogger(zaptest.NewLogger(t).Sugar()))
	defer pool.Close()

	s := NewTCPServer(testConfig(8), WithPool(pool), WithLogger(zaptest.NewLogger(t).Sugar()))
	if got := s.Metrics().NormalCCU; got != 2 {
		t.Errorf("NormalCCU = %d, want pool size 2", got)
	}
	r := start(t, s)
	r.stop(t)

	if pool.LiveWorkers() != 2 {
		t.Errorf("external pool should keep running, LiveWorkers = %d", pool.LiveWorkers())
	}
}

// failingListener returns a non-timeout error from every Accept.
type failingListener struct {
	accepts atomic.Int64
	closed  atomic.Bool
}

func (l *failingListener) Accept() (net.Conn, error) {
	l.accepts.Add(1)
	return nil, errors.New("accept: too many open files")
}

func (l *failingListener) Close() error {
	l.closed.Store(true)
	return nil
}

func (l *failingListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7878}
}

func (l *failingListener) SetDeadline(time.Time) error { return nil }

func TestTCPServer_AcceptErrorsAreLoggedAndShutdownStaysPrompt(t *testing.T) {
	cfg := testConfig(1)
	cfg.AcceptRetryInitial = 50 * time.Millisecond
	cfg.AcceptRetryMax = 2 * time.Second

	obs, logs := observer.New(zap.ErrorLevel)
	s := NewTCPServer(cfg, WithLogger(zap.New(obs).Sugar()))
	ln := &failingListener{}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	r := &running{server: s, flag: core.NewShutdownFlag(), errCh: make(chan error, 1)}
	go func() { r.errCh <- s.Serve(r.flag) }()

	// By the third failure the backoff is well past one poll interval.
	if !eventually(5*time.Second, func() bool { return s.Metrics().AcceptErrors >= 3 }) {
		t.Fatalf("accept loop stopped retrying: AcceptErrors = %d", s.Metrics().AcceptErrors)
	}
	if logs.FilterMessageSnippet("Failed to accept connection").Len() < 3 {
		t.Errorf("expected one error log per failed accept, got %v", logs.All())
	}

	if elapsed := r.stop(t); elapsed > 5*testPoll {
		t.Errorf("Serve took %v to notice the flag during backoff, want about %v", elapsed, testPoll)
	}
	if !ln.closed.Load() {
		t.Error("listener should be closed after Serve returns")
	}
	if got, accepts := s.Metrics().AcceptErrors, ln.accepts.Load(); got != accepts {
		t.Errorf("AcceptErrors = %d, want one per Accept call (%d)", got, accepts)
	}
}
