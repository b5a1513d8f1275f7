package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	boff "github.com/Andrej220/go-utils/backoff"

	"github.com/fluxorio/hellopool/pkg/core"
	"github.com/fluxorio/hellopool/pkg/core/concurrency"
	"github.com/fluxorio/hellopool/pkg/core/failfast"
)

const (
	DefaultAddr         = "127.0.0.1:7878"
	DefaultWorkers      = 4
	DefaultPollInterval = 100 * time.Millisecond

	defaultAcceptRetryInitial = 10 * time.Millisecond
	defaultAcceptRetryMax     = time.Second
)

// TCPServer accepts connections on a polling loop and runs each one as a job
// on a fixed-size worker pool. The loop checks a ShutdownFlag between polls,
// so it stops within one PollInterval of the flag being raised.
type TCPServer struct {
	addr   string
	config *TCPServerConfig
	logger core.Logger

	mu       sync.RWMutex
	listener acceptListener

	pool     *concurrency.Pool
	ownsPool bool

	handler     ConnectionHandler
	middlewares []Middleware
	effective   ConnectionHandler
	load        *LoadGauge

	// Metrics (atomic for thread-safety)
	totalAccepted       int64
	handledConnections  int64
	errorConnections    int64
	panickedConnections int64
	droppedConnections  int64
	acceptErrors        int64
}

// acceptListener is a listener whose Accept can be bounded by a deadline.
// *net.TCPListener satisfies it.
type acceptListener interface {
	net.Listener
	SetDeadline(t time.Time) error
}

// TCPServerConfig configures the TCP server.
type TCPServerConfig struct {
	Addr string

	// Workers is the pool size used when no pool is supplied with WithPool.
	Workers int

	// PollInterval bounds each accept attempt, and therefore how long the
	// loop takes to notice the shutdown flag.
	PollInterval time.Duration

	// Backoff between consecutive non-timeout accept errors.
	AcceptRetryInitial time.Duration
	AcceptRetryMax     time.Duration
}

// DefaultTCPServerConfig returns the default configuration for addr.
func DefaultTCPServerConfig(addr string) *TCPServerConfig {
	if addr == "" {
		addr = DefaultAddr
	}
	return &TCPServerConfig{
		Addr:               addr,
		Workers:            DefaultWorkers,
		PollInterval:       DefaultPollInterval,
		AcceptRetryInitial: defaultAcceptRetryInitial,
		AcceptRetryMax:     defaultAcceptRetryMax,
	}
}

// Option customises a TCPServer.
type Option func(*TCPServer)

// WithLogger sets the server logger.
func WithLogger(logger core.Logger) Option {
	return func(s *TCPServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPool runs connections on an existing pool. The caller keeps ownership
// and must Close it; otherwise the server builds its own and tears it down
// when Serve returns.
func WithPool(pool *concurrency.Pool) Option {
	return func(s *TCPServer) {
		if pool != nil {
			s.pool = pool
			s.ownsPool = false
		}
	}
}

// NewTCPServer creates a new TCP server.
func NewTCPServer(config *TCPServerConfig, opts ...Option) *TCPServer {
	if config == nil {
		config = DefaultTCPServerConfig("")
	}
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.AcceptRetryInitial <= 0 {
		config.AcceptRetryInitial = defaultAcceptRetryInitial
	}
	if config.AcceptRetryMax < config.AcceptRetryInitial {
		config.AcceptRetryMax = defaultAcceptRetryMax
	}

	s := &TCPServer{
		addr:    config.Addr,
		config:  config,
		logger:  core.NewDefaultLogger(),
		handler: defaultConnectionHandler,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pool == nil {
		// A zero or negative size is fatal here, exactly as for NewPool.
		s.pool = concurrency.NewPool(config.Workers, concurrency.WithLogger(s.logger))
		s.ownsPool = true
	}
	s.load = NewLoadGauge(s.pool.Size())
	s.effective = s.handler
	return s
}

func defaultConnectionHandler(ctx *ConnContext) error {
	// Default: do nothing. Connection will be closed by server.
	return nil
}

// SetHandler sets the connection handler (fail-fast on nil).
func (s *TCPServer) SetHandler(handler ConnectionHandler) {
	if handler == nil {
		panic("tcp handler cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
	s.rebuildHandlerLocked()
}

// Use adds middleware to the TCP server. Call before Serve.
// Fail-fast: panics if any middleware is nil.
func (s *TCPServer) Use(mw ...Middleware) {
	if len(mw) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range mw {
		if m == nil {
			panic("tcp middleware cannot be nil")
		}
		s.middlewares = append(s.middlewares, m)
	}
	s.rebuildHandlerLocked()
}

func (s *TCPServer) rebuildHandlerLocked() {
	h := s.handler
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		h = s.middlewares[i](h)
	}
	s.effective = h
}

// Pool returns the pool connections run on.
func (s *TCPServer) Pool() *concurrency.Pool {
	return s.pool
}

// ListeningAddr returns the actual listening address (useful when Addr ends in ":0").
// Returns empty string if not currently listening.
func (s *TCPServer) ListeningAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Listen binds the configured address. A bind failure is returned to the
// caller, which normally treats it as fatal.
func (s *TCPServer) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("tcp server already listening on %s", s.listener.Addr())
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.addr, err)
	}
	dl, ok := ln.(acceptListener)
	if !ok {
		_ = ln.Close()
		return fmt.Errorf("listener %T does not support accept deadlines", ln)
	}
	s.listener = dl
	s.logger.Infof("Listening on %s with %d workers", ln.Addr(), s.pool.Size())
	return nil
}

// ListenAndServe binds and then runs Serve.
func (s *TCPServer) ListenAndServe(flag *core.ShutdownFlag) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(flag)
}

// Serve is the acceptor loop. Each pass:
//
//  1. returns if flag is set;
//  2. accepts with a deadline of PollInterval;
//  3. on a connection, submits a job serving it and loops immediately;
//  4. on deadline expiry (nothing pending), loops;
//  5. on any other error, logs it, backs off and keeps polling. The backoff
//     is slept in PollInterval slices that re-check the flag.
//
// When the loop ends the listener is closed and, if the server built its own
// pool, the pool is torn down, waiting for in-flight connections.
func (s *TCPServer) Serve(flag *core.ShutdownFlag) error {
	failfast.NotNil(flag, "shutdown flag")

	s.mu.RLock()
	ln := s.listener
	s.mu.RUnlock()
	if ln == nil {
		return errors.New("tcp server is not listening; call Listen first")
	}
	defer s.teardown()

	retry := boff.New(s.config.AcceptRetryInitial, s.config.AcceptRetryMax, time.Now().UnixNano())
	failures := 0
	for !flag.IsSet() {
		if err := ln.SetDeadline(time.Now().Add(s.config.PollInterval)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("set accept deadline: %w", err)
		}

		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			atomic.AddInt64(&s.acceptErrors, 1)
			failures++
			delay := retry.Next()
			s.logger.Errorf("Failed to accept connection: %v (retrying in %s)", err, delay)
			s.pause(flag, delay)
			continue
		}
		if failures > 0 {
			retry = boff.New(s.config.AcceptRetryInitial, s.config.AcceptRetryMax, time.Now().UnixNano())
			failures = 0
		}
		s.dispatch(conn)
	}
	return nil
}

// pause sleeps for d in slices of at most PollInterval and returns early once
// flag is set, so a long backoff still honours the shutdown bound.
func (s *TCPServer) pause(flag *core.ShutdownFlag, d time.Duration) {
	for d > 0 && !flag.IsSet() {
		step := min(d, s.config.PollInterval)
		time.Sleep(step)
		d -= step
	}
}

func (s *TCPServer) teardown() {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	s.logger.Infof("Acceptor stopped after %d connections", atomic.LoadInt64(&s.totalAccepted))
	if s.ownsPool {
		s.pool.Close()
	}
}

// dispatch wraps conn in a job and submits it. It never waits for a worker.
func (s *TCPServer) dispatch(conn net.Conn) {
	atomic.AddInt64(&s.totalAccepted, 1)
	s.load.Acquire()

	s.mu.RLock()
	h := s.effective
	s.mu.RUnlock()

	accepted := time.Now()
	job := concurrency.Job(func() { s.serveConn(conn, h, accepted) })
	if err := s.pool.TrySubmit(job); err != nil {
		atomic.AddInt64(&s.droppedConnections, 1)
		s.load.Release()
		_ = conn.Close()
		s.logger.Errorf("Failed to submit connection from %s: %v", conn.RemoteAddr(), err)
	}
}

// serveConn is the job body. The connection is closed when it returns.
func (s *TCPServer) serveConn(conn net.Conn, h ConnectionHandler, accepted time.Time) {
	defer s.load.Release()
	defer conn.Close()

	ctx, id := core.WithNewRequestID(context.Background())
	cctx := &ConnContext{
		RequestContext: core.NewRequestContext(),
		Context:        ctx,
		Conn:           conn,
		RequestID:      id,
		Logger:         s.logger,
		LocalAddr:      conn.LocalAddr(),
		RemoteAddr:     conn.RemoteAddr(),
		Accepted:       accepted,
	}

	// Panic isolation is per connection so a faulty handler cannot take a
	// worker's accounting down with it.
	atomic.AddInt64(&s.handledConnections, 1)
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&s.panickedConnections, 1)
			s.logger.Errorf("panic in connection handler (isolated): %v", r)
		}
	}()
	if err := h(cctx); err != nil {
		atomic.AddInt64(&s.errorConnections, 1)
		s.logger.Errorf("Connection error: %v", err)
	}
}

// Metrics returns current server metrics.
func (s *TCPServer) Metrics() ServerMetrics {
	lm := s.load.Metrics()
	return ServerMetrics{
		TotalAccepted:       atomic.LoadInt64(&s.totalAccepted),
		HandledConnections:  atomic.LoadInt64(&s.handledConnections),
		ErrorConnections:    atomic.LoadInt64(&s.errorConnections),
		PanickedConnections: atomic.LoadInt64(&s.panickedConnections),
		DroppedConnections:  atomic.LoadInt64(&s.droppedConnections),
		AcceptErrors:        atomic.LoadInt64(&s.acceptErrors),
		ActiveConnections:   lm.CurrentLoad,
		NormalCCU:           int(lm.NormalCapacity),
		PeakCCU:             lm.PeakLoad,
		CCUUtilization:      lm.Utilization,
		Pool:                s.pool.Stats(),
	}
}
