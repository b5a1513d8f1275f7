package tcp

import (
	"context"
	"net"
	"time"

	"github.com/fluxorio/hellopool/pkg/core"
	"github.com/fluxorio/hellopool/pkg/core/concurrency"
)

// Server represents a polling TCP server that hands every connection to a worker pool.
type Server interface {
	// Listen binds the listening socket. Must be called once before Serve.
	Listen() error

	// Serve runs the accept loop on the calling goroutine until flag is set.
	Serve(flag *core.ShutdownFlag) error

	// SetHandler sets the connection handler (fail-fast on nil).
	SetHandler(handler ConnectionHandler)

	// Use adds middleware around the handler.
	Use(mw ...Middleware)

	// Metrics returns current server metrics.
	Metrics() ServerMetrics
}

// ConnectionHandler handles a single TCP connection.
// The server closes the connection after the handler returns, whatever the outcome.
type ConnectionHandler func(ctx *ConnContext) error

// Middleware wraps a ConnectionHandler. The first one added runs outermost.
type Middleware func(next ConnectionHandler) ConnectionHandler

// Keys under which handlers record their outcome on the ConnContext so that
// middleware (access log, metrics, tracing) can read it after the handler returns.
const (
	KeyRequestLine = "request_line"
	KeyStatus      = "status"
	KeyBytes       = "bytes"
)

// ConnContext carries one accepted connection through the middleware chain.
type ConnContext struct {
	*core.RequestContext

	Context   context.Context
	Conn      net.Conn
	RequestID string
	Logger    core.Logger

	LocalAddr  net.Addr
	RemoteAddr net.Addr

	// Accepted is when the acceptor took the connection off the listener,
	// so Accepted..handler start is the time spent queued in the pool.
	Accepted time.Time
}

// ServerMetrics provides TCP server performance metrics.
type ServerMetrics struct {
	TotalAccepted       int64   // Total connections accepted
	HandledConnections  int64   // Total connections that reached a handler
	ErrorConnections    int64   // Total connections whose handler returned an error
	PanickedConnections int64   // Total connections whose handler panicked
	DroppedConnections  int64   // Total connections closed unserved because the pool was retired
	AcceptErrors        int64   // Total non-timeout accept failures
	ActiveConnections   int64   // In-flight connections (queued + handling)
	NormalCCU           int     // Normal capacity (pool size)
	PeakCCU             int64   // Highest in-flight count observed
	CCUUtilization      float64 // ActiveConnections relative to NormalCCU, percent

	Pool concurrency.PoolStats
}
