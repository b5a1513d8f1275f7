package prometheus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/fluxorio/hellopool/pkg/core"
)

// MetricsPath is where Handler serves the exposition format.
const MetricsPath = "/metrics"

// Handler serves gatherer on MetricsPath and a liveness probe on /healthz.
func Handler(gatherer prometheus.Gatherer) fasthttp.RequestHandler {
	if gatherer == nil {
		gatherer = DefaultRegistry
	}
	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(
		promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
	)
	return func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case MetricsPath:
			metricsHandler(ctx)
		case "/healthz":
			ctx.SetContentType("text/plain; charset=utf-8")
			ctx.SetBodyString("ok")
		default:
			ctx.Error("not found", fasthttp.StatusNotFound)
		}
	}
}

// AdminServer exposes metrics over HTTP on its own address, separate from
// the TCP server.
type AdminServer struct {
	server   *fasthttp.Server
	listener net.Listener
	done     chan error
	logger   core.Logger
}

// Serve starts an admin server on addr in the background.
func Serve(addr string, gatherer prometheus.Gatherer, logger core.Logger) (*AdminServer, error) {
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind metrics %s: %w", addr, err)
	}
	s := &AdminServer{
		server: &fasthttp.Server{
			Handler:      Handler(gatherer),
			Name:         "hellopool-admin",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		listener: ln,
		done:     make(chan error, 1),
		logger:   logger,
	}
	go func() {
		s.done <- s.server.Serve(ln)
	}()
	logger.Infof("Metrics available at http://%s%s", ln.Addr(), MetricsPath)
	return s, nil
}

// Addr returns the bound address.
func (s *AdminServer) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops accepting scrapes and waits for in-flight ones.
func (s *AdminServer) Shutdown(ctx context.Context) error {
	if err := s.server.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("metrics shutdown: %w", err)
	}
	if err := <-s.done; err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warnf("metrics server exited: %v", err)
	}
	return nil
}
