package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fluxorio/hellopool/pkg/accesslog"
	"github.com/fluxorio/hellopool/pkg/core"
	"github.com/fluxorio/hellopool/pkg/core/concurrency"
	"github.com/fluxorio/hellopool/pkg/hello"
	"github.com/fluxorio/hellopool/pkg/observability/otel"
	"github.com/fluxorio/hellopool/pkg/observability/prometheus"
	"github.com/fluxorio/hellopool/pkg/tcp"
)

const teardownTimeout = 10 * time.Second

// endpoints reports the bound addresses once the server is listening.
type endpoints struct {
	Server  string
	Metrics string
}

// run wires the server from cfg and serves until shutdown is set. ready, if
// non-nil, is called once the listener is bound. Teardown order: acceptor,
// pool (joining every worker), metrics, access log sinks, tracer.
func run(ctx context.Context, cfg *AppConfig, logger core.Logger, shutdown *core.ShutdownFlag, ready func(endpoints)) error {
	if err := otel.Initialize(ctx, cfg.Tracing); err != nil {
		logger.Warnf("Failed to initialize OpenTelemetry: %v", err)
	} else if otel.IsInitialized() {
		logger.Infof("OpenTelemetry tracing enabled (%s)", cfg.Tracing.Exporter)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		if err := otel.Shutdown(tctx); err != nil {
			logger.Warnf("%v", err)
		}
	}()

	sink, sqlite := openAccessLog(ctx, cfg.AccessLog, logger)
	if sink != nil {
		defer func() {
			if err := sink.Close(); err != nil {
				logger.Warnf("Failed to close access log: %v", err)
			}
		}()
	}

	metrics := prometheus.GetMetrics()
	var admin *prometheus.AdminServer
	if cfg.Metrics.Addr != "" {
		var err error
		admin, err = prometheus.Serve(cfg.Metrics.Addr, prometheus.DefaultRegistry, logger)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
			defer cancel()
			if err := admin.Shutdown(sctx); err != nil {
				logger.Warnf("%v", err)
			}
		}()
	}

	pool := concurrency.NewPool(cfg.Server.Workers,
		concurrency.WithLogger(logger),
		concurrency.WithObserver(metrics.PoolObserver(cfg.Server.Workers)),
	)
	// Runs before the deferred sink and tracer shutdowns so every queued
	// connection is logged and traced.
	defer pool.Close()

	server := tcp.NewTCPServer(&tcp.TCPServerConfig{
		Addr:         cfg.Server.Addr,
		PollInterval: cfg.Server.PollInterval.Std(),
	}, tcp.WithLogger(logger), tcp.WithPool(pool))

	handler := hello.NewHandler(hello.NewDirStore(cfg.Server.Root),
		hello.WithReadTimeout(cfg.Server.ReadTimeout.Std()))
	server.SetHandler(handler.Handle)
	server.Use(otel.Middleware(nil), metrics.Middleware())
	if sink != nil {
		server.Use(accesslog.Middleware(sink, logger))
	}

	if err := server.Listen(); err != nil {
		return err
	}

	collector := metrics.NewCollector(cfg.Metrics.Interval.Std()).Server(server)
	if sqlite != nil {
		collector.Source(func(m *prometheus.Metrics) { m.UpdateDatabasePool(sqlite.Stats()) })
	}
	cctx, stopCollector := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		collector.Run(cctx)
	}()
	defer func() {
		stopCollector()
		wg.Wait()
	}()

	if ready != nil {
		ep := endpoints{Server: server.ListeningAddr()}
		if admin != nil {
			ep.Metrics = admin.Addr()
		}
		ready(ep)
	}

	if err := server.Serve(shutdown); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// openAccessLog builds the configured sinks. A sink that cannot be opened is
// logged and skipped; the server runs without it.
func openAccessLog(ctx context.Context, cfg AccessLogConfig, logger core.Logger) (accesslog.Sink, *accesslog.SQLiteSink) {
	var sinks []accesslog.Sink
	if cfg.Log {
		sinks = append(sinks, accesslog.NewLogSink(logger))
	}

	var sqlite *accesslog.SQLiteSink
	if cfg.SQLitePath != "" {
		s, err := accesslog.OpenSQLiteSink(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Warnf("Access log to SQLite disabled: %v", err)
		} else {
			sqlite = s
			sinks = append(sinks, s)
			logger.Infof("Access log recorded in %s", cfg.SQLitePath)
		}
	}

	if cfg.NATSURL != "" {
		s, err := accesslog.NewNATSSink(accesslog.NATSConfig{URL: cfg.NATSURL, Prefix: cfg.NATSPrefix, Name: "hellopool"})
		if err != nil {
			logger.Warnf("Access log to NATS disabled: %v", err)
		} else {
			sinks = append(sinks, s)
			logger.Infof("Access log published on %s", accesslog.Subject(cfg.NATSPrefix))
		}
	}

	if len(sinks) == 0 {
		return nil, sqlite
	}
	return accesslog.Multi(sinks...), sqlite
}
