// Command loadgen drives a hellopool server with concurrent request lines and
// prints a latency summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fluxorio/hellopool/pkg/core"
	"github.com/fluxorio/hellopool/pkg/tcp"
)

type lineList []string

func (l *lineList) String() string { return strings.Join(*l, ",") }

func (l *lineList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	os.Exit(realMain())
}

func realMain() int {
	var (
		cfg   Config
		lines lineList
		level string
	)
	flag.StringVar(&cfg.Addr, "addr", tcp.DefaultAddr, "server address")
	flag.IntVar(&cfg.Requests, "n", 100, "total requests")
	flag.IntVar(&cfg.Concurrency, "c", 8, "concurrent connections")
	flag.DurationVar(&cfg.DialTimeout, "dial-timeout", 5*time.Second, "dial timeout")
	flag.IntVar(&cfg.DialRetries, "dial-retries", 3, "retries for a refused dial")
	flag.Var(&lines, "line", "request line to send (repeatable, round-robin)")
	flag.StringVar(&level, "log-level", "info", "log level")
	flag.Parse()

	if len(lines) == 0 {
		lines = lineList{"GET / HTTP/1.1"}
	}
	cfg.Lines = lines

	logger, err := core.NewLogger(core.LogConfig{Level: level, Format: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 2
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infof("Sending %d requests to %s with concurrency %d", cfg.Requests, cfg.Addr, cfg.Concurrency)
	rep, err := Run(ctx, cfg, logger)
	logger.Infof("%s", rep)
	if err != nil {
		logger.Errorf("Load run ended early: %v", err)
		return 1
	}
	if rep.Failed > 0 {
		return 1
	}
	return 0
}
