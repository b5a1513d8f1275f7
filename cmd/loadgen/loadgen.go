package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	boff "github.com/Andrej220/go-utils/backoff"

	"github.com/fluxorio/hellopool/pkg/core"
)

// Config describes one load run.
type Config struct {
	Addr        string
	Requests    int
	Concurrency int
	// Lines are sent round-robin, one request line per connection.
	Lines       []string
	DialTimeout time.Duration
	// DialRetries bounds reconnect attempts for a refused dial.
	DialRetries int
}

// Result is the outcome of one request.
type Result struct {
	Line    string
	Status  string
	Bytes   int
	Latency time.Duration
	Err     error
}

// Report summarises a run.
type Report struct {
	Total    int
	Failed   int
	Elapsed  time.Duration
	ByStatus map[string]int
	P50      time.Duration
	P90      time.Duration
	P99      time.Duration
	Max      time.Duration
}

func (r Report) String() string {
	statuses := make([]string, 0, len(r.ByStatus))
	for s, n := range r.ByStatus {
		statuses = append(statuses, fmt.Sprintf("%q=%d", s, n))
	}
	sort.Strings(statuses)
	return fmt.Sprintf("requests=%d failed=%d elapsed=%s p50=%s p90=%s p99=%s max=%s statuses=[%s]",
		r.Total, r.Failed, r.Elapsed.Round(time.Millisecond),
		r.P50, r.P90, r.P99, r.Max, strings.Join(statuses, " "))
}

// Run sends cfg.Requests requests over at most cfg.Concurrency connections at
// a time and returns the aggregate. A cancelled ctx stops issuing new requests.
func Run(ctx context.Context, cfg Config, logger core.Logger) (Report, error) {
	if cfg.Requests <= 0 || cfg.Concurrency <= 0 {
		return Report{}, errors.New("requests and concurrency must be positive")
	}
	if len(cfg.Lines) == 0 {
		return Report{}, errors.New("at least one request line is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	work := make(chan int)
	results := make([]Result, cfg.Requests)
	start := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				results[i] = send(ctx, cfg, cfg.Lines[i%len(cfg.Lines)])
				if results[i].Err != nil {
					logger.Debugf("request %d failed: %v", i, results[i].Err)
				}
			}
		}()
	}

	issued := 0
feed:
	for ; issued < cfg.Requests; issued++ {
		select {
		case work <- issued:
		case <-ctx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	return summarise(results[:issued], time.Since(start)), ctx.Err()
}

func send(ctx context.Context, cfg Config, line string) (res Result) {
	res.Line = line
	started := time.Now()
	defer func() { res.Latency = time.Since(started) }()

	conn, err := dial(ctx, cfg)
	if err != nil {
		res.Err = err
		return res
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, line+"\r\n\r\n"); err != nil {
		res.Err = fmt.Errorf("write: %w", err)
		return res
	}
	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	if err != nil {
		res.Err = fmt.Errorf("read status: %w", err)
		return res
	}
	res.Status = strings.TrimRight(status, "\r\n")
	rest, err := io.ReadAll(r)
	res.Bytes = len(status) + len(rest)
	if err != nil {
		res.Err = fmt.Errorf("read response: %w", err)
	}
	return res
}

func dial(ctx context.Context, cfg Config) (net.Conn, error) {
	d := net.Dialer{Timeout: cfg.DialTimeout}
	retry := boff.New(10*time.Millisecond, 500*time.Millisecond, time.Now().UnixNano())
	for attempt := 0; ; attempt++ {
		conn, err := d.DialContext(ctx, "tcp", cfg.Addr)
		if err == nil {
			return conn, nil
		}
		if attempt >= cfg.DialRetries || ctx.Err() != nil {
			return nil, fmt.Errorf("dial %s: %w", cfg.Addr, err)
		}
		select {
		case <-time.After(retry.Next()):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func summarise(results []Result, elapsed time.Duration) Report {
	rep := Report{Total: len(results), Elapsed: elapsed, ByStatus: map[string]int{}}
	latencies := make([]time.Duration, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			rep.Failed++
			continue
		}
		rep.ByStatus[r.Status]++
		latencies = append(latencies, r.Latency)
	}
	if len(latencies) == 0 {
		return rep
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	rep.P50 = percentile(latencies, 50)
	rep.P90 = percentile(latencies, 90)
	rep.P99 = percentile(latencies, 99)
	rep.Max = latencies[len(latencies)-1]
	return rep
}

// percentile uses nearest rank on an ascending slice.
func percentile(sorted []time.Duration, p int) time.Duration {
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
