// Package accesslog records one entry per served connection and fans it out
// to sinks: the process log, a SQLite table and a NATS subject.
package accesslog

import (
	"time"

	"github.com/fluxorio/hellopool/pkg/tcp"
)

// Record describes one served connection.
type Record struct {
	RequestID   string        `json:"request_id"`
	RemoteAddr  string        `json:"remote_addr"`
	RequestLine string        `json:"request_line"`
	Status      string        `json:"status,omitempty"`
	Bytes       int           `json:"bytes"`
	QueueWait   time.Duration `json:"queue_wait_ns"`
	Duration    time.Duration `json:"duration_ns"`
	Err         string        `json:"error,omitempty"`
	Time        time.Time     `json:"time"`
}

// FromConn builds a record from what the handler left on ctx.
// started is when the worker picked the connection up.
func FromConn(ctx *tcp.ConnContext, started time.Time, err error) Record {
	rec := Record{
		RequestID:   ctx.RequestID,
		RequestLine: ctx.GetString(tcp.KeyRequestLine),
		Status:      ctx.GetString(tcp.KeyStatus),
		Bytes:       ctx.GetInt(tcp.KeyBytes),
		Duration:    time.Since(started),
		Time:        ctx.Accepted,
	}
	if ctx.RemoteAddr != nil {
		rec.RemoteAddr = ctx.RemoteAddr.String()
	}
	if !ctx.Accepted.IsZero() {
		rec.QueueWait = started.Sub(ctx.Accepted)
	} else {
		rec.Time = started
	}
	if err != nil {
		rec.Err = err.Error()
	}
	return rec
}
