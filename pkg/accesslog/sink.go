package accesslog

import (
	"context"

	"go.uber.org/multierr"

	"github.com/fluxorio/hellopool/pkg/core"
)

// Sink stores or forwards access records. Write is called from worker
// goroutines and must be safe for concurrent use.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

type multiSink []Sink

// Multi writes every record to all sinks. A failing sink does not stop the
// others; their errors are combined.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiSink) Write(ctx context.Context, rec Record) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Write(ctx, rec))
	}
	return err
}

func (m multiSink) Close() error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Close())
	}
	return err
}

// LogSink writes records to a logger at info level.
type LogSink struct {
	logger core.Logger
}

// NewLogSink creates a sink logging through logger.
func NewLogSink(logger core.Logger) *LogSink {
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(_ context.Context, rec Record) error {
	if rec.Err != "" {
		s.logger.Infof("%s %q -> error %s (%d bytes, queued %s, took %s) id=%s",
			rec.RemoteAddr, rec.RequestLine, rec.Err, rec.Bytes, rec.QueueWait, rec.Duration, rec.RequestID)
		return nil
	}
	s.logger.Infof("%s %q -> %q (%d bytes, queued %s, took %s) id=%s",
		rec.RemoteAddr, rec.RequestLine, rec.Status, rec.Bytes, rec.QueueWait, rec.Duration, rec.RequestID)
	return nil
}

func (s *LogSink) Close() error { return nil }
