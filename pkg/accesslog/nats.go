package accesslog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig configures the NATS sink.
type NATSConfig struct {
	// URL is the NATS server URL. Default: nats.DefaultURL.
	URL string

	// Prefix is prepended to the subject. Default: "hellopool".
	Prefix string

	// Name is an optional NATS connection name.
	Name string

	// FlushTimeout bounds Close. Default: 2s.
	FlushTimeout time.Duration
}

// NATSSink publishes records as JSON on "<prefix>.access".
type NATSSink struct {
	nc           *nats.Conn
	subject      string
	flushTimeout time.Duration
}

// NewNATSSink connects to NATS.
func NewNATSSink(cfg NATSConfig) (*NATSSink, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "hellopool"
	}
	flush := cfg.FlushTimeout
	if flush <= 0 {
		flush = 2 * time.Second
	}

	nc, err := nats.Connect(url, func(o *nats.Options) error {
		if cfg.Name != "" {
			o.Name = cfg.Name
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSSink{nc: nc, subject: Subject(prefix), flushTimeout: flush}, nil
}

// Subject returns the subject records are published on for prefix.
func Subject(prefix string) string {
	return prefix + ".access"
}

func (s *NATSSink) Write(_ context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	msg := &nats.Msg{
		Subject: s.subject,
		Data:    data,
		Header:  nats.Header{},
	}
	if rec.RequestID != "" {
		msg.Header.Set("X-Request-ID", rec.RequestID)
	}
	return s.nc.PublishMsg(msg)
}

// Close flushes pending publishes and closes the connection.
func (s *NATSSink) Close() error {
	err := s.nc.FlushTimeout(s.flushTimeout)
	s.nc.Close()
	return err
}
