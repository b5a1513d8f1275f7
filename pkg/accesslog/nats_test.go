package accesslog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natssrv "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func runTestNATSServer(t *testing.T) *natssrv.Server {
	t.Helper()

	s, err := natssrv.NewServer(&natssrv.Options{Port: -1})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		s.Shutdown()
		t.Fatalf("nats server not ready")
	}
	t.Cleanup(s.Shutdown)
	return s
}

func TestNATSSink_Publishes(t *testing.T) {
	s := runTestNATSServer(t)

	sub, err := nats.Connect(s.ClientURL())
	if err != nil {
		t.Fatalf("subscriber connect: %v", err)
	}
	defer sub.Close()
	msgs := make(chan *nats.Msg, 4)
	if _, err := sub.ChanSubscribe(Subject("hp.test"), msgs); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	sink, err := NewNATSSink(NATSConfig{URL: s.ClientURL(), Prefix: "hp.test", Name: "accesslog-test"})
	if err != nil {
		t.Fatalf("NewNATSSink: %v", err)
	}
	rec := Record{RequestID: "req-1", RequestLine: "GET / HTTP/1.1", Status: "HTTP/1.1 200 OK", Bytes: 10}
	if err := sink.Write(context.Background(), rec); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case msg := <-msgs:
		if msg.Subject != "hp.test.access" {
			t.Errorf("subject = %q", msg.Subject)
		}
		if msg.Header.Get("X-Request-ID") != "req-1" {
			t.Errorf("request id header = %q", msg.Header.Get("X-Request-ID"))
		}
		var got Record
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.RequestLine != rec.RequestLine || got.Bytes != 10 {
			t.Errorf("decoded = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestNewNATSSink_ConnectFailure(t *testing.T) {
	if _, err := NewNATSSink(NATSConfig{URL: "nats://127.0.0.1:1"}); err == nil {
		t.Fatal("expected connect error")
	}
}
