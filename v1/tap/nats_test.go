package tap

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natsserver "github.com/nats-io/nats-server/v2/test"
	nats "github.com/nats-io/nats.go"
)

func newNATSTap(t *testing.T) (*NATSTap, context.Context) {
	t.Helper()
	addr := os.Getenv("FORMLOOM_TEST_NATS_ADDR")

	var conn *nats.Conn
	var s *server.Server
	var err error

	if addr != "" {
		t.Logf("TestNATSTap: using real NATS at %s", addr)
		conn, err = nats.Connect(addr)
	} else {
		t.Log("TestNATSTap: using embedded NATS server")
		s = natsserver.RunRandClientPortServer()
		conn, err = nats.Connect(s.ClientURL())
	}
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		if s != nil {
			s.Shutdown()
		}
	})
	return NewNATSTap(conn), context.Background()
}

func TestNATSTapPublishWatch(t *testing.T) {
	tp, ctx := newNATSTap(t)
	ch, err := tp.Watch(ctx, "f1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := tp.Publish(ctx, "f1", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case got := <-ch:
		if !bytes.Equal(got, []byte("hello")) {
			t.Fatalf("payload: %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNATSTapUnwatch(t *testing.T) {
	tp, ctx := newNATSTap(t)
	ch, err := tp.Watch(ctx, "f1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := tp.Unwatch(ctx, "f1", ch); err != nil {
		t.Fatalf("unwatch: %v", err)
	}
	if _, open := <-ch; open {
		t.Fatal("channel still open after unwatch")
	}
}

func TestNATSTapPublishCancelledContext(t *testing.T) {
	tp, _ := newNATSTap(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tp.Publish(ctx, "f1", []byte("x")); err == nil {
		t.Fatal("expected context error")
	}
}
