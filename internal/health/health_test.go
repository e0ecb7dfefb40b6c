package health

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/roverfleet/roverd/internal/events"
	"github.com/roverfleet/roverd/internal/ipc"
	"github.com/roverfleet/roverd/internal/schema"
)

func newTestMonitor(t *testing.T) (*Monitor, <-chan ipc.Message) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	fabric, err := ipc.BindFabric(ctx, "127.0.0.1:0", "127.0.0.1:0", 100, nil)
	if err != nil {
		t.Fatalf("BindFabric: %v", err)
	}
	t.Cleanup(fabric.Close)

	worker, err := ipc.ConnectWorkerFabric(ctx, fabric.UpstreamBroker.Addr().String(), fabric.DownstreamBroker.Addr().String(), 100, nil)
	if err != nil {
		t.Fatalf("ConnectWorkerFabric: %v", err)
	}
	t.Cleanup(worker.Close)

	sub := fabric.Upstream.Subscribe(schema.TopicHealthPrefix)
	time.Sleep(50 * time.Millisecond) // let the handshake land before publishing
	bus := events.New()
	return NewMonitor(worker.Upstream, bus, nil), sub
}

func TestMonitor_PublishesHealthOnReady(t *testing.T) {
	m, sub := newTestMonitor(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alwaysUp := func(ctx context.Context) error { return nil }
	m.Watch(ctx, []Target{{Service: "stt", Probe: alwaysUp}})

	select {
	case msg := <-sub:
		decoded, err := schema.DecodeUpstream(msg.Topic, msg.Payload)
		if err != nil {
			t.Fatalf("decode health event: %v", err)
		}
		h := decoded.(schema.Health)
		if !h.OK {
			t.Errorf("Health.OK = false, want true")
		}
		if msg.Topic != schema.TopicHealthPrefix+"stt" {
			t.Errorf("topic = %q, want health.stt", msg.Topic)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for health.stt publish")
	}
}

func TestMonitor_PublishesHealthOnDown(t *testing.T) {
	m, sub := newTestMonitor(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alwaysDown := func(ctx context.Context) error { return fmt.Errorf("unreachable") }
	m.Watch(ctx, []Target{{Service: "llm", Probe: alwaysDown}})

	select {
	case msg := <-sub:
		decoded, err := schema.DecodeUpstream(msg.Topic, msg.Payload)
		if err != nil {
			t.Fatalf("decode health event: %v", err)
		}
		h := decoded.(schema.Health)
		if h.OK {
			t.Errorf("Health.OK = true, want false")
		}
		if msg.Topic != schema.TopicHealthPrefix+"llm" {
			t.Errorf("topic = %q, want health.llm", msg.Topic)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for health.llm publish")
	}
}

func TestHTTPProbe_ReturnsNilOn2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	probe := HTTPProbe(nil, srv.URL)
	if err := probe(context.Background()); err != nil {
		t.Errorf("HTTPProbe() = %v, want nil", err)
	}
}

func TestHTTPProbe_ReturnsErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	probe := HTTPProbe(nil, srv.URL)
	if err := probe(context.Background()); err == nil {
		t.Error("HTTPProbe() = nil, want error on 503")
	}
}
