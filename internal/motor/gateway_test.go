package motor

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/roverfleet/roverd/internal/ipc"
	"github.com/roverfleet/roverd/internal/schema"
)

// fakePort pipes writes into a buffer and serves preset read lines,
// standing in for a real serial port in tests.
type fakePort struct {
	io.Reader
	io.Writer
}

func (fakePort) Close() error { return nil }

func newTestFabric(t *testing.T) (*ipc.Fabric, *ipc.WorkerFabric) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	fabric, err := ipc.BindFabric(ctx, "127.0.0.1:0", "127.0.0.1:0", 1000, nil)
	if err != nil {
		t.Fatalf("BindFabric: %v", err)
	}
	t.Cleanup(fabric.Close)

	worker, err := ipc.ConnectWorkerFabric(ctx, fabric.UpstreamBroker.Addr().String(), fabric.DownstreamBroker.Addr().String(), 1000, nil)
	if err != nil {
		t.Fatalf("ConnectWorkerFabric: %v", err)
	}
	t.Cleanup(worker.Close)

	return fabric, worker
}

func TestGateway_ForwardSuppressedWhenObstacleCached(t *testing.T) {
	_, worker := newTestFabric(t)

	pr, pw := io.Pipe()
	port := fakePort{Reader: pr, Writer: &discardWriter{}}
	defer pw.Close()

	g := NewGateway(Config{Baud: 115200}, port, worker, nil)
	g.latest = schema.Sensor{Obstacle: true}
	g.haveSample = true

	raw, _ := schema.Encode(schema.NavCmd{Timestamp: time.Now().Unix(), Direction: schema.DirForward})
	g.handleNavCmd(raw)

	// writeLine should never have been reached; writer stays empty.
	if dw, ok := port.Writer.(*discardWriter); ok && dw.n != 0 {
		t.Errorf("expected no UART write when forward is blocked, wrote %d bytes", dw.n)
	}
}

func TestGateway_ForwardAllowedWhenClear(t *testing.T) {
	_, worker := newTestFabric(t)

	pr, _ := io.Pipe()
	dw := &discardWriter{}
	port := fakePort{Reader: pr, Writer: dw}

	g := NewGateway(Config{Baud: 115200}, port, worker, nil)
	g.latest = schema.Sensor{Obstacle: false, Warning: false}
	g.haveSample = true

	raw, _ := schema.Encode(schema.NavCmd{Timestamp: time.Now().Unix(), Direction: schema.DirForward})
	g.handleNavCmd(raw)

	if dw.n == 0 {
		t.Error("expected a UART write when path is clear")
	}
}

func TestParseLine_RoundTripsThroughGatewayCache(t *testing.T) {
	_, worker := newTestFabric(t)
	pr, _ := io.Pipe()
	g := NewGateway(Config{Baud: 115200}, fakePort{Reader: pr, Writer: &discardWriter{}}, worker, nil)

	sample, _, err := ParseLine("DATA:S1:3,S2:3,S3:3,MQ2:0,SERVO:0,LMOTOR:0,RMOTOR:0,OBSTACLE:1,WARNING:0", time.Now())
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	g.mu.Lock()
	g.latest = *sample
	g.haveSample = true
	g.mu.Unlock()

	if !g.forwardBlocked() {
		t.Error("forwardBlocked should report true when cached sample has obstacle set")
	}
}

type discardWriter struct{ n int }

func (d *discardWriter) Write(p []byte) (int, error) {
	d.n += len(p)
	return len(p), nil
}
