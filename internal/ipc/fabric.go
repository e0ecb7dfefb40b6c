package ipc

import (
	"context"
	"fmt"
	"log/slog"
)

// Fabric is the orchestrator-side view of the IPC fabric: it binds
// both channels (spec.md §4.1: "exactly one binder per channel,
// typically the orchestrator process") and connects its own Client to
// each so the orchestrator can publish/subscribe like any other peer.
type Fabric struct {
	UpstreamBroker   *Broker
	DownstreamBroker *Broker
	Upstream         *Client
	Downstream       *Client
}

// BindFabric binds the upstream and downstream channels at the given
// addresses and connects the orchestrator's own client to each.
func BindFabric(ctx context.Context, upstreamAddr, downstreamAddr string, hwm int, log *slog.Logger) (*Fabric, error) {
	upBroker, err := Bind(upstreamAddr, hwm, log)
	if err != nil {
		return nil, fmt.Errorf("ipc: bind upstream: %w", err)
	}
	downBroker, err := Bind(downstreamAddr, hwm, log)
	if err != nil {
		upBroker.Close()
		return nil, fmt.Errorf("ipc: bind downstream: %w", err)
	}

	up, err := Connect(ctx, upBroker.Addr().String(), hwm, log)
	if err != nil {
		upBroker.Close()
		downBroker.Close()
		return nil, fmt.Errorf("ipc: connect own upstream client: %w", err)
	}
	down, err := Connect(ctx, downBroker.Addr().String(), hwm, log)
	if err != nil {
		up.Close()
		upBroker.Close()
		downBroker.Close()
		return nil, fmt.Errorf("ipc: connect own downstream client: %w", err)
	}

	return &Fabric{
		UpstreamBroker:   upBroker,
		DownstreamBroker: downBroker,
		Upstream:         up,
		Downstream:       down,
	}, nil
}

// Close releases both brokers and the orchestrator's own clients.
func (f *Fabric) Close() {
	f.Upstream.Close()
	f.Downstream.Close()
	f.UpstreamBroker.Close()
	f.DownstreamBroker.Close()
}

// WorkerFabric is a collaborator process's view of the fabric: it
// connects (never binds) to both channels.
type WorkerFabric struct {
	Upstream   *Client
	Downstream *Client
}

// ConnectWorkerFabric connects to both channels as a non-binding peer.
func ConnectWorkerFabric(ctx context.Context, upstreamAddr, downstreamAddr string, hwm int, log *slog.Logger) (*WorkerFabric, error) {
	up, err := Connect(ctx, upstreamAddr, hwm, log)
	if err != nil {
		return nil, fmt.Errorf("ipc: connect upstream: %w", err)
	}
	down, err := Connect(ctx, downstreamAddr, hwm, log)
	if err != nil {
		up.Close()
		return nil, fmt.Errorf("ipc: connect downstream: %w", err)
	}
	return &WorkerFabric{Upstream: up, Downstream: down}, nil
}

// Close releases both client connections.
func (w *WorkerFabric) Close() {
	w.Upstream.Close()
	w.Downstream.Close()
}
