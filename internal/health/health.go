// Package health wires connwatch service watchers at the STT, LLM,
// TTS, and vision-engine collaborator processes and republishes their
// liveness transitions as health.<service> upstream events, plus
// operator-facing events.Bus notifications.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/roverfleet/roverd/internal/connwatch"
	"github.com/roverfleet/roverd/internal/events"
	"github.com/roverfleet/roverd/internal/httpkit"
	"github.com/roverfleet/roverd/internal/ipc"
	"github.com/roverfleet/roverd/internal/schema"
)

// Probes names the collaborator processes monitored (spec.md §4.7,
// §6's health.<service> topic family).
const (
	ServiceSTT    = "stt"
	ServiceLLM    = "llm"
	ServiceTTS    = "tts"
	ServiceVision = "vision"
)

// Target describes one probed collaborator.
type Target struct {
	Service string
	Probe   connwatch.ProbeFunc
	Backoff connwatch.BackoffConfig
}

// HTTPProbe builds a ProbeFunc that GETs healthURL and treats any
// non-2xx status or transport error as down. Collaborator processes
// that expose an HTTP health endpoint (the STT/LLM/TTS/vision engines
// typically run as local HTTP services) are probed this way.
func HTTPProbe(client *http.Client, healthURL string) connwatch.ProbeFunc {
	if client == nil {
		client = httpkit.NewClient(httpkit.WithTimeout(5*time.Second), httpkit.WithRetry(2, 500*time.Millisecond))
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
		if err != nil {
			return fmt.Errorf("health: build request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("health: probe %s: %w", healthURL, err)
		}
		defer httpkit.DrainAndClose(resp.Body, 1024)
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("health: probe %s: status %d", healthURL, resp.StatusCode)
		}
		return nil
	}
}

// Monitor starts one connwatch.Watcher per target, publishing
// health.<service> upstream whenever liveness changes and forwarding
// the same transition onto the operator event bus.
type Monitor struct {
	manager *connwatch.Manager
	up      *ipc.Client
	bus     *events.Bus
	log     *slog.Logger
}

// NewMonitor constructs a Monitor. bus may be nil (events.Bus is
// nil-safe on Publish).
func NewMonitor(up *ipc.Client, bus *events.Bus, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{manager: connwatch.NewManager(log), up: up, bus: bus, log: log}
}

// Watch starts watching the given targets. Each watcher runs in its
// own goroutine until ctx is cancelled.
//
// connwatch.Watcher only invokes OnReady/OnDown on a ready<->down
// transition, so a service that is down from the very first probe
// (never having been ready) would otherwise never be announced. Watch
// works around that by probing once synchronously up front and
// publishing that initial state before handing off to the watcher for
// ongoing transitions.
func (m *Monitor) Watch(ctx context.Context, targets []Target) {
	for _, t := range targets {
		service := t.Service
		probe := t.Probe

		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := probe(probeCtx)
		cancel()
		if err != nil {
			m.publish(service, false, err.Error())
		} else {
			m.publish(service, true, "")
		}

		m.manager.Watch(ctx, connwatch.WatcherConfig{
			Name:    service,
			Probe:   probe,
			Backoff: t.Backoff,
			OnReady: func() {
				m.publish(service, true, "")
			},
			OnDown: func(err error) {
				m.publish(service, false, err.Error())
			},
		})
	}
}

func (m *Monitor) publish(service string, ok bool, detail string) {
	health := schema.Health{Timestamp: time.Now().Unix(), OK: ok, Detail: detail}
	raw, err := schema.Encode(health)
	if err != nil {
		m.log.Error("failed to encode health event", "service", service, "err", err)
		return
	}
	m.up.Publish(schema.TopicHealthPrefix+service, raw)
	m.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceHealth,
		Kind:      events.KindHealthChange,
		Data:      map[string]any{"service": service, "ok": ok, "detail": detail},
	})
}
