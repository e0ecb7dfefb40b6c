package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roverfleet/roverd/internal/ipc"
	"github.com/roverfleet/roverd/internal/schema"
	"github.com/roverfleet/roverd/internal/session"
	"github.com/roverfleet/roverd/internal/worldstate"
)

// defaultPollInterval is the poll interval NewLoop uses when given a
// non-positive one: it bounds how long the receive loop blocks per
// iteration before running timeout checks (spec.md §4.6, §5: "≤ 200 ms").
const defaultPollInterval = 200 * time.Millisecond

// AutoTrigger configures the optional periodic self-invocation of
// LISTENING (spec.md §4.3's auto_trigger_enabled/auto_trigger_interval_s).
type AutoTrigger struct {
	Enabled  bool
	Interval time.Duration
}

// Loop drives a Machine against the real IPC fabric: it subscribes to
// every upstream topic, dispatches each received message to the
// matching Machine handler, publishes the resulting effects
// downstream, and runs the timeout/session watchdog once per
// iteration. The loop is single-threaded by construction: one
// goroutine, one event processed to completion per iteration, per
// spec.md §5.
type Loop struct {
	log          *slog.Logger
	machine      *Machine
	world        *worldstate.Store
	sessions     *session.Manager
	fabric       *ipc.Fabric
	pollInterval time.Duration
	auto         AutoTrigger
}

// NewLoop wires a Loop from its already-constructed dependencies.
func NewLoop(machine *Machine, world *worldstate.Store, sessions *session.Manager, fabric *ipc.Fabric, pollInterval time.Duration, auto AutoTrigger, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Loop{
		log:          log,
		machine:      machine,
		world:        world,
		sessions:     sessions,
		fabric:       fabric,
		pollInterval: pollInterval,
		auto:         auto,
	}
}

// NewIDGen returns an IDGen backed by google/uuid, the form used in
// production; tests inject a deterministic sequence instead.
func NewIDGen() IDGen {
	return func() string { return uuid.NewString() }
}

// Run subscribes to every upstream topic and blocks until ctx is
// canceled, processing at most one inbound event per iteration before
// running timeout checks.
func (l *Loop) Run(ctx context.Context) {
	msgs := l.fabric.Upstream.Subscribe("")

	var autoTicker *time.Ticker
	var autoCh <-chan time.Time
	if l.auto.Enabled && l.auto.Interval > 0 {
		autoTicker = time.NewTicker(l.auto.Interval)
		defer autoTicker.Stop()
		autoCh = autoTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			l.dispatch(msg)
		case <-autoCh:
			l.publish(l.machine.HandleWakeword(time.Now(), false))
		case <-time.After(l.pollInterval):
		}

		now := time.Now()
		l.publish(l.machine.CheckTimeouts(now))
		if fired, state := l.sessions.CheckTimeout(now); fired {
			l.publish([]Effect{{
				Topic: schema.TopicSessionState,
				Payload: schema.SessionState{
					Timestamp: now.Unix(),
					Active:    state.Active,
					LastSeen:  state.LastSeen.Unix(),
				},
			}})
		}
	}
}

func (l *Loop) dispatch(msg ipc.Message) {
	now := time.Now()
	payload, err := schema.DecodeUpstream(msg.Topic, msg.Payload)
	if err != nil {
		l.log.Warn("dropping malformed upstream message", "topic", msg.Topic, "err", err)
		return
	}

	switch m := payload.(type) {
	case schema.WakewordDetected:
		l.publish(l.machine.HandleWakeword(now, false))

	case schema.Transcription:
		l.publish(l.machine.HandleTranscription(now, m.Text, m.Confidence, l.world.WorldContext()))

	case schema.LLMResponse:
		l.world.SetLastLLMResponse(m, now)
		effects := l.machine.HandleLLMResponse(now, m.RequestID, m.Speak, m.Direction, l.world.WorldContext())
		l.world.SetSafetyStop(containsTopic(effects, schema.TopicNavBlocked))
		l.publish(effects)

	case schema.TTSCompletion:
		status := "done"
		if !m.Done {
			status = "failed"
		}
		l.world.SetTTSStatus(status, now)
		l.publish(l.machine.HandleTTSCompletion(now, m.RequestID, m.Done))

	case schema.VisionDetection:
		l.world.ApplyDetection(m, now)

	case schema.Sensor:
		l.world.ApplySensor(m, now)

	case schema.Alert:
		switch m.Kind {
		case schema.AlertCollision:
			l.world.SetMotorEnabled(false)
			l.publish(l.machine.HandleCollisionAlert(now))
		case schema.AlertClear:
			l.world.SetMotorEnabled(true)
		}

	case schema.RemoteIntent:
		l.handleRemoteIntent(now, m)

	case schema.RemoteHeartbeat:
		l.sessions.Heartbeat(now)

	case schema.Health:
		if service := strings.TrimPrefix(msg.Topic, schema.TopicHealthPrefix); service != msg.Topic {
			l.world.SetHealth(service, m)
		}
	}
}

func (l *Loop) handleRemoteIntent(now time.Time, m schema.RemoteIntent) {
	l.world.SetRemoteEvent(m.Intent, now)
	active := l.sessions.State().Active
	switch m.Intent {
	case "start_listen":
		l.publish(l.machine.HandleRemoteStartListen(now, active))
	case "stop":
		l.publish(l.machine.HandleRemoteStop(now, active))
	}
}

// containsTopic reports whether effects includes one published on topic.
func containsTopic(effects []Effect, topic string) bool {
	for _, e := range effects {
		if e.Topic == topic {
			return true
		}
	}
	return false
}

// publish emits every effect downstream in order, skipping any whose
// payload fails to encode (logged, never panics the loop).
func (l *Loop) publish(effects []Effect) {
	for _, e := range effects {
		raw, err := schema.Encode(e.Payload)
		if err != nil {
			l.log.Error("failed to encode downstream effect", "topic", e.Topic, "err", err)
			continue
		}
		l.fabric.Downstream.Publish(e.Topic, raw)
		l.world.SetPhase(string(l.machine.Phase))
		if l.machine.Phase == PhaseError {
			l.world.Reset()
		}
	}
}
