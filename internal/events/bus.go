// Package events provides a publish/subscribe event bus for operator
// observability. Events flow from the orchestrator and its worker
// processes (motor, vision, MQTT bridge) to subscribers (the dashboard's
// WebSocket handler). The bus is nil-safe: calling Publish on a nil
// *Bus is a no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceOrchestrator identifies events from the central FSM loop.
	SourceOrchestrator = "orchestrator"
	// SourceMotor identifies events from the motor/UART gateway.
	SourceMotor = "motor"
	// SourceVision identifies events from the vision mode controller.
	SourceVision = "vision"
	// SourceRemote identifies events from the remote HTTP adapter.
	SourceRemote = "remote"
	// SourceMQTT identifies events from the MQTT telemetry bridge.
	SourceMQTT = "mqtt"
	// SourceHealth identifies events from connwatch liveness probes.
	SourceHealth = "health"
)

// Kind constants describe the type of event within a source.
const (
	// KindPhaseChange signals the orchestrator FSM changed phase.
	// Data: from, to, reason.
	KindPhaseChange = "phase_change"
	// KindTurnStart signals a conversational turn began (wakeword or
	// remote-initiated listen). Data: session_id, trigger.
	KindTurnStart = "turn_start"
	// KindTurnEnd signals a conversational turn completed or aborted.
	// Data: session_id, phase, reason.
	KindTurnEnd = "turn_end"
	// KindLLMRequest signals an llm.request was dispatched.
	// Data: request_id.
	KindLLMRequest = "llm_request"
	// KindLLMResponse signals an llm.response was received.
	// Data: request_id, direction, has_speech.
	KindLLMResponse = "llm_response"

	// KindNavCmd signals a nav.cmd was issued to the motor gateway.
	// Data: direction, speed, duration_ms.
	KindNavCmd = "nav_cmd"
	// KindForwardBlocked signals a forward command was suppressed by
	// the Pi-side obstacle safety check. Data: min_distance.
	KindForwardBlocked = "forward_blocked"
	// KindCollisionAlert signals an esp.alert collision was observed.
	// Data: s1, s2, s3.
	KindCollisionAlert = "collision_alert"

	// KindVisionModeChange signals the vision controller applied a new
	// capture mode. Data: from, to.
	KindVisionModeChange = "vision_mode_change"
	// KindStreamAcquired signals an MJPEG stream consumer attached.
	KindStreamAcquired = "stream_acquired"
	// KindStreamReleased signals an MJPEG stream consumer detached.
	KindStreamReleased = "stream_released"

	// KindRemoteIntent signals a POST /intent request was accepted.
	// Data: intent, direction.
	KindRemoteIntent = "remote_intent"
	// KindSessionExpired signals the remote session manager declared
	// the supervisor session expired. Data: last_seen_s_ago.
	KindSessionExpired = "session_expired"

	// KindHealthChange signals a connwatch probe's reported liveness
	// changed. Data: service, ok.
	KindHealthChange = "health_change"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
