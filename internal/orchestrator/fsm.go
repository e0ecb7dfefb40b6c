// Package orchestrator implements the central conversational-turn FSM
// (spec.md §4.6): phase transitions, request/response correlation,
// direction sanitization, and the timeout/watchdog scheduler. The FSM
// logic in this file is effect-returning and has no IPC or clock
// dependency, so it is exercised directly in tests; loop.go drives it
// against the real IPC fabric, worldstate store, and session manager.
package orchestrator

import (
	"time"

	"github.com/roverfleet/roverd/internal/schema"
)

// Phase is one of the five FSM states.
type Phase string

const (
	PhaseIdle      Phase = "IDLE"
	PhaseListening Phase = "LISTENING"
	PhaseThinking  Phase = "THINKING"
	PhaseSpeaking  Phase = "SPEAKING"
	PhaseError     Phase = "ERROR"
)

// minTranscriptionConfidence is the guard threshold on stt.transcription
// before a LISTENING→THINKING transition is taken. Not a configuration
// option (see spec.md §4.3's recognized-keys table, which omits it);
// fixed here as a conservative default.
const minTranscriptionConfidence = 0.5

// Effect is one downstream publication the loop must perform as a
// result of a transition. Effects for a single transition are ordered;
// callers must publish them in the order returned.
type Effect struct {
	Topic   string
	Payload any
}

// Config holds the FSM's timeout durations, sourced from
// internal/config's OrchestratorConfig.
type Config struct {
	STTTimeout           time.Duration
	LLMTimeout           time.Duration
	TTSTimeout           time.Duration
	RemoteSessionTimeout time.Duration
}

// IDGen produces request and session identifiers. Swapped out in tests
// for a deterministic sequence.
type IDGen func() string

// Machine is the orchestrator FSM. All exported Handle* methods
// validate the calling phase themselves and return the effects the
// caller must publish, plus the new phase as m.Phase.
type Machine struct {
	Phase Phase
	cfg   Config
	newID IDGen

	sttStartedAt time.Time
	llmIssuedAt  time.Time
	ttsIssuedAt  time.Time

	requestID string
	sessionID string
}

// New returns a Machine starting in IDLE.
func New(cfg Config, newID IDGen) *Machine {
	if newID == nil {
		newID = func() string { return "" }
	}
	return &Machine{Phase: PhaseIdle, cfg: cfg, newID: newID}
}

func phaseEvent(now time.Time, phase Phase) Effect {
	return Effect{Topic: schema.TopicPhase, Payload: schema.PhaseEvent{Timestamp: now.Unix(), Phase: string(phase)}}
}

func (m *Machine) setPhase(now time.Time, phase Phase) Effect {
	m.Phase = phase
	return phaseEvent(now, phase)
}

// HandleWakeword implements IDLE --wakeword--> LISTENING, guarded on
// the caller having already checked suppression (e.g. an active
// remote session electing to mute wakeword).
func (m *Machine) HandleWakeword(now time.Time, suppressed bool) []Effect {
	if m.Phase != PhaseIdle || suppressed {
		return nil
	}
	return m.enterListening(now)
}

// HandleRemoteStartListen implements IDLE --remote.intent=start_listen--> LISTENING.
func (m *Machine) HandleRemoteStartListen(now time.Time, sessionActive bool) []Effect {
	if m.Phase != PhaseIdle || !sessionActive {
		return nil
	}
	return m.enterListening(now)
}

func (m *Machine) enterListening(now time.Time) []Effect {
	m.sttStartedAt = now
	m.sessionID = m.newID()
	effects := []Effect{
		{Topic: schema.TopicPauseVision, Payload: schema.PauseVision{Timestamp: now.Unix(), Paused: true}},
		{Topic: schema.TopicListenStart, Payload: schema.ListenStart{Timestamp: now.Unix(), SessionID: m.sessionID}},
	}
	effects = append(effects, m.setPhase(now, PhaseListening))
	return effects
}

// HandleTranscription implements both LISTENING stt.transcription
// transitions: guard pass goes to THINKING, guard fail returns to
// IDLE. world is the current world-context snapshot to embed in the
// llm.request.
func (m *Machine) HandleTranscription(now time.Time, text string, confidence float64, world schema.WorldSnapshot) []Effect {
	if m.Phase != PhaseListening {
		return nil
	}

	if confidence < minTranscriptionConfidence || text == "" {
		effects := []Effect{
			{Topic: schema.TopicListenStop, Payload: schema.ListenStop{Timestamp: now.Unix(), Reason: "low_confidence_or_empty"}},
			{Topic: schema.TopicPauseVision, Payload: schema.PauseVision{Timestamp: now.Unix(), Paused: false}},
		}
		effects = append(effects, m.setPhase(now, PhaseIdle))
		return effects
	}

	m.requestID = m.newID()
	m.llmIssuedAt = now
	// cmd.listen.stop must precede llm.request on the wire (spec.md §4.6, §5).
	effects := []Effect{
		{Topic: schema.TopicListenStop, Payload: schema.ListenStop{Timestamp: now.Unix(), Reason: "transcribed"}},
		{Topic: schema.TopicLLMRequest, Payload: schema.LLMRequest{Timestamp: now.Unix(), RequestID: m.requestID, Text: text, World: world}},
	}
	effects = append(effects, m.setPhase(now, PhaseThinking))
	return effects
}

// HandleSTTTimeout implements LISTENING --timeout stt_timeout_s--> IDLE.
func (m *Machine) HandleSTTTimeout(now time.Time) []Effect {
	if m.Phase != PhaseListening {
		return nil
	}
	if now.Sub(m.sttStartedAt) < m.cfg.STTTimeout {
		return nil
	}
	effects := []Effect{
		{Topic: schema.TopicListenStop, Payload: schema.ListenStop{Timestamp: now.Unix(), Reason: "stt_timeout"}},
		{Topic: schema.TopicPauseVision, Payload: schema.PauseVision{Timestamp: now.Unix(), Paused: false}},
	}
	effects = append(effects, m.setPhase(now, PhaseIdle))
	m.sttStartedAt = time.Time{}
	return effects
}

// HandleLLMResponse implements THINKING --llm.response--> SPEAKING,
// dropping silently on request_id mismatch. direction is sanitized
// against world: forward is rewritten to stop when an obstacle or
// warning is present (spec.md's hard invariant).
func (m *Machine) HandleLLMResponse(now time.Time, requestID, speak string, direction schema.Direction, world schema.WorldSnapshot) []Effect {
	if m.Phase != PhaseThinking {
		return nil
	}
	if requestID != m.requestID {
		return nil // drop silently: stale or foreign response
	}

	sanitized := direction
	blocked := sanitized == schema.DirForward && (world.Obstacle || world.Warning)
	if blocked {
		sanitized = schema.DirStop
	}

	m.ttsIssuedAt = now
	effects := []Effect{
		{Topic: schema.TopicTTSRequest, Payload: schema.TTSRequest{Timestamp: now.Unix(), RequestID: m.requestID, Text: speak}},
	}
	if sanitized != schema.DirNone {
		effects = append(effects, Effect{Topic: schema.TopicNavCmd, Payload: schema.NavCmd{Timestamp: now.Unix(), Direction: sanitized}})
	}
	if blocked {
		effects = append(effects, Effect{Topic: schema.TopicNavBlocked, Payload: schema.NavBlocked{Timestamp: now.Unix(), Requested: direction, Reason: "obstacle_or_warning"}})
	}
	effects = append(effects, m.setPhase(now, PhaseSpeaking))
	return effects
}

// HandleLLMTimeout implements THINKING --timeout llm_timeout_s--> IDLE.
func (m *Machine) HandleLLMTimeout(now time.Time) []Effect {
	if m.Phase != PhaseThinking {
		return nil
	}
	if now.Sub(m.llmIssuedAt) < m.cfg.LLMTimeout {
		return nil
	}
	return m.toIdleWithError(now, "llm_timeout")
}

// HandleTTSCompletion implements both SPEAKING tts.speak(completion)
// transitions back to IDLE; done:false is treated as failure.
func (m *Machine) HandleTTSCompletion(now time.Time, requestID string, done bool) []Effect {
	if m.Phase != PhaseSpeaking {
		return nil
	}
	if requestID != m.requestID {
		return nil
	}
	if !done {
		return m.toIdleWithError(now, "tts_failed")
	}
	effects := []Effect{
		{Topic: schema.TopicPauseVision, Payload: schema.PauseVision{Timestamp: now.Unix(), Paused: false}},
	}
	effects = append(effects, m.setPhase(now, PhaseIdle))
	return effects
}

// HandleTTSTimeout implements SPEAKING --timeout tts_timeout_s--> IDLE.
func (m *Machine) HandleTTSTimeout(now time.Time) []Effect {
	if m.Phase != PhaseSpeaking {
		return nil
	}
	if now.Sub(m.ttsIssuedAt) < m.cfg.TTSTimeout {
		return nil
	}
	return m.toIdleWithError(now, "tts_timeout")
}

func (m *Machine) toIdleWithError(now time.Time, reason string) []Effect {
	effects := []Effect{
		{Topic: schema.TopicCancelAll, Payload: schema.CancelAll{Timestamp: now.Unix(), Reason: reason}},
		{Topic: schema.TopicPauseVision, Payload: schema.PauseVision{Timestamp: now.Unix(), Paused: false}},
	}
	effects = append(effects, m.setPhase(now, PhaseIdle))
	m.requestID = ""
	m.sttStartedAt = time.Time{}
	return effects
}

// HandleCollisionAlert implements the any-phase esp.alert=collision
// rule: always stop the motor; LISTENING additionally aborts back to
// IDLE (spec.md §4.6's LISTENING-specific row is a special case of
// this general one).
func (m *Machine) HandleCollisionAlert(now time.Time) []Effect {
	effects := []Effect{
		{Topic: schema.TopicNavCmd, Payload: schema.NavCmd{Timestamp: now.Unix(), Direction: schema.DirStop}},
	}
	if m.Phase == PhaseListening {
		effects = append(effects, Effect{Topic: schema.TopicListenStop, Payload: schema.ListenStop{Timestamp: now.Unix(), Reason: "collision"}})
		effects = append(effects, m.setPhase(now, PhaseIdle))
	}
	return effects
}

// HandleRemoteStop implements the any-phase remote.intent=stop rule:
// propagate stop to all workers and return to IDLE, guarded on an
// active session.
func (m *Machine) HandleRemoteStop(now time.Time, sessionActive bool) []Effect {
	if !sessionActive {
		return nil
	}
	effects := []Effect{
		{Topic: schema.TopicCancelAll, Payload: schema.CancelAll{Timestamp: now.Unix(), Reason: "remote_stop"}},
		{Topic: schema.TopicNavCmd, Payload: schema.NavCmd{Timestamp: now.Unix(), Direction: schema.DirStop}},
		{Topic: schema.TopicPauseVision, Payload: schema.PauseVision{Timestamp: now.Unix(), Paused: false}},
	}
	effects = append(effects, m.setPhase(now, PhaseIdle))
	return effects
}

// CheckTimeouts runs the phase-appropriate watchdog check (spec.md
// §4.10) and returns any resulting effects. Call once per main-loop
// iteration after processing at most one inbound event.
func (m *Machine) CheckTimeouts(now time.Time) []Effect {
	switch m.Phase {
	case PhaseListening:
		return m.HandleSTTTimeout(now)
	case PhaseThinking:
		return m.HandleLLMTimeout(now)
	case PhaseSpeaking:
		return m.HandleTTSTimeout(now)
	default:
		return nil
	}
}

// EnterError transitions to ERROR from any phase. The transition
// table in spec.md §4.6 routes every recoverable failure straight
// back to IDLE; ERROR is reserved for conditions the table doesn't
// model as recoverable (e.g. the downstream IPC client itself
// failing to publish). world state is cleared on entry per spec.md
// §4.4's "cleared when the orchestrator enters ERROR" — the caller is
// responsible for calling worldstate.Store.Reset, since this package
// has no worldstate dependency.
func (m *Machine) EnterError(now time.Time, reason string) []Effect {
	effects := []Effect{
		{Topic: schema.TopicCancelAll, Payload: schema.CancelAll{Timestamp: now.Unix(), Reason: reason}},
	}
	effects = append(effects, m.setPhase(now, PhaseError))
	return effects
}

// RecoverFromError transitions ERROR back to IDLE once whatever
// triggered EnterError has cleared.
func (m *Machine) RecoverFromError(now time.Time) []Effect {
	if m.Phase != PhaseError {
		return nil
	}
	return []Effect{m.setPhase(now, PhaseIdle)}
}

// RequestID returns the request_id of the in-flight llm.request, if any.
func (m *Machine) RequestID() string { return m.requestID }

// SessionID returns the session_id of the in-flight cmd.listen.start, if any.
func (m *Machine) SessionID() string { return m.sessionID }
