// Package worldstate aggregates the most recent sensor, vision, and
// phase observations into a single lock-protected snapshot consumed
// by the orchestrator when building an llm.request's world context
// (spec.md §3) and by the HTTP adapter's telemetry endpoint (§6).
package worldstate

import (
	"sync"
	"time"

	"github.com/roverfleet/roverd/internal/schema"
)

// Snapshot is a point-in-time, copy-on-read view of the world. Callers
// never hold a reference into Store's internals.
type Snapshot struct {
	S1, S2, S3    int
	MQ2           int
	LMotor, RMotor int
	MinDistance   int
	Obstacle      bool
	Warning       bool
	SensorAt      time.Time

	LastDetectedLabel string
	LastDetectedConf  float64
	LastDetectedBBox  schema.BBox
	DetectionAt       time.Time

	Phase        string
	MotorEnabled bool

	// SafetyStop is true when the most recently handled llm.response
	// had its direction rewritten from forward to stop by the hard
	// obstacle-avoidance invariant (spec.md §8.2). Distinct from
	// MotorEnabled, which tracks the collision latch, not a single
	// rewritten turn.
	SafetyStop bool

	LastLLMResponse   schema.LLMResponse
	LastLLMResponseAt time.Time

	LastTTSText   string
	LastTTSStatus string
	LastTTSAt     time.Time

	RemoteEvent   string
	RemoteEventAt time.Time

	// Health holds the latest health.<service> report per service name
	// (schema.TopicHealthPrefix stripped). Preserved across Reset: a
	// collaborator's liveness does not go stale just because the
	// orchestrator hit an error turn.
	Health map[string]schema.Health
}

// Store is the world-context aggregator. Each field is updated
// independently as the corresponding upstream topic is observed; reads
// always return a full copy so the IPC loop never blocks on an HTTP
// handler or vice versa.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot
}

// New returns an empty Store with motor enabled by default.
func New() *Store {
	return &Store{snap: Snapshot{Phase: "IDLE", MotorEnabled: true, Health: map[string]schema.Health{}}}
}

// ApplySensor records a new esp.sensor reading.
func (s *Store) ApplySensor(m schema.Sensor, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.S1, s.snap.S2, s.snap.S3 = m.S1, m.S2, m.S3
	s.snap.MQ2 = m.MQ2
	s.snap.LMotor, s.snap.RMotor = m.LMotor, m.RMotor
	s.snap.MinDistance = m.MinDistance
	s.snap.Obstacle = m.Obstacle
	s.snap.Warning = m.Warning
	s.snap.SensorAt = at
}

// ApplyDetection records the most recent vision detection.
func (s *Store) ApplyDetection(m schema.VisionDetection, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LastDetectedLabel = m.Label
	s.snap.LastDetectedConf = m.Confidence
	s.snap.LastDetectedBBox = m.BBox
	s.snap.DetectionAt = at
}

// SetPhase records the orchestrator's current FSM phase.
func (s *Store) SetPhase(phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Phase = phase
}

// SetMotorEnabled records whether the motor gateway is currently
// willing to accept nav.cmd (false while latched into a safety stop).
func (s *Store) SetMotorEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.MotorEnabled = enabled
}

// SetSafetyStop records whether the orchestrator's most recent
// llm.response had a forward direction rewritten to stop.
func (s *Store) SetSafetyStop(stopped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.SafetyStop = stopped
}

// SetLastLLMResponse records the most recently accepted llm.response,
// which also seeds the pending tts.speak text/status (spec.md §4.6:
// the response's speak text is what tts.speak carries next).
func (s *Store) SetLastLLMResponse(m schema.LLMResponse, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LastLLMResponse = m
	s.snap.LastLLMResponseAt = at
	s.snap.LastTTSText = m.Speak
	s.snap.LastTTSStatus = "pending"
	s.snap.LastTTSAt = at
}

// SetTTSStatus records the outcome of the in-flight tts.speak
// ("done" or "failed"), leaving LastTTSText untouched.
func (s *Store) SetTTSStatus(status string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LastTTSStatus = status
	s.snap.LastTTSAt = at
}

// SetRemoteEvent records the most recent event observed from the
// remote HTTP control interface (e.g. a remote.intent's Intent value).
func (s *Store) SetRemoteEvent(event string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.RemoteEvent = event
	s.snap.RemoteEventAt = at
}

// SetHealth records the latest health report for a collaborator service.
func (s *Store) SetHealth(service string, h schema.Health) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Health == nil {
		s.snap.Health = map[string]schema.Health{}
	}
	s.snap.Health[service] = h
}

// Reset clears sensor, detection, and turn-scoped state back to zero
// values, called on orchestrator ERROR entry so a stale world view is
// never handed to a fresh llm.request. Phase, MotorEnabled, and Health
// survive: they describe durable facts, not the turn that errored.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{
		Phase:        s.snap.Phase,
		MotorEnabled: s.snap.MotorEnabled,
		Health:       s.snap.Health,
	}
}

// Snapshot returns a copy of the current world state. The Health map
// is cloned so callers never hold a reference into Store's internals.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap
	snap.Health = make(map[string]schema.Health, len(s.snap.Health))
	for k, v := range s.snap.Health {
		snap.Health[k] = v
	}
	return snap
}

// WorldContext converts the current snapshot into the embedded
// world-context shape an llm.request payload carries.
func (s *Store) WorldContext() schema.WorldSnapshot {
	snap := s.Snapshot()
	return schema.WorldSnapshot{
		S1:                snap.S1,
		S2:                snap.S2,
		S3:                snap.S3,
		MQ2:               snap.MQ2,
		MinDistance:       snap.MinDistance,
		Obstacle:          snap.Obstacle,
		Warning:           snap.Warning,
		LastDetectedLabel: snap.LastDetectedLabel,
		LastDetectedConf:  snap.LastDetectedConf,
		LastDetectedBBox:  snap.LastDetectedBBox,
		Phase:             snap.Phase,
		MotorEnabled:      snap.MotorEnabled,
	}
}
