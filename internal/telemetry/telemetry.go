// Package telemetry holds bounded sensor/detection history and the
// aggregated snapshot the HTTP adapter's /status and /telemetry
// handlers serve without ever touching the IPC loop's lock (spec.md
// §4.8). The Snapshot shape is the one documented in spec.md §6 and
// is shared verbatim by both endpoints.
package telemetry

import (
	"sync"
	"time"

	"github.com/roverfleet/roverd/internal/schema"
	"github.com/roverfleet/roverd/internal/worldstate"
)

// ring is a fixed-capacity, overwrite-oldest circular buffer.
type ring[T any] struct {
	buf   []T
	next  int
	count int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// items returns the buffered values oldest-first.
func (r *ring[T]) items() []T {
	out := make([]T, 0, r.count)
	start := (r.next - r.count + len(r.buf)) % len(r.buf)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Snapshot is the aggregated, copy-on-read telemetry view served by
// the HTTP adapter's /status and /telemetry handlers (spec.md §6):
// {remote_session_active, mode, vision_mode, stream_url?,
// motor_enabled, safety_stop, sensor, sensor_buffer,
// vision_last_detection, detection_history, last_llm_response,
// last_tts_text, last_tts_status, health, remote_event}, each paired
// with a *_ts sibling per P9's monotonic-timestamp requirement.
type Snapshot struct {
	RemoteSessionActive bool  `json:"remote_session_active"`
	RemoteLastSeen      int64 `json:"remote_last_seen"`

	Mode       string            `json:"mode"`
	VisionMode schema.VisionMode `json:"vision_mode"`
	StreamURL  string            `json:"stream_url,omitempty"`

	MotorEnabled bool `json:"motor_enabled"`
	SafetyStop   bool `json:"safety_stop"`

	Sensor       schema.Sensor   `json:"sensor"`
	SensorTS     int64           `json:"sensor_ts"`
	SensorBuffer []schema.Sensor `json:"sensor_buffer"`

	VisionLastDetection   schema.VisionDetection   `json:"vision_last_detection"`
	VisionLastDetectionTS int64                    `json:"vision_last_detection_ts"`
	DetectionHistory      []schema.VisionDetection `json:"detection_history"`

	LastLLMResponse   schema.LLMResponse `json:"last_llm_response"`
	LastLLMResponseTS int64              `json:"last_llm_response_ts"`

	LastTTSText   string `json:"last_tts_text"`
	LastTTSStatus string `json:"last_tts_status"`
	LastTTSTS     int64  `json:"last_tts_ts"`

	Health map[string]schema.Health `json:"health"`

	RemoteEvent   string `json:"remote_event"`
	RemoteEventTS int64  `json:"remote_event_ts"`

	CollectedTS int64 `json:"collected_ts"`
}

// Store aggregates ring-buffered history on top of a worldstate.Store.
type Store struct {
	world *worldstate.Store

	mu     sync.RWMutex
	sensor *ring[schema.Sensor]
	detect *ring[schema.VisionDetection]
}

// New returns a Store with the configured ring-buffer length
// (orchestrator.telemetry.history_len).
func New(world *worldstate.Store, historyLen int) *Store {
	return &Store{
		world:  world,
		sensor: newRing[schema.Sensor](historyLen),
		detect: newRing[schema.VisionDetection](historyLen),
	}
}

// RecordSensor appends a sensor sample to the ring buffer.
func (s *Store) RecordSensor(m schema.Sensor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensor.push(m)
}

// RecordDetection appends a vision detection to the ring buffer.
func (s *Store) RecordDetection(m schema.VisionDetection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detect.push(m)
}

// Aggregate builds a copy-on-read Snapshot. sessionOK/lastSeen and
// visionMode/streamURL are supplied by the caller: the session
// manager and the vision controller are the sole owners of that
// state, telemetry only reports it.
func (s *Store) Aggregate(sessionOK bool, lastSeen time.Time, visionMode schema.VisionMode, streamURL string) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	world := s.world.Snapshot()
	sensorBuf := s.sensor.items()
	detectBuf := s.detect.items()

	return Snapshot{
		RemoteSessionActive: sessionOK,
		RemoteLastSeen:      lastSeen.Unix(),

		Mode:       world.Phase,
		VisionMode: visionMode,
		StreamURL:  streamURL,

		MotorEnabled: world.MotorEnabled,
		SafetyStop:   world.SafetyStop,

		Sensor: schema.Sensor{
			Timestamp:   world.SensorAt.Unix(),
			S1:          world.S1,
			S2:          world.S2,
			S3:          world.S3,
			MQ2:         world.MQ2,
			LMotor:      world.LMotor,
			RMotor:      world.RMotor,
			MinDistance: world.MinDistance,
			Obstacle:    world.Obstacle,
			Warning:     world.Warning,
		},
		SensorTS:     world.SensorAt.Unix(),
		SensorBuffer: sensorBuf,

		VisionLastDetection: schema.VisionDetection{
			Timestamp:  world.DetectionAt.Unix(),
			Label:      world.LastDetectedLabel,
			BBox:       world.LastDetectedBBox,
			Confidence: world.LastDetectedConf,
		},
		VisionLastDetectionTS: world.DetectionAt.Unix(),
		DetectionHistory:      detectBuf,

		LastLLMResponse:   world.LastLLMResponse,
		LastLLMResponseTS: world.LastLLMResponseAt.Unix(),

		LastTTSText:   world.LastTTSText,
		LastTTSStatus: world.LastTTSStatus,
		LastTTSTS:     world.LastTTSAt.Unix(),

		Health: world.Health,

		RemoteEvent:   world.RemoteEvent,
		RemoteEventTS: world.RemoteEventAt.Unix(),

		CollectedTS: time.Now().Unix(),
	}
}

// BlockingReason derives the operator-facing reason the robot is not
// actionable right now (spec.md §7: "offline / no session / busy /
// error"), or "" when it is. Purely a function of the snapshot: never
// stored in worldstate.
func (snap Snapshot) BlockingReason() string {
	switch {
	case !snap.RemoteSessionActive:
		return "no_session"
	case snap.Mode == "ERROR":
		return "error"
	case snap.Mode != "IDLE":
		return "busy"
	default:
		return ""
	}
}
