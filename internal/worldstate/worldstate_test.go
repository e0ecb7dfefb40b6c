package worldstate

import (
	"testing"
	"time"

	"github.com/roverfleet/roverd/internal/schema"
)

func TestApplySensor_UpdatesSnapshot(t *testing.T) {
	s := New()
	now := time.Now()
	s.ApplySensor(schema.Sensor{S1: 10, S2: 20, S3: 30, MinDistance: 10, Obstacle: true}, now)

	snap := s.Snapshot()
	if snap.S1 != 10 || snap.S2 != 20 || snap.S3 != 30 {
		t.Fatalf("sensor fields not applied: %+v", snap)
	}
	if !snap.Obstacle {
		t.Error("obstacle flag not applied")
	}
	if !snap.SensorAt.Equal(now) {
		t.Error("SensorAt not stamped")
	}
}

func TestApplyDetection_UpdatesSnapshot(t *testing.T) {
	s := New()
	s.ApplyDetection(schema.VisionDetection{Label: "person", Confidence: 0.8}, time.Now())

	snap := s.Snapshot()
	if snap.LastDetectedLabel != "person" || snap.LastDetectedConf != 0.8 {
		t.Fatalf("detection fields not applied: %+v", snap)
	}
}

func TestReset_ClearsSensorAndDetectionButKeepsPhase(t *testing.T) {
	s := New()
	s.SetPhase("THINKING")
	s.ApplySensor(schema.Sensor{S1: 5, Obstacle: true}, time.Now())
	s.ApplyDetection(schema.VisionDetection{Label: "cup"}, time.Now())

	s.Reset()

	snap := s.Snapshot()
	if snap.Phase != "THINKING" {
		t.Errorf("phase should survive Reset, got %q", snap.Phase)
	}
	if snap.S1 != 0 || snap.Obstacle {
		t.Errorf("sensor fields should be cleared by Reset: %+v", snap)
	}
	if snap.LastDetectedLabel != "" {
		t.Errorf("detection fields should be cleared by Reset: %+v", snap)
	}
}

func TestWorldContext_ReflectsSnapshot(t *testing.T) {
	s := New()
	s.ApplySensor(schema.Sensor{MinDistance: 42, Warning: true}, time.Now())
	s.SetPhase("LISTENING")

	wc := s.WorldContext()
	if wc.MinDistance != 42 || !wc.Warning || wc.Phase != "LISTENING" {
		t.Errorf("WorldContext mismatch: %+v", wc)
	}
}

func TestNew_DefaultsMotorEnabled(t *testing.T) {
	s := New()
	if !s.Snapshot().MotorEnabled {
		t.Error("New() should default MotorEnabled to true")
	}
}

func TestSetLastLLMResponse_SeedsPendingTTSState(t *testing.T) {
	s := New()
	now := time.Now()
	s.SetLastLLMResponse(schema.LLMResponse{RequestID: "r1", Speak: "hello"}, now)

	snap := s.Snapshot()
	if snap.LastLLMResponse.RequestID != "r1" {
		t.Errorf("LastLLMResponse not applied: %+v", snap.LastLLMResponse)
	}
	if snap.LastTTSText != "hello" || snap.LastTTSStatus != "pending" {
		t.Errorf("tts.speak should be seeded pending: text=%q status=%q", snap.LastTTSText, snap.LastTTSStatus)
	}

	s.SetTTSStatus("done", now)
	if got := s.Snapshot().LastTTSStatus; got != "done" {
		t.Errorf("LastTTSStatus = %q, want done", got)
	}
	if got := s.Snapshot().LastTTSText; got != "hello" {
		t.Errorf("SetTTSStatus should leave LastTTSText untouched, got %q", got)
	}
}

func TestHealth_SurvivesReset(t *testing.T) {
	s := New()
	s.SetHealth("stt", schema.Health{OK: true})
	s.SetPhase("ERROR")

	s.Reset()

	snap := s.Snapshot()
	h, ok := snap.Health["stt"]
	if !ok || !h.OK {
		t.Errorf("Health should survive Reset, got %+v ok=%v", h, ok)
	}
}

func TestSnapshot_HealthMapIsACopy(t *testing.T) {
	s := New()
	s.SetHealth("stt", schema.Health{OK: true})

	snap := s.Snapshot()
	snap.Health["stt"] = schema.Health{OK: false}

	if got := s.Snapshot().Health["stt"]; !got.OK {
		t.Error("mutating a returned Snapshot's Health map should not affect the Store")
	}
}

func TestSetRemoteEvent_RecordsLatest(t *testing.T) {
	s := New()
	now := time.Now()
	s.SetRemoteEvent("stop", now)

	snap := s.Snapshot()
	if snap.RemoteEvent != "stop" || !snap.RemoteEventAt.Equal(now) {
		t.Errorf("RemoteEvent = %+v, want stop at %v", snap, now)
	}
}
