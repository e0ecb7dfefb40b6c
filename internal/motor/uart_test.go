package motor

import (
	"testing"
	"time"

	"github.com/roverfleet/roverd/internal/schema"
)

func TestParseLine_DataLine(t *testing.T) {
	line := "DATA:S1:100,S2:50,S3:200,MQ2:10,SERVO:90,LMOTOR:0,RMOTOR:0,OBSTACLE:0,WARNING:1"
	sample, alert, err := ParseLine(line, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("ParseLine error: %v", err)
	}
	if alert != nil {
		t.Fatal("expected sample, not alert")
	}
	if sample.S1 != 100 || sample.S2 != 50 || sample.S3 != 200 {
		t.Errorf("sensor fields = %+v", sample)
	}
	if sample.MinDistance != 50 {
		t.Errorf("MinDistance = %d, want 50 (min of s1,s2,s3)", sample.MinDistance)
	}
	if sample.Obstacle {
		t.Error("Obstacle should be false")
	}
	if !sample.Warning {
		t.Error("Warning should be true")
	}
}

func TestParseLine_AlertLine(t *testing.T) {
	line := "ALERT:COLLISION:front_bumper,S1:5,S2:200,S3:200"
	sample, alert, err := ParseLine(line, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("ParseLine error: %v", err)
	}
	if sample != nil {
		t.Fatal("expected alert, not sample")
	}
	if alert.Kind != schema.AlertCollision {
		t.Errorf("kind = %v, want collision", alert.Kind)
	}
	if alert.Reason != "front_bumper" {
		t.Errorf("reason = %q", alert.Reason)
	}
	if alert.S1 != 5 {
		t.Errorf("S1 = %d, want 5", alert.S1)
	}
}

func TestParseLine_UnknownLineErrors(t *testing.T) {
	_, _, err := ParseLine("GARBAGE", time.Now())
	if err == nil {
		t.Fatal("expected error for unrecognized line")
	}
}

func TestNavCommandLine(t *testing.T) {
	cases := map[schema.Direction]string{
		schema.DirForward:  "FORWARD",
		schema.DirBackward: "BACKWARD",
		schema.DirLeft:     "LEFT",
		schema.DirRight:    "RIGHT",
		schema.DirStop:     "STOP",
		schema.DirScan:     "SCAN",
	}
	for dir, want := range cases {
		got, ok := navCommandLine(dir)
		if !ok || got != want {
			t.Errorf("navCommandLine(%v) = %q, %v; want %q, true", dir, got, ok, want)
		}
	}
	if _, ok := navCommandLine(schema.DirNone); ok {
		t.Error("empty direction should have no UART mapping")
	}
}
