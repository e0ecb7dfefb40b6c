package mqttbridge

import (
	"testing"
	"time"

	"github.com/roverfleet/roverd/internal/config"
	"github.com/roverfleet/roverd/internal/telemetry"
	"github.com/roverfleet/roverd/internal/worldstate"
)

func testBridge() *Bridge {
	cfg := config.MQTTBridgeConfig{
		DeviceName:         "rover1",
		DiscoveryPrefix:    "homeassistant",
		PublishIntervalSec: 30,
	}
	world := worldstate.New()
	tel := telemetry.New(world, 5)
	return New(cfg, "abc123", tel, nil)
}

func TestTopicHelpers(t *testing.T) {
	b := testBridge()
	if got, want := b.baseTopic(), "roverd/rover1"; got != want {
		t.Errorf("baseTopic() = %q, want %q", got, want)
	}
	if got, want := b.availabilityTopic(), "roverd/rover1/availability"; got != want {
		t.Errorf("availabilityTopic() = %q, want %q", got, want)
	}
	if got, want := b.stateTopic("phase"), "roverd/rover1/phase/state"; got != want {
		t.Errorf("stateTopic() = %q, want %q", got, want)
	}
	if got, want := b.discoveryTopic("sensor", "phase"), "homeassistant/sensor/rover1/phase/config"; got != want {
		t.Errorf("discoveryTopic() = %q, want %q", got, want)
	}
}

func TestSensorDefinitions_UniqueIDsAreStable(t *testing.T) {
	b := testBridge()
	defs := b.sensorDefinitions()
	if len(defs) == 0 {
		t.Fatal("expected at least one sensor definition")
	}
	seen := map[string]bool{}
	for _, d := range defs {
		if seen[d.config.UniqueID] {
			t.Errorf("duplicate unique_id %q", d.config.UniqueID)
		}
		seen[d.config.UniqueID] = true
		if d.config.StateTopic == "" || d.config.AvailabilityTopic == "" {
			t.Errorf("sensor %q missing state/availability topic", d.entitySuffix)
		}
	}
}

func TestDeviceInfo_IncludesInstanceIdentifier(t *testing.T) {
	dev := NewDeviceInfo("abc123", "rover1")
	if len(dev.Identifiers) != 1 || dev.Identifiers[0] != "abc123" {
		t.Errorf("Identifiers = %v, want [abc123]", dev.Identifiers)
	}
	if dev.Name != "rover1" {
		t.Errorf("Name = %q, want rover1", dev.Name)
	}
}

func TestPublishStates_NoopWithoutConnection(t *testing.T) {
	b := testBridge()
	// cm is nil until Run connects; publishStates must not panic.
	b.publishStates(nil) //nolint:staticcheck // exercising the nil-cm guard, ctx unused on that path
	_ = time.Now()
}
