// Package mqttbridge republishes telemetry to an optional MQTT broker
// in Home-Assistant discovery style, adapted from the teacher's
// internal/mqtt publisher.
package mqttbridge

import "github.com/roverfleet/roverd/internal/buildinfo"

// DeviceInfo holds the Home Assistant device registry fields shared
// across every sensor entity this bridge publishes.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version"`
}

// SensorConfig is the JSON payload for an HA MQTT sensor discovery
// message, published retained on every broker (re-)connect.
type SensorConfig struct {
	Name              string     `json:"name"`
	ObjectID          string     `json:"object_id,omitempty"`
	HasEntityName     bool       `json:"has_entity_name,omitempty"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic"`
	AvailabilityTopic string     `json:"availability_topic"`
	Device            DeviceInfo `json:"device"`
	Icon              string     `json:"icon,omitempty"`
	UnitOfMeasurement string     `json:"unit_of_measurement,omitempty"`
	StateClass        string     `json:"state_class,omitempty"`
	EntityCategory    string     `json:"entity_category,omitempty"`
	DeviceClass       string     `json:"device_class,omitempty"`
}

// NewDeviceInfo builds the shared HA device block for this rover instance.
func NewDeviceInfo(instanceID, deviceName string) DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{instanceID},
		Name:         deviceName,
		Manufacturer: "roverfleet",
		Model:        "roverd",
		SWVersion:    buildinfo.Version,
	}
}
