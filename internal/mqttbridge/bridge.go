package mqttbridge

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/roverfleet/roverd/internal/config"
	"github.com/roverfleet/roverd/internal/telemetry"
)

// Bridge connects to an MQTT broker and periodically republishes the
// rover's telemetry snapshot as Home-Assistant-discoverable sensor
// entities, following the teacher's internal/mqtt.Publisher shape
// (discovery on connect, availability LWT, periodic state loop) but
// sourcing state from telemetry.Store instead of LLM usage stats.
type Bridge struct {
	cfg        config.MQTTBridgeConfig
	instanceID string
	device     DeviceInfo
	tel        *telemetry.Store
	log        *slog.Logger
	cm         *autopaho.ConnectionManager
}

// New creates a Bridge but does not connect. Call Run to start.
func New(cfg config.MQTTBridgeConfig, instanceID string, tel *telemetry.Store, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
		tel:        tel,
		log:        log,
	}
}

// Run connects and blocks until ctx is canceled, publishing discovery
// configs and an availability LWT on every (re-)connect and telemetry
// state on the configured interval.
func (b *Bridge) Run(ctx context.Context) error {
	brokerURL, err := url.Parse(b.cfg.Broker)
	if err != nil {
		return fmt.Errorf("mqttbridge: parse broker url: %w", err)
	}

	availTopic := b.availabilityTopic()
	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: b.cfg.Username,
		ConnectPassword: []byte(b.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.log.Info("mqttbridge connected", "broker", b.cfg.Broker)
			pubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			b.publishDiscovery(pubCtx, cm)
			b.publishAvailability(pubCtx, cm, "online")
		},
		OnConnectError: func(err error) {
			b.log.Warn("mqttbridge connection error", "err", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "roverd-" + b.instanceID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqttbridge: connect: %w", err)
	}
	b.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		b.log.Warn("mqttbridge initial connection timed out, retrying in background", "err", err)
	}

	b.runLoop(ctx)
	return nil
}

// Stop publishes an offline availability message and disconnects.
func (b *Bridge) Stop(ctx context.Context) error {
	if b.cm == nil {
		return nil
	}
	b.publishAvailability(ctx, b.cm, "offline")
	return b.cm.Disconnect(ctx)
}

func (b *Bridge) baseTopic() string {
	return "roverd/" + b.cfg.DeviceName
}

func (b *Bridge) availabilityTopic() string { return b.baseTopic() + "/availability" }
func (b *Bridge) stateTopic(entity string) string {
	return b.baseTopic() + "/" + entity + "/state"
}
func (b *Bridge) discoveryTopic(component, entity string) string {
	return b.cfg.DiscoveryPrefix + "/" + component + "/" + b.cfg.DeviceName + "/" + entity + "/config"
}

type sensorDef struct {
	entitySuffix string
	config       SensorConfig
}

func (b *Bridge) sensorDefinitions() []sensorDef {
	avail := b.availabilityTopic()
	base := func(entity, name, icon string) SensorConfig {
		return SensorConfig{
			Name:              name,
			ObjectID:          entity,
			HasEntityName:     true,
			UniqueID:          b.instanceID + "_" + entity,
			StateTopic:        b.stateTopic(entity),
			AvailabilityTopic: avail,
			Device:            b.device,
			Icon:              icon,
		}
	}
	return []sensorDef{
		{"phase", func() SensorConfig { c := base("phase", "Phase", "mdi:state-machine"); c.EntityCategory = "diagnostic"; return c }()},
		{"motor_enabled", func() SensorConfig { c := base("motor_enabled", "Motor Enabled", "mdi:engine"); c.EntityCategory = "diagnostic"; return c }()},
		{"min_distance", func() SensorConfig {
			c := base("min_distance", "Min Distance", "mdi:ruler")
			c.StateClass = "measurement"
			c.UnitOfMeasurement = "cm"
			return c
		}()},
		{"obstacle", func() SensorConfig { c := base("obstacle", "Obstacle", "mdi:alert-octagon"); return c }()},
		{"last_detected_label", base("last_detected_label", "Last Detected", "mdi:eye")},
		{"session_ok", func() SensorConfig { c := base("session_ok", "Remote Session", "mdi:cellphone-link"); c.EntityCategory = "diagnostic"; return c }()},
	}
}

func (b *Bridge) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, s := range b.sensorDefinitions() {
		topic := b.discoveryTopic("sensor", s.entitySuffix)
		payload, err := json.Marshal(s.config)
		if err != nil {
			b.log.Error("mqttbridge marshal discovery payload", "entity", s.entitySuffix, "err", err)
			continue
		}
		if _, err := cm.Publish(ctx, &paho.Publish{Topic: topic, Payload: payload, QoS: 1, Retain: true}); err != nil {
			b.log.Warn("mqttbridge discovery publish failed", "entity", s.entitySuffix, "err", err)
		}
	}
}

func (b *Bridge) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{Topic: b.availabilityTopic(), Payload: []byte(status), QoS: 1, Retain: true}); err != nil {
		b.log.Warn("mqttbridge availability publish failed", "status", status, "err", err)
	}
}

func (b *Bridge) runLoop(ctx context.Context) {
	const minInterval = 5 * time.Second
	interval := time.Duration(b.cfg.PublishIntervalSec) * time.Second
	if interval <= 0 {
		interval = minInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	b.publishStates(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.publishStates(ctx)
		}
	}
}

func (b *Bridge) publishStates(ctx context.Context) {
	if b.cm == nil {
		return
	}
	snap := b.tel.Aggregate(false, time.Time{}, "", "")

	states := map[string]string{
		"phase":               snap.Mode,
		"motor_enabled":       strconv.FormatBool(snap.MotorEnabled),
		"min_distance":        strconv.Itoa(snap.Sensor.MinDistance),
		"obstacle":            strconv.FormatBool(snap.Sensor.Obstacle),
		"last_detected_label": snap.VisionLastDetection.Label,
		"session_ok":          strconv.FormatBool(snap.RemoteSessionActive),
	}

	for entity, value := range states {
		if _, err := b.cm.Publish(ctx, &paho.Publish{Topic: b.stateTopic(entity), Payload: []byte(value), QoS: 0, Retain: true}); err != nil {
			b.log.Debug("mqttbridge state publish failed", "entity", entity, "err", err)
		}
	}
}
