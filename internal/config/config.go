// Package config loads and resolves roverd's configuration: a base
// document merged with an optional local-override document, with
// ${PROJECT_ROOT} and ${ENV:NAME} token expansion and fail-fast
// validation of required fields (spec.md §4.3).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order used when no
// explicit path is given: ./config.yaml, ~/.config/roverd/config.yaml,
// /etc/roverd/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "roverd", "config.yaml"))
	}
	paths = append(paths, "/etc/roverd/config.yaml")
	return paths
}

// searchPathsFunc is overridden in tests to avoid finding real config
// files on the developer's machine.
var searchPathsFunc = DefaultSearchPaths

// FindConfig locates the base config file. If explicit is non-empty it
// must exist. Otherwise DefaultSearchPaths is searched in order.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	for _, p := range searchPathsFunc() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file found (searched: %v)", searchPathsFunc())
}

// Config holds everything the coordination core consumes. Collaborator
// (STT/LLM/TTS/vision-inference) configuration is out of scope — those
// processes own their own config.
type Config struct {
	IPC          IPCConfig          `yaml:"ipc"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Motor        MotorConfig        `yaml:"motor"`
	HTTP         HTTPConfig         `yaml:"http"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	MQTT         MQTTBridgeConfig   `yaml:"mqtt"`
	Health       HealthConfig       `yaml:"health"`
	LogLevel     string             `yaml:"log_level"`
}

// IPCConfig configures the pub/sub fabric (spec.md §4.1).
type IPCConfig struct {
	Upstream   string `yaml:"upstream"`
	Downstream string `yaml:"downstream"`
	HWM        int    `yaml:"hwm"`
}

// OrchestratorConfig configures the FSM's per-phase timeouts and the
// optional auto-trigger loop (spec.md §4.3, §4.6, §4.10).
type OrchestratorConfig struct {
	STTTimeoutS           int  `yaml:"stt_timeout_s"`
	LLMTimeoutS           int  `yaml:"llm_timeout_s"`
	TTSTimeoutS           int  `yaml:"tts_timeout_s"` // required; no silent default
	RemoteSessionTimeoutS int  `yaml:"remote_session_timeout_s"`
	AutoTriggerEnabled    bool `yaml:"auto_trigger_enabled"`
	AutoTriggerIntervalS  int  `yaml:"auto_trigger_interval_s"`
	PollIntervalMS        int  `yaml:"poll_interval_ms"`
}

// MotorConfig configures the UART connection and Pi-side safety
// thresholds for the motor safety gateway (spec.md §4.7).
type MotorConfig struct {
	Port              string `yaml:"port"`
	Baud              int    `yaml:"baud"`
	StopDistanceCM    int    `yaml:"stop_distance_cm"`
	WarningDistanceCM int    `yaml:"warning_distance_cm"`
}

// HTTPConfig configures the remote HTTP adapter (spec.md §4.8).
type HTTPConfig struct {
	Bind          string   `yaml:"bind"`
	Port          int      `yaml:"port"`
	AllowCIDRs    []string `yaml:"allow_cidrs"`
	DashboardPort int      `yaml:"dashboard_port"`
	LogDir        string   `yaml:"log_dir"`
}

// TelemetryConfig configures ring-buffer sizes for sensor/detection
// history (spec.md §3).
type TelemetryConfig struct {
	HistoryLen int `yaml:"history_len"`
}

// HealthConfig points at each collaborator's HTTP health endpoint.
// A blank URL disables probing that collaborator; its liveness is
// instead only as good as whatever health.<service> events it or the
// worker owning its IPC traffic (e.g. the motor gateway) publish
// directly.
type HealthConfig struct {
	STTURL    string `yaml:"stt_url"`
	LLMURL    string `yaml:"llm_url"`
	TTSURL    string `yaml:"tts_url"`
	VisionURL string `yaml:"vision_url"`
}

// MQTTBridgeConfig configures the optional Home-Assistant-style
// telemetry bridge (domain-stack addition, see SPEC_FULL.md).
type MQTTBridgeConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Broker             string `yaml:"broker"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`
	DiscoveryPrefix    string `yaml:"discovery_prefix"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Load reads basePath, merges overridePath on top if non-empty, expands
// ${PROJECT_ROOT} and ${ENV:NAME} tokens, applies defaults, and
// validates the result. projectRoot is substituted for ${PROJECT_ROOT}.
func Load(basePath, overridePath, projectRoot string) (*Config, error) {
	cfg, err := loadDocument(basePath, projectRoot)
	if err != nil {
		return nil, err
	}

	if overridePath != "" {
		override, err := loadDocument(overridePath, projectRoot)
		if err != nil {
			return nil, err
		}
		cfg = merge(cfg, override)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func loadDocument(path, projectRoot string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	expanded, err := ExpandTokens(string(data), projectRoot)
	if err != nil {
		return nil, fmt.Errorf("expand tokens in %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// merge overlays non-zero fields of override onto base, section by
// section. A zero-valued section in override leaves the base section
// untouched; overrides are expected to be partial documents.
func merge(base, override *Config) *Config {
	out := *base

	if override.IPC.Upstream != "" {
		out.IPC.Upstream = override.IPC.Upstream
	}
	if override.IPC.Downstream != "" {
		out.IPC.Downstream = override.IPC.Downstream
	}
	if override.IPC.HWM != 0 {
		out.IPC.HWM = override.IPC.HWM
	}

	if override.Orchestrator.STTTimeoutS != 0 {
		out.Orchestrator.STTTimeoutS = override.Orchestrator.STTTimeoutS
	}
	if override.Orchestrator.LLMTimeoutS != 0 {
		out.Orchestrator.LLMTimeoutS = override.Orchestrator.LLMTimeoutS
	}
	if override.Orchestrator.TTSTimeoutS != 0 {
		out.Orchestrator.TTSTimeoutS = override.Orchestrator.TTSTimeoutS
	}
	if override.Orchestrator.RemoteSessionTimeoutS != 0 {
		out.Orchestrator.RemoteSessionTimeoutS = override.Orchestrator.RemoteSessionTimeoutS
	}
	if override.Orchestrator.AutoTriggerEnabled {
		out.Orchestrator.AutoTriggerEnabled = true
	}
	if override.Orchestrator.AutoTriggerIntervalS != 0 {
		out.Orchestrator.AutoTriggerIntervalS = override.Orchestrator.AutoTriggerIntervalS
	}
	if override.Orchestrator.PollIntervalMS != 0 {
		out.Orchestrator.PollIntervalMS = override.Orchestrator.PollIntervalMS
	}

	if override.Motor.Port != "" {
		out.Motor.Port = override.Motor.Port
	}
	if override.Motor.Baud != 0 {
		out.Motor.Baud = override.Motor.Baud
	}
	if override.Motor.StopDistanceCM != 0 {
		out.Motor.StopDistanceCM = override.Motor.StopDistanceCM
	}
	if override.Motor.WarningDistanceCM != 0 {
		out.Motor.WarningDistanceCM = override.Motor.WarningDistanceCM
	}

	if override.HTTP.Bind != "" {
		out.HTTP.Bind = override.HTTP.Bind
	}
	if override.HTTP.Port != 0 {
		out.HTTP.Port = override.HTTP.Port
	}
	if len(override.HTTP.AllowCIDRs) > 0 {
		out.HTTP.AllowCIDRs = override.HTTP.AllowCIDRs
	}
	if override.HTTP.DashboardPort != 0 {
		out.HTTP.DashboardPort = override.HTTP.DashboardPort
	}
	if override.HTTP.LogDir != "" {
		out.HTTP.LogDir = override.HTTP.LogDir
	}

	if override.Telemetry.HistoryLen != 0 {
		out.Telemetry.HistoryLen = override.Telemetry.HistoryLen
	}

	if override.MQTT.Enabled {
		out.MQTT = override.MQTT
	}

	if override.Health.STTURL != "" {
		out.Health.STTURL = override.Health.STTURL
	}
	if override.Health.LLMURL != "" {
		out.Health.LLMURL = override.Health.LLMURL
	}
	if override.Health.TTSURL != "" {
		out.Health.TTSURL = override.Health.TTSURL
	}
	if override.Health.VisionURL != "" {
		out.Health.VisionURL = override.Health.VisionURL
	}

	if override.LogLevel != "" {
		out.LogLevel = override.LogLevel
	}

	return &out
}

// applyDefaults fills in zero-value fields with sensible defaults.
// orchestrator.tts_timeout_s is deliberately left unset here: spec.md
// requires it with no silent default, so Validate rejects a zero value.
func (c *Config) applyDefaults() {
	if c.IPC.HWM == 0 {
		c.IPC.HWM = 1000
	}
	if c.Orchestrator.STTTimeoutS == 0 {
		c.Orchestrator.STTTimeoutS = 15
	}
	if c.Orchestrator.LLMTimeoutS == 0 {
		c.Orchestrator.LLMTimeoutS = 45
	}
	if c.Orchestrator.RemoteSessionTimeoutS == 0 {
		c.Orchestrator.RemoteSessionTimeoutS = 30
	}
	if c.Orchestrator.PollIntervalMS == 0 {
		c.Orchestrator.PollIntervalMS = 200
	}
	if c.Motor.Baud == 0 {
		c.Motor.Baud = 115200
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.LogDir == "" {
		c.HTTP.LogDir = "./logs"
	}
	if c.Telemetry.HistoryLen == 0 {
		c.Telemetry.HistoryLen = 10
	}
	if c.MQTT.Enabled {
		if c.MQTT.DeviceName == "" {
			c.MQTT.DeviceName = "roverd"
		}
		if c.MQTT.DiscoveryPrefix == "" {
			c.MQTT.DiscoveryPrefix = "homeassistant"
		}
		if c.MQTT.PublishIntervalSec == 0 {
			c.MQTT.PublishIntervalSec = 30
		}
	}
}

// Validate checks internal consistency after defaults are applied.
// Returns the first problem found, or nil.
func (c *Config) Validate() error {
	if c.IPC.Upstream == "" {
		return fmt.Errorf("ipc.upstream must be set")
	}
	if c.IPC.Downstream == "" {
		return fmt.Errorf("ipc.downstream must be set")
	}
	if c.Orchestrator.TTSTimeoutS <= 0 {
		return fmt.Errorf("orchestrator.tts_timeout_s is required and must be > 0")
	}
	if c.Orchestrator.AutoTriggerEnabled && c.Orchestrator.AutoTriggerIntervalS <= 0 {
		return fmt.Errorf("orchestrator.auto_trigger_interval_s must be > 0 when auto_trigger_enabled is true")
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range (1-65535)", c.HTTP.Port)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker must be set when mqtt.enabled is true")
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for local
// development against loopback IPC endpoints. All defaults applied.
func Default() *Config {
	cfg := &Config{
		IPC: IPCConfig{
			Upstream:   "127.0.0.1:5560",
			Downstream: "127.0.0.1:5561",
		},
		Orchestrator: OrchestratorConfig{
			TTSTimeoutS: 20,
		},
	}
	cfg.applyDefaults()
	return cfg
}
