package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("http:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	dir := t.TempDir()
	orig := searchPathsFunc
	searchPathsFunc = func() []string {
		return []string{filepath.Join(dir, "config.yaml")}
	}
	defer func() { searchPathsFunc = orig }()

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func baseYAML(extra string) string {
	return "ipc:\n  upstream: tcp://127.0.0.1:5560\n  downstream: tcp://127.0.0.1:5561\n" +
		"orchestrator:\n  tts_timeout_s: 20\n" + extra
}

func TestLoad_AppliesDefaultsAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte(baseYAML("")), 0600)

	cfg, err := Load(path, "", dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.IPC.HWM != 1000 {
		t.Errorf("ipc.hwm = %d, want default 1000", cfg.IPC.HWM)
	}
	if cfg.Orchestrator.STTTimeoutS != 15 {
		t.Errorf("orchestrator.stt_timeout_s = %d, want default 15", cfg.Orchestrator.STTTimeoutS)
	}
	if cfg.Orchestrator.TTSTimeoutS != 20 {
		t.Errorf("orchestrator.tts_timeout_s = %d, want 20", cfg.Orchestrator.TTSTimeoutS)
	}
}

func TestLoad_MissingRequiredTTSTimeout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("ipc:\n  upstream: tcp://127.0.0.1:5560\n  downstream: tcp://127.0.0.1:5561\n"), 0600)

	_, err := Load(path, "", dir)
	if err == nil {
		t.Fatal("expected error for missing orchestrator.tts_timeout_s")
	}
	if !strings.Contains(err.Error(), "tts_timeout_s") {
		t.Errorf("error should mention tts_timeout_s, got: %v", err)
	}
}

func TestLoad_OverrideMergesPartialDocument(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "config.yaml")
	overridePath := filepath.Join(dir, "local.yaml")
	os.WriteFile(basePath, []byte(baseYAML("http:\n  port: 8080\n")), 0600)
	os.WriteFile(overridePath, []byte("http:\n  port: 9090\n"), 0600)

	cfg, err := Load(basePath, overridePath, dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("http.port = %d, want override 9090 applied over base 8080", cfg.HTTP.Port)
	}
	if cfg.IPC.Upstream != "tcp://127.0.0.1:5560" {
		t.Errorf("ipc.upstream = %q, want base value preserved", cfg.IPC.Upstream)
	}
}

func TestLoad_ExpandsProjectRoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte(baseYAML("motor:\n  port: ${PROJECT_ROOT}/dev/ttyUSB0\n")), 0600)

	cfg, err := Load(path, "", "/opt/roverd")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Motor.Port != "/opt/roverd/dev/ttyUSB0" {
		t.Errorf("motor.port = %q, want expanded project root", cfg.Motor.Port)
	}
}

func TestLoad_ExpandsRequiredEnvVar(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte(baseYAML("mqtt:\n  enabled: true\n  broker: tcp://broker:1883\n  password: ${ENV:ROVERD_TEST_MQTT_PASSWORD}\n")), 0600)
	os.Setenv("ROVERD_TEST_MQTT_PASSWORD", "s3cret")
	defer os.Unsetenv("ROVERD_TEST_MQTT_PASSWORD")

	cfg, err := Load(path, "", dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.MQTT.Password != "s3cret" {
		t.Errorf("mqtt.password = %q, want %q", cfg.MQTT.Password, "s3cret")
	}
}

func TestLoad_FailsFastOnMissingRequiredSecret(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte(baseYAML("mqtt:\n  enabled: true\n  broker: tcp://broker:1883\n  password: ${ENV:ROVERD_DEFINITELY_UNSET_VAR}\n")), 0600)

	_, err := Load(path, "", dir)
	if err == nil {
		t.Fatal("expected error for missing required secret")
	}
	if !strings.Contains(err.Error(), "ROVERD_DEFINITELY_UNSET_VAR") {
		t.Errorf("error should name the missing variable, got: %v", err)
	}
}

func TestExpandTokens_OptionalDefault(t *testing.T) {
	out, err := ExpandTokens("${ENV:ROVERD_UNSET_WITH_DEFAULT:-fallback}", "/root")
	if err != nil {
		t.Fatalf("ExpandTokens error: %v", err)
	}
	if out != "fallback" {
		t.Errorf("got %q, want %q", out, "fallback")
	}
}

func TestValidate_AutoTriggerRequiresInterval(t *testing.T) {
	cfg := Default()
	cfg.Orchestrator.AutoTriggerEnabled = true
	cfg.Orchestrator.AutoTriggerIntervalS = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for auto_trigger_enabled with zero interval")
	}
}

func TestValidate_HTTPPortRange(t *testing.T) {
	cfg := Default()
	cfg.HTTP.Port = 70000

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range http.port")
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() config should validate, got: %v", err)
	}
}
