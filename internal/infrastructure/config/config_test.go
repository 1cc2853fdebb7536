package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
mqtt:
  enabled: true
  broker:
    host: "broker.lan"
    port: 1883
  qos: 1
api:
  port: 9090
avr:
  mode: "telnet"
  min_command_interval: "300ms"
  poll_interval: "15s"
  power_policy: "clear"
devices:
  - id: "living_room"
    name: "Living Room"
    host: "192.168.1.40"
    manufacturer: "denon"
    zones: 2
    sound_mode: true
  - id: "study"
    host: "192.168.1.41"
    manufacturer: "marantz"
    mode: "http"
    volume_step: 1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Broker.Host != "broker.lan" {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if cfg.AVR.Mode != "telnet" || cfg.AVR.PowerPolicy != "clear" {
		t.Errorf("AVR mode/policy = %q/%q", cfg.AVR.Mode, cfg.AVR.PowerPolicy)
	}
	if cfg.AVR.MinCommandInterval != 300*time.Millisecond {
		t.Errorf("AVR.MinCommandInterval = %v, want 300ms", cfg.AVR.MinCommandInterval)
	}
	if cfg.AVR.PollInterval != 15*time.Second {
		t.Errorf("AVR.PollInterval = %v, want 15s", cfg.AVR.PollInterval)
	}
	// Unset keys keep their defaults.
	if cfg.AVR.MaxRetries != 20 || cfg.AVR.VolumeStep != 0.5 {
		t.Errorf("AVR defaults lost: retries %d, step %v", cfg.AVR.MaxRetries, cfg.AVR.VolumeStep)
	}

	if len(cfg.Devices) != 2 {
		t.Fatalf("len(Devices) = %d, want 2", len(cfg.Devices))
	}
	lr := cfg.Devices[0]
	if lr.ID != "living_room" || lr.Zones != 2 || !lr.SoundMode {
		t.Errorf("Devices[0] = %+v", lr)
	}
	if cfg.Devices[1].Mode != "http" || cfg.Devices[1].VolumeStep != 1 {
		t.Errorf("Devices[1] = %+v", cfg.Devices[1])
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
site:
  id: ""
`)
	if _, err := Load(path); err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Devices = []DeviceConfig{{ID: "a", Host: "10.0.0.2", Manufacturer: "denon"}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid config", func(*Config) {}, ""},
		{"missing site ID", func(c *Config) { c.Site.ID = "" }, "site.id"},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"invalid port low", func(c *Config) { c.API.Port = 0 }, "api.port"},
		{"invalid port high", func(c *Config) { c.API.Port = 70000 }, "api.port"},
		{"zero ping interval", func(c *Config) { c.WebSocket.PingInterval = 0 }, "websocket.ping_interval"},
		{"influx without url", func(c *Config) { c.InfluxDB.Enabled = true }, "influxdb.url"},
		{"unknown mode", func(c *Config) { c.AVR.Mode = "serial" }, "avr.mode"},
		{"unknown power policy", func(c *Config) { c.AVR.PowerPolicy = "guess" }, "avr.power_policy"},
		{"zero retries", func(c *Config) { c.AVR.MaxRetries = 0 }, "avr.max_retries"},
		{"backoff inverted", func(c *Config) { c.AVR.BackoffMax = time.Millisecond }, "avr.backoff_max"},
		{"volume step off grid", func(c *Config) { c.AVR.VolumeStep = 0.3 }, "avr.volume_step"},
		{"device without id", func(c *Config) { c.Devices[0].ID = "" }, "devices[0].id"},
		{"device without host", func(c *Config) { c.Devices[0].Host = "" }, "devices[a].host"},
		{"device manufacturer", func(c *Config) { c.Devices[0].Manufacturer = "onkyo" }, "devices[a].manufacturer"},
		{"device mode", func(c *Config) { c.Devices[0].Mode = "serial" }, "devices[a].mode"},
		{"device zones", func(c *Config) { c.Devices[0].Zones = 5 }, "devices[a].zones"},
		{"device volume step", func(c *Config) { c.Devices[0].VolumeStep = 0.7 }, "devices[a].volume_step"},
		{
			"duplicate device",
			func(c *Config) { c.Devices = append(c.Devices, c.Devices[0]) },
			"duplicate id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Site.ID = ""
	cfg.API.Port = 0
	cfg.AVR.PowerPolicy = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	for _, want := range []string{"site.id", "api.port", "avr.power_policy"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{Read: 30, Write: 45, Idle: 60},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("AVRLINK_DATABASE_PATH", "/custom/path.db")
	t.Setenv("AVRLINK_MQTT_ENABLED", "true")
	t.Setenv("AVRLINK_MQTT_HOST", "mqtt.example.com")
	t.Setenv("AVRLINK_MQTT_USERNAME", "testuser")
	t.Setenv("AVRLINK_MQTT_PASSWORD", "testpass")
	t.Setenv("AVRLINK_API_HOST", "192.168.1.1")
	t.Setenv("AVRLINK_API_PORT", "9191")
	t.Setenv("AVRLINK_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("AVRLINK_LOG_LEVEL", "debug")
	t.Setenv("AVRLINK_AVR_POWER_POLICY", "clear")

	applyEnvOverrides(cfg)

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Enabled", cfg.MQTT.Enabled, true},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"API.Port", cfg.API.Port, 9191},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
		{"AVR.PowerPolicy", cfg.AVR.PowerPolicy, "clear"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestApplyEnvOverrides_IgnoresMalformed(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("AVRLINK_API_PORT", "not-a-port")
	t.Setenv("AVRLINK_MQTT_ENABLED", "maybe")

	applyEnvOverrides(cfg)

	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want default 8080", cfg.API.Port)
	}
	if cfg.MQTT.Enabled {
		t.Error("MQTT.Enabled = true from malformed value")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig() does not validate: %v", err)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.AVR.MinCommandInterval != 250*time.Millisecond {
		t.Errorf("AVR.MinCommandInterval = %v, want 250ms", cfg.AVR.MinCommandInterval)
	}
	if cfg.AVR.BackoffMin != 500*time.Millisecond || cfg.AVR.BackoffMax != 30*time.Second {
		t.Errorf("AVR backoff = %v..%v", cfg.AVR.BackoffMin, cfg.AVR.BackoffMax)
	}
}
