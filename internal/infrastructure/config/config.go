package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for avrlink.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	AVR       AVRConfig       `yaml:"avr"`
	Devices   []DeviceConfig  `yaml:"devices"`
}

// SiteConfig identifies this installation.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings, in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AVRConfig holds engine defaults applied to every device unless the
// device overrides them.
type AVRConfig struct {
	// Mode is the default connection mode: "http", "telnet" or "hybrid".
	Mode string `yaml:"mode"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MinCommandInterval is the per-command coalescing window.
	MinCommandInterval time.Duration `yaml:"min_command_interval"`

	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxRetries is the consecutive connection failure budget.
	MaxRetries int           `yaml:"max_retries"`
	BackoffMin time.Duration `yaml:"backoff_min"`
	BackoffMax time.Duration `yaml:"backoff_max"`

	// PowerPolicy is "hold" (keep last power state while reconnecting) or
	// "clear" (mark it unknown).
	PowerPolicy string `yaml:"power_policy"`

	VolumeStep float64 `yaml:"volume_step"`

	// HealthInterval is how often bridge health is published.
	HealthInterval time.Duration `yaml:"health_interval"`
}

// DeviceConfig seeds one receiver. Zero fields inherit from AVRConfig.
type DeviceConfig struct {
	ID           string  `yaml:"id"`
	Name         string  `yaml:"name"`
	Host         string  `yaml:"host"`
	Manufacturer string  `yaml:"manufacturer"`
	Model        string  `yaml:"model"`
	Mode         string  `yaml:"mode"`
	Zones        int     `yaml:"zones"`
	SoundMode    bool    `yaml:"sound_mode"`
	VolumeStep   float64 `yaml:"volume_step"`
	HTTPPort     int     `yaml:"http_port"`
	TelnetPort   int     `yaml:"telnet_port"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides.
//
// The loading order is:
//  1. Default values
//  2. YAML file values
//  3. Environment variables (AVRLINK_SECTION_KEY)
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "avrlink",
		},
		Database: DatabaseConfig{
			Path:        "./data/avrlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "avrlink",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		AVR: AVRConfig{
			Mode:               "hybrid",
			ConnectTimeout:     5 * time.Second,
			RequestTimeout:     2 * time.Second,
			MinCommandInterval: 250 * time.Millisecond,
			PollInterval:       10 * time.Second,
			MaxRetries:         20,
			BackoffMin:         500 * time.Millisecond,
			BackoffMax:         30 * time.Second,
			PowerPolicy:        "hold",
			VolumeStep:         0.5,
			HealthInterval:     30 * time.Second,
		},
	}
}

// applyEnvOverrides applies AVRLINK_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AVRLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("AVRLINK_MQTT_ENABLED"); v != "" {
		cfg.MQTT.Enabled = parseBool(v, cfg.MQTT.Enabled)
	}
	if v := os.Getenv("AVRLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("AVRLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("AVRLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("AVRLINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("AVRLINK_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("AVRLINK_INFLUXDB_ENABLED"); v != "" {
		cfg.InfluxDB.Enabled = parseBool(v, cfg.InfluxDB.Enabled)
	}
	if v := os.Getenv("AVRLINK_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("AVRLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("AVRLINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("AVRLINK_AVR_POWER_POLICY"); v != "" {
		cfg.AVR.PowerPolicy = v
	}
}

func parseBool(s string, fallback bool) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return fallback
	}
	return b
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.WebSocket.PingInterval < 1 || c.WebSocket.PongTimeout < 1 {
		errs = append(errs, "websocket.ping_interval and websocket.pong_timeout must be positive")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	errs = append(errs, c.AVR.validate()...)

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		prefix := fmt.Sprintf("devices[%d]", i)
		if d.ID != "" {
			prefix = fmt.Sprintf("devices[%s]", d.ID)
		}
		if d.ID == "" {
			errs = append(errs, prefix+".id is required")
		} else if seen[d.ID] {
			errs = append(errs, prefix+": duplicate id")
		}
		seen[d.ID] = true
		if d.Host == "" {
			errs = append(errs, prefix+".host is required")
		}
		switch strings.ToLower(d.Manufacturer) {
		case "denon", "marantz":
		default:
			errs = append(errs, prefix+".manufacturer must be denon or marantz")
		}
		if d.Mode != "" && !validMode(d.Mode) {
			errs = append(errs, prefix+".mode must be http, telnet or hybrid")
		}
		if d.Zones < 0 || d.Zones > 3 {
			errs = append(errs, prefix+".zones must be 0-3")
		}
		if d.VolumeStep != 0 && !validStep(d.VolumeStep) {
			errs = append(errs, prefix+".volume_step must be a positive multiple of 0.5")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (a AVRConfig) validate() []string {
	var errs []string
	if !validMode(a.Mode) {
		errs = append(errs, "avr.mode must be http, telnet or hybrid")
	}
	switch a.PowerPolicy {
	case "hold", "clear":
	default:
		errs = append(errs, "avr.power_policy must be hold or clear")
	}
	if a.MinCommandInterval < 0 {
		errs = append(errs, "avr.min_command_interval must not be negative")
	}
	if a.MaxRetries < 1 {
		errs = append(errs, "avr.max_retries must be at least 1")
	}
	if a.BackoffMax < a.BackoffMin {
		errs = append(errs, "avr.backoff_max must not be less than avr.backoff_min")
	}
	if !validStep(a.VolumeStep) {
		errs = append(errs, "avr.volume_step must be a positive multiple of 0.5")
	}
	return errs
}

func validMode(m string) bool {
	switch m {
	case "http", "telnet", "hybrid":
		return true
	}
	return false
}

func validStep(step float64) bool {
	if step <= 0 {
		return false
	}
	n := step / 0.5
	return math.Abs(n-math.Round(n)) < 1e-9
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
