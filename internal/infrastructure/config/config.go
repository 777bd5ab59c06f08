package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the YAML file, one section per subsystem.
type Config struct {
	Core      CoreConfig      `yaml:"core"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	TSDB      TSDBConfig      `yaml:"tsdb"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Flows     FlowsConfig     `yaml:"flows"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// CoreConfig names this instance. The instance ID seeds the MQTT client
// ID and appears in every log record.
type CoreConfig struct {
	InstanceID string `yaml:"instance_id"`
	Name       string `yaml:"name"`
}

// DatabaseConfig holds the SQLite settings for the entry store.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig holds broker connection settings. The section is flat: a
// deployment talks to exactly one broker, and credentials are optional
// because LAN brokers commonly run open.
type MQTTConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos"`

	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTReconnectConfig shapes the backoff after a broker drop. Delays
// are in seconds; MaxAttempts of zero retries forever.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig holds the HTTP server settings. Timeouts are in seconds.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig holds settings for the live reading stream. Intervals
// are in seconds.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig holds settings for the optional InfluxDB v2 history
// writer.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// TSDBConfig holds settings for the optional VictoriaMetrics history
// writer, which also backs the API's history endpoint.
type TSDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// DiscoveryConfig holds mDNS browse settings for finding Envoy gateways
// on the LAN.
type DiscoveryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Service string `yaml:"service"`
	Domain  string `yaml:"domain"`
	// RestartDelay is how many seconds to wait before restarting the
	// browser after a browse failure.
	RestartDelay int `yaml:"restart_delay"`
}

// FlowsConfig holds setup and options flow engine settings.
type FlowsConfig struct {
	// IdleTTL is how many seconds an in-flight flow may sit without
	// input before it is discarded.
	IdleTTL int `yaml:"idle_ttl"`
}

// LoggingConfig holds structured logging settings. Output goes to
// stdout or stderr; a service manager or container runtime owns
// persistence and rotation.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig holds API auth settings. With AuthRequired off the API
// is open, intended for trusted-LAN deployments.
type SecurityConfig struct {
	AuthRequired bool      `yaml:"auth_required"`
	JWT          JWTConfig `yaml:"jwt"`
}

// JWTConfig holds bearer token settings. TokenTTL is in minutes.
type JWTConfig struct {
	Secret   string `yaml:"secret"`
	TokenTTL int    `yaml:"token_ttl"`
}

// Load reads the YAML file at path over built-in defaults, applies
// environment overrides, and validates the result. Precedence is
// defaults, then file, then environment.
func Load(path string) (*Config, error) {
	cfg := defaults()

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

func defaults() *Config {
	return &Config{
		Core: CoreConfig{
			InstanceID: "heliograph-001",
			Name:       "Heliograph",
		},
		Database: DatabaseConfig{
			Path:        "./data/heliograph.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Host:     "localhost",
			Port:     1883,
			ClientID: "heliograph-core",
			QoS:      1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8087,
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
		Discovery: DiscoveryConfig{
			Enabled:      true,
			Service:      "_enphase-envoy._tcp",
			Domain:       "local.",
			RestartDelay: 5,
		},
		Flows: FlowsConfig{
			IdleTTL: 900,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				TokenTTL: 1440,
			},
		},
	}
}

// Only secrets and host bindings are overridable from the environment;
// everything else lives in the file.
var envOverrides = []struct {
	key   string
	apply func(*Config, string)
}{
	{"HELIOGRAPH_DATABASE_PATH", func(c *Config, v string) { c.Database.Path = v }},
	{"HELIOGRAPH_MQTT_HOST", func(c *Config, v string) { c.MQTT.Host = v }},
	{"HELIOGRAPH_MQTT_USERNAME", func(c *Config, v string) { c.MQTT.Username = v }},
	{"HELIOGRAPH_MQTT_PASSWORD", func(c *Config, v string) { c.MQTT.Password = v }},
	{"HELIOGRAPH_API_HOST", func(c *Config, v string) { c.API.Host = v }},
	{"HELIOGRAPH_INFLUXDB_TOKEN", func(c *Config, v string) { c.InfluxDB.Token = v }},
	{"HELIOGRAPH_JWT_SECRET", func(c *Config, v string) { c.Security.JWT.Secret = v }},
}

func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(o.key); v != "" {
			o.apply(cfg, v)
		}
	}
}

// Entries hold Enlighten cloud credentials; a guessable JWT secret
// would let an attacker forge tokens and read them back over the API.
const minSecretLen = 32

// Validate reports every problem at once so a broken deployment can be
// fixed in one edit.
func (c *Config) Validate() error {
	var problems []string

	if c.Core.InstanceID == "" {
		problems = append(problems, "core.instance_id is required")
	}
	if c.Database.Path == "" {
		problems = append(problems, "database.path is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		problems = append(problems, "mqtt.qos must be 0, 1, or 2")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		problems = append(problems, "api.port must be between 1 and 65535")
	}

	if c.Security.AuthRequired {
		switch {
		case c.Security.JWT.Secret == "":
			problems = append(problems, "security.jwt.secret is required when auth_required is set (set HELIOGRAPH_JWT_SECRET)")
		case len(c.Security.JWT.Secret) < minSecretLen:
			problems = append(problems, fmt.Sprintf("security.jwt.secret must be at least %d characters", minSecretLen))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ReadTimeout returns the read timeout as a Duration.
func (a APIConfig) ReadTimeout() time.Duration {
	return time.Duration(a.Timeouts.Read) * time.Second
}

// WriteTimeout returns the write timeout as a Duration.
func (a APIConfig) WriteTimeout() time.Duration {
	return time.Duration(a.Timeouts.Write) * time.Second
}

// IdleTimeout returns the idle timeout as a Duration.
func (a APIConfig) IdleTimeout() time.Duration {
	return time.Duration(a.Timeouts.Idle) * time.Second
}

// FlowIdleTTL returns the flow idle TTL, falling back to 15 minutes
// when unset or invalid.
func (c *Config) FlowIdleTTL() time.Duration {
	if c.Flows.IdleTTL <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.Flows.IdleTTL) * time.Second
}
