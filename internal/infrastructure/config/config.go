package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the MQTT bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT         MQTTConfig     `yaml:"mqtt"`
	Serializer   string         `yaml:"serializer"`
	Deserializer string         `yaml:"deserializer"`
	Bridges      []BridgeConfig `yaml:"bridge"`
	LocalBus     LocalBusConfig `yaml:"local_bus"`
	Health       HealthConfig   `yaml:"health"`
	Database     DatabaseConfig `yaml:"database"`
	InfluxDB     InfluxDBConfig `yaml:"influxdb"`
	API          APIConfig      `yaml:"api"`
	Logging      LoggingConfig  `yaml:"logging"`
}

// MQTTConfig contains everything needed to establish the broker session.
// It is treated as immutable once a connection is established.
type MQTTConfig struct {
	Connection  MQTTConnectionConfig `yaml:"connection"`
	Client      MQTTClientConfig     `yaml:"client"`
	TLS         MQTTTLSConfig        `yaml:"tls"`
	Account     MQTTAccountConfig    `yaml:"account"`
	Userdata    map[string]string    `yaml:"userdata"`
	Message     MQTTMessageConfig    `yaml:"message"`
	Will        MQTTWillConfig       `yaml:"will"`
	Reconnect   MQTTReconnectConfig  `yaml:"reconnect"`
	PrivatePath string               `yaml:"private_path"`
}

// MQTTConnectionConfig contains broker address details.
type MQTTConnectionConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	KeepAlive int    `yaml:"keepalive"`
}

// MQTTClientConfig contains client session settings.
type MQTTClientConfig struct {
	// ClientID identifies the session on the broker.
	// If empty a random "mqtt-bridge-<uuid>" is generated at connect time.
	ClientID     string `yaml:"client_id"`
	CleanSession bool   `yaml:"clean_session"`
}

// MQTTTLSConfig contains TLS settings for the broker connection.
type MQTTTLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CACerts  string `yaml:"ca_certs"`
	CertFile string `yaml:"certfile"`
	KeyFile  string `yaml:"keyfile"`

	// Insecure disables server certificate verification. Development only.
	Insecure bool `yaml:"insecure"`
}

// MQTTAccountConfig contains MQTT authentication credentials.
type MQTTAccountConfig struct {
	Username string `yaml:"username"`

	// Password for MQTT authentication (optional).
	// WARNING: Never log this value. Use MQTTConfig.String() for safe logging.
	Password string `yaml:"password"`
}

// MQTTMessageConfig holds publish defaults applied when a bridge does not override them.
type MQTTMessageConfig struct {
	QoS    int  `yaml:"qos"`
	Retain bool `yaml:"retain"`
}

// MQTTWillConfig describes the Last Will and Testament registered on connect.
// An empty Topic disables the will.
type MQTTWillConfig struct {
	Topic   string `yaml:"topic"`
	Payload string `yaml:"payload"`
	QoS     int    `yaml:"qos"`
	Retain  bool   `yaml:"retain"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// String returns a representation safe for logging (password masked).
func (m MQTTConfig) String() string {
	password := ""
	if m.Account.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("MQTTConfig{Host:%q, Port:%d, ClientID:%q, TLS:%t, Username:%q, Password:%s, PrivatePath:%q}",
		m.Connection.Host, m.Connection.Port, m.Client.ClientID, m.TLS.Enabled,
		m.Account.Username, password, m.PrivatePath)
}

// MarshalJSON implements json.Marshaler to redact the password.
func (m MQTTConfig) MarshalJSON() ([]byte, error) {
	type redacted MQTTConfig
	safe := redacted(m)
	if safe.Account.Password != "" {
		safe.Account.Password = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// BrokerURL returns the paho broker URL for this configuration.
func (m MQTTConfig) BrokerURL() string {
	scheme := "tcp"
	if m.TLS.Enabled {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, m.Connection.Host, m.Connection.Port)
}

// BridgeConfig is one bridge descriptor as written in the configuration file.
//
// Both the mapping form and the positional form are accepted:
//
//	bridge:
//	  - factory: ros_to_mqtt
//	    msg_type: std_msgs/String
//	    topic_from: /robot/status
//	    topic_to: ~/status
//	  - [mqtt_to_ros, std_msgs/Bool, ~/enable, /robot/enable]
type BridgeConfig struct {
	Factory   string `yaml:"factory"`
	MsgType   string `yaml:"msg_type"`
	TopicFrom string `yaml:"topic_from"`
	TopicTo   string `yaml:"topic_to"`

	// Frequency limits outbound publishes to at most this many per second. 0 disables.
	Frequency float64 `yaml:"frequency,omitempty"`

	// QoS and Retain override the mqtt.message defaults for this bridge.
	QoS    *int  `yaml:"qos,omitempty"`
	Retain *bool `yaml:"retain,omitempty"`
}

// positionalBridgeFields is the field order of the positional descriptor form.
const positionalBridgeFields = 4

// UnmarshalYAML implements yaml.Unmarshaler for the mapping and positional forms.
func (b *BridgeConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var fields []string
		if err := node.Decode(&fields); err != nil {
			return fmt.Errorf("line %d: bridge list form: %w", node.Line, err)
		}
		if len(fields) != positionalBridgeFields {
			return fmt.Errorf("line %d: bridge list form needs [factory, msg_type, topic_from, topic_to], got %d fields",
				node.Line, len(fields))
		}
		*b = BridgeConfig{Factory: fields[0], MsgType: fields[1], TopicFrom: fields[2], TopicTo: fields[3]}
		return nil
	}

	type plain BridgeConfig
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*b = BridgeConfig(p)
	return nil
}

// LocalBusConfig contains in-process bus settings.
type LocalBusConfig struct {
	// QueueSize is the per-subscription delivery queue length.
	QueueSize int `yaml:"queue_size"`
}

// HealthConfig controls the periodic health document published over MQTT.
type HealthConfig struct {
	// Topic is the MQTT topic for health documents; "~/" topics use the private path.
	// Empty disables MQTT health publishing.
	Topic string `yaml:"topic"`

	// Interval is the reporting period in seconds.
	Interval int `yaml:"interval"`
}

// DatabaseConfig contains SQLite status journal settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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

// APIConfig contains the status HTTP server settings.
type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Host      string             `yaml:"host"`
	Port      int                `yaml:"port"`
	Timeouts  APITimeoutConfig   `yaml:"timeouts"`
	WebSocket APIWebSocketConfig `yaml:"websocket"`
}

// APIWebSocketConfig contains settings for the /api/v1/ws status stream.
type APIWebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"` // seconds
	PongTimeout    int `yaml:"pong_timeout"`  // seconds
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MQTTBRIDGE_SECTION_KEY
// For example: MQTTBRIDGE_MQTT_HOST, MQTTBRIDGE_MQTT_PRIVATE_PATH
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
// Serializer defaults mirror the msgpack dumps/loads pair bridges have always used.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Connection: MQTTConnectionConfig{
				Host:      "localhost",
				Port:      1883,
				KeepAlive: 60,
			},
			Client: MQTTClientConfig{
				CleanSession: true,
			},
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Serializer:   "msgpack:dumps",
		Deserializer: "msgpack:loads",
		LocalBus: LocalBusConfig{
			QueueSize: 64,
		},
		Health: HealthConfig{
			Interval: 30,
		},
		Database: DatabaseConfig{
			Path:        "./data/mqttbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
			WebSocket: APIWebSocketConfig{
				MaxMessageSize: 4096,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MQTTBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Connection.Host = v
	}
	if v := os.Getenv("MQTTBRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Connection.Port = port
		}
	}
	if v := os.Getenv("MQTTBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Account.Username = v
	}
	if v := os.Getenv("MQTTBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Account.Password = v
	}
	if v := os.Getenv("MQTTBRIDGE_MQTT_PRIVATE_PATH"); v != "" {
		cfg.MQTT.PrivatePath = v
	}
	if v := os.Getenv("MQTTBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Only process-level problems are rejected here. Per-bridge problems
// (unknown factory, unknown message type) are reported by the bridge
// engine so one bad descriptor cannot stop the others from starting.
func (c *Config) Validate() error {
	var errs []string

	if c.MQTT.Connection.Host == "" {
		errs = append(errs, "mqtt.connection.host is required")
	}
	if c.MQTT.Connection.Port < 1 || c.MQTT.Connection.Port > 65535 {
		errs = append(errs, "mqtt.connection.port must be between 1 and 65535")
	}
	if c.MQTT.Connection.KeepAlive < 0 {
		errs = append(errs, "mqtt.connection.keepalive must not be negative")
	}
	if c.MQTT.Message.QoS < 0 || c.MQTT.Message.QoS > 2 {
		errs = append(errs, "mqtt.message.qos must be 0, 1, or 2")
	}
	if c.MQTT.Will.Topic != "" && (c.MQTT.Will.QoS < 0 || c.MQTT.Will.QoS > 2) {
		errs = append(errs, "mqtt.will.qos must be 0, 1, or 2")
	}
	if c.MQTT.TLS.CertFile != "" && c.MQTT.TLS.KeyFile == "" {
		errs = append(errs, "mqtt.tls.keyfile is required when certfile is set")
	}
	if c.Serializer == "" || c.Deserializer == "" {
		errs = append(errs, "serializer and deserializer are required")
	}
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetHealthInterval returns the health reporting interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Health.Interval) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (t APITimeoutConfig) GetReadTimeout() time.Duration {
	return time.Duration(t.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (t APITimeoutConfig) GetWriteTimeout() time.Duration {
	return time.Duration(t.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (t APITimeoutConfig) GetIdleTimeout() time.Duration {
	return time.Duration(t.Idle) * time.Second
}
