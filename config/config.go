package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	mu sync.Mutex `yaml:"-"`

	NodeID       string `yaml:"node_id"`
	DatabasePath string `yaml:"database_path"`
	Debug        bool   `yaml:"debug"`

	// CommandRetention drops resolved command log entries older than this at
	// startup. Zero keeps the whole log.
	CommandRetention time.Duration `yaml:"command_retention"`

	Drone     DroneConfig     `yaml:"drone"`
	Web       WebConfig       `yaml:"web"`
	Messaging MessagingConfig `yaml:"messaging"`
	Redis     RedisConfig     `yaml:"redis"`
}

// DroneConfig defines the UDP link to the drone.
type DroneConfig struct {
	Host         string `yaml:"host"          json:"host"`
	CommandPort  int    `yaml:"command_port"  json:"command_port"`
	LocalPort    int    `yaml:"local_port"    json:"local_port"`
	StatePort    int    `yaml:"state_port"    json:"state_port"`
	StateEnabled bool   `yaml:"state_enabled" json:"state_enabled"`
	InitCommand  string `yaml:"init_command"  json:"init_command"`

	// AckTimeout bounds how long an action command waits for "ok".
	// Zero waits forever.
	AckTimeout time.Duration `yaml:"ack_timeout" json:"ack_timeout"`
}

// WebConfig defines the web server settings.
type WebConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
}

// MessagingConfig defines the messaging backend.
type MessagingConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Backend             string        `yaml:"backend"` // "mqtt" or "kafka"
	MQTT                MQTTConfig    `yaml:"mqtt"`
	Kafka               KafkaConfig   `yaml:"kafka"`
	CommandTopic        string        `yaml:"command_topic"`
	EventTopic          string        `yaml:"event_topic"`
	OutboxDrainInterval time.Duration `yaml:"outbox_drain_interval"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
}

// MQTTConfig defines MQTT broker settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

// KafkaConfig defines Kafka broker settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

// RedisConfig defines the telemetry cache.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		NodeID:           "tello-1",
		DatabasePath:     "tellolink.db",
		CommandRetention: 7 * 24 * time.Hour,
		Drone: DroneConfig{
			Host:         "192.168.10.1",
			CommandPort:  8889,
			LocalPort:    8889,
			StatePort:    8890,
			StateEnabled: true,
			InitCommand:  "command",
		},
		Web: WebConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8081,
		},
		Messaging: MessagingConfig{
			Backend:             "mqtt",
			CommandTopic:        "tellolink/commands",
			EventTopic:          "tellolink/events",
			OutboxDrainInterval: 5 * time.Second,
			HeartbeatInterval:   30 * time.Second,
			MQTT: MQTTConfig{
				Broker: "localhost",
				Port:   1883,
			},
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
	}
}

// Load reads a YAML config file. If the file doesn't exist, defaults are used.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("TELLOLINK_DRONE_HOST"); host != "" {
		cfg.Drone.Host = host
	}
	if v := os.Getenv("TELLOLINK_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
}

// Validate checks the settings the link cannot run without.
func (c *Config) Validate() error {
	if c.Drone.Host == "" {
		return fmt.Errorf("drone.host is required")
	}
	for name, port := range map[string]int{
		"drone.command_port": c.Drone.CommandPort,
		"drone.local_port":   c.Drone.LocalPort,
		"drone.state_port":   c.Drone.StatePort,
	} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%s out of range: %d", name, port)
		}
	}
	if c.CommandRetention < 0 {
		return fmt.Errorf("command_retention must not be negative")
	}
	if c.Drone.AckTimeout < 0 {
		return fmt.Errorf("drone.ack_timeout must not be negative")
	}
	if c.Messaging.Enabled {
		switch c.Messaging.Backend {
		case "mqtt", "kafka":
		default:
			return fmt.Errorf("unknown messaging backend: %q", c.Messaging.Backend)
		}
	}
	return nil
}

// Save writes the config to a YAML file.
func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// CommandAddr returns the host:port commands are sent to.
func (c *Config) CommandAddr() string {
	return fmt.Sprintf("%s:%d", c.Drone.Host, c.Drone.CommandPort)
}

// ClientID returns the MQTT client ID, derived from the node ID when unset.
func (c *Config) ClientID() string {
	if c.Messaging.MQTT.ClientID != "" {
		return c.Messaging.MQTT.ClientID
	}
	return "tellolink-" + c.NodeID
}

// Lock acquires the config mutex for multi-step mutations.
func (c *Config) Lock() { c.mu.Lock() }

// Unlock releases the config mutex.
func (c *Config) Unlock() { c.mu.Unlock() }
