package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LeonardoBeccarini/espcluster/internal/model/entities"
)

type Config struct {
	Board         int           `yaml:"board"`
	MeshSize      int           `yaml:"mesh_size"`
	CommandTarget int           `yaml:"command_target"`
	Chip          string        `yaml:"chip"`
	SupplyVolts   float32       `yaml:"supply_volts"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	CommandGrace  time.Duration `yaml:"command_grace"`
	Addresses     []string      `yaml:"addresses"`
	RetainedPath  string        `yaml:"retained_path"`

	MQTT         MQTTConfig         `yaml:"mqtt"`
	Collector    CollectorConfig    `yaml:"collector"`
	CommandInput CommandInputConfig `yaml:"command_input"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Log          LogConfig          `yaml:"log"`

	addrs []entities.Addr
}

type MQTTConfig struct {
	Enabled    *bool         `yaml:"enabled"`
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	User       string        `yaml:"user"`
	Password   string        `yaml:"password"`
	Prefix     string        `yaml:"prefix"`
	QoS        int           `yaml:"qos"`
	AckTimeout time.Duration `yaml:"ack_timeout"`
	DedupTTL   time.Duration `yaml:"dedup_ttl"`
}

type CollectorConfig struct {
	Kind    string        `yaml:"kind"` // none | rest | influx
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	Influx  InfluxConfig  `yaml:"influx"`
}

type InfluxConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

type CommandInputConfig struct {
	// Device is a serial device or file; "-" reads stdin, empty disables.
	Device   string `yaml:"device"`
	GRPCAddr string `yaml:"grpc_addr"`
}

type MetricsConfig struct {
	Pushgateway string `yaml:"pushgateway"`
}

type LogConfig struct {
	Development bool   `yaml:"development"`
	Level       string `yaml:"level"`
}

// Load reads the YAML file (optional), applies env overrides, defaults, and validates.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Board = envInt("NODE_BOARD", c.Board)
	c.MeshSize = envInt("MESH_SIZE", c.MeshSize)
	c.CommandTarget = envInt("COMMAND_TARGET", c.CommandTarget)
	c.Chip = envStr("NODE_CHIP", c.Chip)
	c.RetainedPath = envStr("RETAINED_PATH", c.RetainedPath)

	c.MQTT.Host = envStr("MQTT_HOST", c.MQTT.Host)
	c.MQTT.Port = envInt("MQTT_PORT", c.MQTT.Port)
	c.MQTT.User = envStr("MQTT_USER", c.MQTT.User)
	c.MQTT.Password = envStr("MQTT_PASS", c.MQTT.Password)
	c.MQTT.Prefix = envStr("MQTT_PREFIX", c.MQTT.Prefix)

	c.Collector.Kind = envStr("COLLECTOR_KIND", c.Collector.Kind)
	c.Collector.URL = envStr("COLLECTOR_URL", c.Collector.URL)
	c.Collector.Influx.URL = envStr("INFLUX_URL", c.Collector.Influx.URL)
	c.Collector.Influx.Token = envStr("INFLUX_TOKEN", c.Collector.Influx.Token)
	c.Collector.Influx.Org = envStr("INFLUX_ORG", c.Collector.Influx.Org)
	c.Collector.Influx.Bucket = envStr("INFLUX_BUCKET", c.Collector.Influx.Bucket)

	c.CommandInput.Device = envStr("COMMAND_DEVICE", c.CommandInput.Device)
	c.CommandInput.GRPCAddr = envStr("GRPC_ADDR", c.CommandInput.GRPCAddr)
	c.Metrics.Pushgateway = envStr("PUSHGATEWAY_URL", c.Metrics.Pushgateway)
	c.Log.Level = envStr("LOG_LEVEL", c.Log.Level)
}

func (c *Config) applyDefaults() {
	if c.MeshSize == 0 {
		c.MeshSize = entities.MaxBoards
	}
	if c.Chip == "" {
		c.Chip = "esp32"
	}
	if c.SupplyVolts == 0 {
		c.SupplyVolts = 3.3
	}
	if c.PollInterval == 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	if c.CommandGrace == 0 {
		c.CommandGrace = 100 * time.Millisecond
	}
	if c.RetainedPath == "" {
		c.RetainedPath = fmt.Sprintf("./data/node%d.img", c.Board)
	}
	if c.MQTT.Enabled == nil {
		on := true
		c.MQTT.Enabled = &on
	}
	if c.MQTT.Host == "" {
		c.MQTT.Host = "localhost"
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.Prefix == "" {
		c.MQTT.Prefix = "espmesh"
	}
	if c.MQTT.AckTimeout == 0 {
		c.MQTT.AckTimeout = 300 * time.Millisecond
	}
	if c.MQTT.DedupTTL == 0 {
		c.MQTT.DedupTTL = 2 * time.Second
	}
	if c.Collector.Kind == "" {
		c.Collector.Kind = "none"
	}
	if c.Collector.Timeout == 0 {
		c.Collector.Timeout = time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) validate() error {
	if c.MeshSize < 1 || c.MeshSize > entities.MaxBoards {
		return fmt.Errorf("mesh_size %d out of range 1..%d", c.MeshSize, entities.MaxBoards)
	}
	if c.Board < 0 || c.Board >= c.MeshSize {
		return fmt.Errorf("board %d outside mesh of %d", c.Board, c.MeshSize)
	}
	if c.CommandTarget < 0 || c.CommandTarget >= c.MeshSize {
		return fmt.Errorf("command_target %d outside mesh of %d", c.CommandTarget, c.MeshSize)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0..2")
	}

	c.addrs = c.addrs[:0]
	if len(c.Addresses) == 0 {
		c.addrs = append(c.addrs, entities.DefaultAddresses[:c.MeshSize]...)
	} else {
		if len(c.Addresses) != c.MeshSize {
			return fmt.Errorf("addresses: %d entries for a mesh of %d", len(c.Addresses), c.MeshSize)
		}
		for _, s := range c.Addresses {
			a, err := entities.ParseAddr(s)
			if err != nil {
				return fmt.Errorf("addresses: %w", err)
			}
			c.addrs = append(c.addrs, a)
		}
	}

	switch strings.ToLower(c.Collector.Kind) {
	case "none":
	case "rest":
		if c.Collector.URL == "" {
			return fmt.Errorf("collector.url is required for kind rest")
		}
	case "influx":
		if c.Collector.Influx.URL == "" || c.Collector.Influx.Org == "" || c.Collector.Influx.Bucket == "" {
			return fmt.Errorf("collector.influx needs url/org/bucket")
		}
	default:
		return fmt.Errorf("collector.kind %q unknown", c.Collector.Kind)
	}
	return nil
}

func (c *Config) Self() entities.Addr { return c.addrs[c.Board] }

// Peer is the next board in the ring.
func (c *Config) Peer() entities.Addr { return c.addrs[(c.Board+1)%c.MeshSize] }

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
