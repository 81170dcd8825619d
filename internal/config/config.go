// Package config holds the YAML configuration shared by the simulator,
// the reader and the diagnostics gateway.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration tree. Each binary reads the
// sections it cares about.
type Config struct {
	Bridge  BridgeConfig  `yaml:"bridge" json:"bridge"`
	Reader  ReaderConfig  `yaml:"reader" json:"reader"`
	Faults  FaultsConfig  `yaml:"faults" json:"faults"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Gateway GatewayConfig `yaml:"gateway" json:"gateway"`

	path string
}

// BridgeConfig names the TCP bridge endpoints.
type BridgeConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"` // simulator side
	Addr       string `yaml:"addr" json:"addr"`              // client side
}

// ReaderConfig selects the reader transport and query timing.
type ReaderConfig struct {
	Transport  string `yaml:"transport" json:"transport"` // "bridge" or "slcan"
	TimeoutMs  int    `yaml:"timeout_ms" json:"timeoutMs"`
	SLCANPort  string `yaml:"slcan_port" json:"slcanPort"`
	SLCANBaud  int    `yaml:"slcan_baud" json:"slcanBaud"`
	DashPollMs int    `yaml:"dash_poll_ms" json:"dashPollMs"`
}

// FaultsConfig tunes the background trouble-code generator.
type FaultsConfig struct {
	MinPeriodSec int     `yaml:"min_period_s" json:"minPeriodSec"`
	MaxPeriodSec int     `yaml:"max_period_s" json:"maxPeriodSec"`
	InsertProb   float64 `yaml:"insert_prob" json:"insertProb"`
	RemoveProb   float64 `yaml:"remove_prob" json:"removeProb"`
	MaxActive    int     `yaml:"max_active" json:"maxActive"`
}

// LoggingConfig controls the reader's CSV session log.
type LoggingConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
}

// GatewayConfig configures the diagnostics HTTP gateway.
type GatewayConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
	ExplainURL string `yaml:"explain_url" json:"explainUrl"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ListenAddr: "127.0.0.1:55555",
			Addr:       "127.0.0.1:55555",
		},
		Reader: ReaderConfig{
			Transport:  "bridge",
			TimeoutMs:  1000,
			SLCANPort:  "/dev/ttyACM0",
			SLCANBaud:  115200,
			DashPollMs: 500,
		},
		Faults: FaultsConfig{
			MinPeriodSec: 5,
			MaxPeriodSec: 10,
			InsertProb:   0.7,
			RemoveProb:   0.1,
			MaxActive:    5,
		},
		Logging: LoggingConfig{
			Enabled:    false,
			Path:       "/var/log/autopulse",
			IntervalMs: 500,
		},
		Gateway: GatewayConfig{
			ListenAddr: ":8090",
			ExplainURL: "http://127.0.0.1:8000",
		},
	}
}

// Load reads config from a YAML file, falling back to defaults, then
// applies environment variable overrides.
func Load(path string) *Config {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = Default()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// applyEnvOverrides reads environment variables and overrides config
// values. Supported: BRIDGE_LISTEN, BRIDGE_ADDR, READER_TRANSPORT,
// READER_TIMEOUT_MS, SLCAN_PORT, SLCAN_BAUD, GATEWAY_LISTEN,
// EXPLAIN_URL, LOG_ENABLED, LOG_PATH.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BRIDGE_LISTEN"); v != "" {
		c.Bridge.ListenAddr = v
	}
	if v := os.Getenv("BRIDGE_ADDR"); v != "" {
		c.Bridge.Addr = v
	}
	if v := os.Getenv("READER_TRANSPORT"); v != "" {
		c.Reader.Transport = v
	}
	if v := os.Getenv("READER_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Reader.TimeoutMs = n
		}
	}
	if v := os.Getenv("SLCAN_PORT"); v != "" {
		c.Reader.SLCANPort = v
	}
	if v := os.Getenv("SLCAN_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Reader.SLCANBaud = n
		}
	}
	if v := os.Getenv("GATEWAY_LISTEN"); v != "" {
		c.Gateway.ListenAddr = v
	}
	if v := os.Getenv("EXPLAIN_URL"); v != "" {
		c.Gateway.ExplainURL = v
	}
	if v := os.Getenv("LOG_ENABLED"); v != "" {
		v = strings.ToLower(v)
		c.Logging.Enabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
}

// Save writes the config back to its YAML file.
func (c *Config) Save() error {
	if c.path == "" {
		c.path = "/etc/autopulse/config.yaml"
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}
