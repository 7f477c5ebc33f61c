// Package config loads the bridge configuration from YAML, a .env file and
// the environment, and serves it to the HTTP API.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/ardulink-go/internal/observability"
)

// Config holds all bridge configuration.
type Config struct {
	mu sync.RWMutex

	Link     LinkConfig     `yaml:"link" json:"link"`
	MQTT     MQTTConfig     `yaml:"mqtt" json:"mqtt"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Recorder RecorderConfig `yaml:"recorder" json:"recorder"`
	Log      LogConfig      `yaml:"log" json:"log"`

	path string // file path for save/load
}

type LinkConfig struct {
	URI           string   `yaml:"uri" json:"uri"`                       // e.g. ardulink://serial?port=/dev/ttyACM0
	WaitTimeoutMs int      `yaml:"wait_timeout_ms" json:"waitTimeoutMs"` // boot handshake budget
	WaitMode      string   `yaml:"wait_mode" json:"waitMode"`            // "any" or "ready"
	ListenPins    []string `yaml:"listen_pins" json:"listenPins"`        // e.g. [A0, D2]
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Broker      string `yaml:"broker" json:"broker"` // tcp://host:1883
	TopicPrefix string `yaml:"topic_prefix" json:"topicPrefix"`
	ClientID    string `yaml:"client_id" json:"clientId"` // random when empty
	Username    string `yaml:"username" json:"username"`
	Password    string `yaml:"password" json:"-"`
	QoS         byte   `yaml:"qos" json:"qos"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

type RecorderConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Path     string `yaml:"path" json:"path"`
	Interval int    `yaml:"interval_ms" json:"intervalMs"` // min ms between rows per pin
}

type LogConfig struct {
	Level string `yaml:"level" json:"level"` // zerolog level name
}

// Wait modes accepted in LinkConfig.WaitMode.
const (
	WaitAny   = "any"
	WaitReady = "ready"
)

// DefaultPath is where the bridge looks for its config file.
const DefaultPath = "/etc/ardulink/config.yaml"

// DefaultConfig returns a config with sensible defaults, saved to DefaultPath.
func DefaultConfig() *Config {
	return &Config{
		path: DefaultPath,
		Link: LinkConfig{
			URI:           "ardulink://default",
			WaitTimeoutMs: 5000,
			WaitMode:      WaitReady,
			ListenPins:    nil,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Broker:      "tcp://localhost:1883",
			TopicPrefix: "home/devices/arduino",
			QoS:         0,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		Recorder: RecorderConfig{
			Enabled:  false,
			Path:     "/var/log/ardulink",
			Interval: 100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	log := observability.Component("config")
	if path == "" {
		path = DefaultPath
	}
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Info().Str("path", path).Msg("no config file, using defaults")
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Error().Err(err).Str("path", path).Msg("parse failed, using defaults")
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Info().Str("path", path).Msg("loaded")
	}

	// .env next to the config, then in the working directory
	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
// Variables already set in the real environment win.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log := observability.Component("config")
	log.Debug().Str("path", path).Msg("loading .env")
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: ARDULINK_URI, LINK_WAIT_TIMEOUT_MS, LINK_WAIT_MODE, LISTEN_PINS,
// MQTT_ENABLED, MQTT_BROKER, MQTT_TOPIC_PREFIX, MQTT_CLIENT_ID,
// MQTT_USERNAME, MQTT_PASSWORD, LISTEN_ADDR, RECORD_ENABLED, RECORD_PATH,
// RECORD_INTERVAL_MS, LOG_LEVEL
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ARDULINK_URI"); v != "" {
		c.Link.URI = v
	}
	if v := os.Getenv("LINK_WAIT_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Link.WaitTimeoutMs = n
		}
	}
	if v := os.Getenv("LINK_WAIT_MODE"); v != "" {
		c.Link.WaitMode = v
	}
	if v := os.Getenv("LISTEN_PINS"); v != "" {
		c.Link.ListenPins = splitList(v)
	}
	if v := os.Getenv("MQTT_ENABLED"); v != "" {
		c.MQTT.Enabled = truthy(v)
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("MQTT_TOPIC_PREFIX"); v != "" {
		c.MQTT.TopicPrefix = v
	}
	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		c.MQTT.ClientID = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("RECORD_ENABLED"); v != "" {
		c.Recorder.Enabled = truthy(v)
	}
	if v := os.Getenv("RECORD_PATH"); v != "" {
		c.Recorder.Path = v
	}
	if v := os.Getenv("RECORD_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Recorder.Interval = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func truthy(v string) bool {
	return v == "1" || v == "true" || v == "yes"
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string { return c.path }

// WaitTimeout is Link.WaitTimeoutMs as a duration.
func (c *Config) WaitTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Link.WaitTimeoutMs) * time.Millisecond
}

// Snapshot returns a copy of the link section that is safe to use while
// the API updates the config.
func (c *Config) Snapshot() LinkConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l := c.Link
	l.ListenPins = append([]string(nil), c.Link.ListenPins...)
	return l
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(c.path), err)
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API. Secrets are omitted.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. Nested maps are merged, all
// other values in src replace those in dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
