// Package config handles linkbroker configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order. An explicit
// path (from -config flag) is checked first. Then: ./config.yaml,
// ~/.config/linkbroker/config.yaml, /config/config.yaml,
// /etc/linkbroker/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "linkbroker", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/linkbroker/config.yaml")
	return paths
}

// searchPathsFunc is DefaultSearchPaths by default; tests override it to
// avoid matching real config files on the developer/deploy machine.
var searchPathsFunc = DefaultSearchPaths

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches searchPathsFunc and returns the first that exists.
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

// Config holds all linkbroker configuration.
type Config struct {
	Listen        ListenConfig        `yaml:"listen"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	LinkDirectory LinkDirectoryConfig `yaml:"link_directory"`
	MQTT          MQTTBridgeConfig    `yaml:"mqtt"`
	GraceWindow   time.Duration       `yaml:"grace_window"`
	DownstreamDir string              `yaml:"downstream_prefix"`
	LogLevel      string              `yaml:"log_level"`
}

// ListenConfig defines the WebSocket link server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// MetricsConfig defines the Prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// LinkDirectoryConfig defines the SQLite-backed link directory.
type LinkDirectoryConfig struct {
	Path string `yaml:"path"`
}

// MQTTBridgeConfig defines the optional MQTT-to-tree bridge.
type MQTTBridgeConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Broker      string   `yaml:"broker"`
	Topics      []string `yaml:"topics"`
	MountPrefix string   `yaml:"mount_prefix"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${MQTT_PASSWORD}). A convenience
	// for container deployments; secrets are still best kept out of the file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 4120
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9120
	}
	if c.LinkDirectory.Path == "" {
		c.LinkDirectory.Path = "./data/links.db"
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = 30 * time.Second
	}
	if c.DownstreamDir == "" {
		c.DownstreamDir = "/downstream"
	}
	if c.MQTT.MountPrefix == "" {
		c.MQTT.MountPrefix = "/mqtt"
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port %d out of range (1-65535)", c.Metrics.Port)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker must be set when mqtt.enabled is true")
	}
	if c.GraceWindow <= 0 {
		return fmt.Errorf("grace_window must be positive")
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for local development.
// All defaults are already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
