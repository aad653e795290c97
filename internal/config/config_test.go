package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFindConfig_ExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.yaml")
	if err := os.WriteFile(path, []byte("listen:\n  port: 4120\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig: %v", err)
	}
	if got != path {
		t.Errorf("FindConfig = %q, want %q", got, path)
	}
}

func TestFindConfig_ExplicitPathMissing(t *testing.T) {
	if _, err := FindConfig("/nonexistent/broker.yaml"); err == nil {
		t.Error("expected error for missing explicit path")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("listen:\n  port: 4120\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	orig := searchPathsFunc
	searchPathsFunc = func() []string {
		return []string{filepath.Join(dir, "nope.yaml"), path}
	}
	defer func() { searchPathsFunc = orig }()

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig: %v", err)
	}
	if got != path {
		t.Errorf("FindConfig = %q, want %q", got, path)
	}
}

func TestFindConfig_NoneFound(t *testing.T) {
	orig := searchPathsFunc
	searchPathsFunc = func() []string {
		return []string{"/nonexistent/a.yaml", "/nonexistent/b.yaml"}
	}
	defer func() { searchPathsFunc = orig }()

	if _, err := FindConfig(""); err == nil {
		t.Error("expected error when no config file exists")
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.yaml")
	if err := os.WriteFile(path, []byte("listen:\n  port: 5000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen.Port != 5000 {
		t.Errorf("Listen.Port = %d, want 5000", cfg.Listen.Port)
	}
	if cfg.Metrics.Port != 9120 {
		t.Errorf("Metrics.Port default = %d, want 9120", cfg.Metrics.Port)
	}
	if cfg.LinkDirectory.Path != "./data/links.db" {
		t.Errorf("LinkDirectory.Path default = %q, want %q", cfg.LinkDirectory.Path, "./data/links.db")
	}
	if cfg.GraceWindow != 30*time.Second {
		t.Errorf("GraceWindow default = %v, want 30s", cfg.GraceWindow)
	}
	if cfg.DownstreamDir != "/downstream" {
		t.Errorf("DownstreamDir default = %q, want %q", cfg.DownstreamDir, "/downstream")
	}
	if cfg.MQTT.MountPrefix != "/mqtt" {
		t.Errorf("MQTT.MountPrefix default = %q, want %q", cfg.MQTT.MountPrefix, "/mqtt")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("LINKBROKER_TEST_MQTT_PASSWORD", "s3cret")

	dir := t.TempDir()
	path := filepath.Join(dir, "broker.yaml")
	contents := "mqtt:\n  enabled: true\n  broker: \"tcp://localhost:1883\"\n  password: \"${LINKBROKER_TEST_MQTT_PASSWORD}\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MQTT.Password != "s3cret" {
		t.Errorf("MQTT.Password = %q, want %q", cfg.MQTT.Password, "s3cret")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/broker.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.yaml")
	if err := os.WriteFile(path, []byte("listen: [this is not valid\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoad_FailsValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.yaml")
	if err := os.WriteFile(path, []byte("mqtt:\n  enabled: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected validation error for mqtt.enabled without mqtt.broker")
	}
}

func TestValidate_PortRanges(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"listen port zero", func(c *Config) { c.Listen.Port = 0 }, true},
		{"listen port too high", func(c *Config) { c.Listen.Port = 70000 }, true},
		{"metrics port out of range when enabled", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Port = 0
		}, true},
		{"metrics port ignored when disabled", func(c *Config) {
			c.Metrics.Enabled = false
			c.Metrics.Port = 0
		}, false},
		{"valid defaults", func(c *Config) {}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestValidate_MQTTRequiresBrokerWhenEnabled(t *testing.T) {
	cfg := Default()
	cfg.MQTT.Enabled = true
	cfg.MQTT.Broker = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when mqtt.enabled without mqtt.broker")
	}

	cfg.MQTT.Broker = "tcp://localhost:1883"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error with broker set: %v", err)
	}
}

func TestValidate_GraceWindowMustBePositive(t *testing.T) {
	cfg := Default()
	cfg.GraceWindow = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero grace window")
	}
}

func TestValidate_LogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid log level")
	}

	cfg.LogLevel = "trace"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error for valid log level: %v", err)
	}
}

func TestDefault_PassesValidation(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default() config failed validation: %v", err)
	}
}
