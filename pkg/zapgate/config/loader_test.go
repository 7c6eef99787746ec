package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	t.Run("empty input yields defaults", func(t *testing.T) {
		cfg, err := Parse([]byte(""))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.Gateway.Address != ":8077" {
			t.Errorf("expected default address ':8077', got %q", cfg.Gateway.Address)
		}
		if cfg.Session.ReconnectBackoff != 5*time.Second {
			t.Errorf("expected default backoff 5s, got %v", cfg.Session.ReconnectBackoff)
		}
		if cfg.Webhook.DedupWindow != 5*time.Second {
			t.Errorf("expected default dedup window 5s, got %v", cfg.Webhook.DedupWindow)
		}
		if !cfg.Session.HealthMonitor.Enabled {
			t.Error("expected health monitor enabled by default")
		}
		if cfg.Logging.Format != "json" {
			t.Errorf("expected default log format 'json', got %q", cfg.Logging.Format)
		}
	})

	t.Run("values overlay defaults", func(t *testing.T) {
		yaml := `
gateway:
  address: ":9000"
session:
  store_path: /var/lib/zapgate/session.db
  reconnect_backoff: 10s
  relay_groups: true
webhook:
  base_url: https://host.example.com
  timeout: 3s
logging:
  level: debug
  format: text
`
		cfg, err := Parse([]byte(yaml))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.Gateway.Address != ":9000" {
			t.Errorf("expected ':9000', got %q", cfg.Gateway.Address)
		}
		if cfg.Session.ReconnectBackoff != 10*time.Second {
			t.Errorf("expected 10s backoff, got %v", cfg.Session.ReconnectBackoff)
		}
		if !cfg.Session.RelayGroups {
			t.Error("expected relay_groups=true")
		}
		if cfg.Webhook.BaseURL != "https://host.example.com" {
			t.Errorf("expected webhook base url, got %q", cfg.Webhook.BaseURL)
		}
		// Untouched sections keep their defaults.
		if cfg.Session.DeviceName != "Zapgate" {
			t.Errorf("expected default device name, got %q", cfg.Session.DeviceName)
		}
	})

	t.Run("health monitor stays enabled unless explicitly disabled", func(t *testing.T) {
		yaml := `
session:
  health_monitor:
    check_interval: 1m
`
		cfg, err := Parse([]byte(yaml))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !cfg.Session.HealthMonitor.Enabled {
			t.Error("expected health monitor to stay enabled")
		}
		if cfg.Session.HealthMonitor.CheckInterval != time.Minute {
			t.Errorf("expected 1m check interval, got %v", cfg.Session.HealthMonitor.CheckInterval)
		}
	})

	t.Run("health monitor can be disabled", func(t *testing.T) {
		yaml := `
session:
  health_monitor:
    enabled: false
`
		cfg, err := Parse([]byte(yaml))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Session.HealthMonitor.Enabled {
			t.Error("expected health monitor disabled")
		}
	})

	t.Run("invalid YAML errors", func(t *testing.T) {
		if _, err := Parse([]byte("gateway: [not a map")); err == nil {
			t.Error("expected error for invalid YAML")
		}
	})
}

func TestExpandEnvVars(t *testing.T) {
	t.Run("simple variable", func(t *testing.T) {
		t.Setenv("ZG_TEST_TOKEN", "tok123")

		out, err := expandEnvVars("auth_token: ${ZG_TEST_TOKEN}")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != "auth_token: tok123" {
			t.Errorf("expected expansion, got %q", out)
		}
	})

	t.Run("default value when unset", func(t *testing.T) {
		out, err := expandEnvVars("address: ${ZG_TEST_UNSET:-:8077}")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != "address: :8077" {
			t.Errorf("expected default, got %q", out)
		}
	})

	t.Run("set variable beats default", func(t *testing.T) {
		t.Setenv("ZG_TEST_ADDR", ":9000")

		out, err := expandEnvVars("address: ${ZG_TEST_ADDR:-:8077}")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != "address: :9000" {
			t.Errorf("expected env value, got %q", out)
		}
	})

	t.Run("required variable errors when unset", func(t *testing.T) {
		_, err := expandEnvVars("token: ${ZG_TEST_REQUIRED:?token is required}")
		if err == nil {
			t.Fatal("expected error for unset required variable")
		}
		if !strings.Contains(err.Error(), "token is required") {
			t.Errorf("expected custom message in error, got %v", err)
		}
	})

	t.Run("unset plain variable expands to empty", func(t *testing.T) {
		out, err := expandEnvVars("token: ${ZG_TEST_MISSING}")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != "token: " {
			t.Errorf("expected empty expansion, got %q", out)
		}
	})
}

func TestIsEnvReference(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"${ZAPGATE_AUTH_TOKEN}", true},
		{"${VAR:-default}", true},
		{"literal-secret", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsEnvReference(tt.value); got != tt.want {
			t.Errorf("IsEnvReference(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestLoadFile(t *testing.T) {
	t.Run("loads and expands a file", func(t *testing.T) {
		t.Setenv("ZG_TEST_FILE_TOKEN", "from-env")
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")
		content := `
gateway:
  address: ":9000"
  auth_token: ${ZG_TEST_FILE_TOKEN}
session:
  store_path: data/session.db
`
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("writing config: %v", err)
		}

		cfg, err := LoadFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Gateway.AuthToken != "from-env" {
			t.Errorf("expected token from env, got %q", cfg.Gateway.AuthToken)
		}
		// Relative store paths are anchored to the config directory.
		if cfg.Session.StorePath != filepath.Join(dir, "data/session.db") {
			t.Errorf("expected anchored store path, got %q", cfg.Session.StorePath)
		}
	})

	t.Run("missing file errors", func(t *testing.T) {
		if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestSaveFile(t *testing.T) {
	t.Run("secrets are replaced with env references", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")

		cfg := Default()
		cfg.Gateway.AuthToken = "literal-secret"
		cfg.Webhook.AuthToken = "another-secret"

		if err := SaveFile(cfg, path); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading saved config: %v", err)
		}
		content := string(data)
		if strings.Contains(content, "literal-secret") || strings.Contains(content, "another-secret") {
			t.Error("expected secrets to be stripped from the saved file")
		}
		if !strings.Contains(content, "${ZAPGATE_AUTH_TOKEN}") {
			t.Error("expected auth token env reference in saved file")
		}
		if !strings.Contains(content, "${ZAPGATE_WEBHOOK_TOKEN}") {
			t.Error("expected webhook token env reference in saved file")
		}
	})

	t.Run("existing references are kept", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")

		cfg := Default()
		cfg.Gateway.AuthToken = "${MY_CUSTOM_TOKEN}"

		if err := SaveFile(cfg, path); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		data, _ := os.ReadFile(path)
		if !strings.Contains(string(data), "${MY_CUSTOM_TOKEN}") {
			t.Error("expected custom env reference preserved")
		}
	})

	t.Run("overwriting creates a backup", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")

		if err := SaveFile(Default(), path); err != nil {
			t.Fatalf("first save: %v", err)
		}
		cfg := Default()
		cfg.Gateway.Address = ":9000"
		if err := SaveFile(cfg, path); err != nil {
			t.Fatalf("second save: %v", err)
		}

		if _, err := os.Stat(path + ".bak"); err != nil {
			t.Errorf("expected backup file: %v", err)
		}
	})

	t.Run("saved file round-trips", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")

		cfg := Default()
		cfg.Gateway.Address = ":9000"
		cfg.Session.RelayGroups = true
		if err := SaveFile(cfg, path); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		loaded, err := LoadFile(path)
		if err != nil {
			t.Fatalf("loading saved config: %v", err)
		}
		if loaded.Gateway.Address != ":9000" {
			t.Errorf("expected ':9000', got %q", loaded.Gateway.Address)
		}
		if !loaded.Session.RelayGroups {
			t.Error("expected relay_groups preserved")
		}
	})
}
