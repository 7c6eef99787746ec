// Package config defines the zapgate configuration: the control API listen
// address, the WhatsApp session store, and the host webhook target.
package config

import "time"

// Config is the root configuration loaded from config.yaml.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	Session SessionConfig `yaml:"session"`
	Webhook WebhookConfig `yaml:"webhook"`
	Logging LoggingConfig `yaml:"logging"`
}

// GatewayConfig configures the HTTP control API.
type GatewayConfig struct {
	// Address is the listen address (default: ":8077").
	Address string `yaml:"address"`

	// AuthToken is the Bearer token required on every endpoint except
	// GET /status (empty = no auth). Resolved keyring → env → config.
	AuthToken string `yaml:"auth_token"`

	// CORSOrigins lists allowed origins for CORS (empty = no CORS).
	CORSOrigins []string `yaml:"cors_origins"`
}

// SessionConfig configures the WhatsApp session and connection manager.
type SessionConfig struct {
	// StorePath is the SQLite database file holding the session
	// credentials (whatsmeow sqlstore).
	StorePath string `yaml:"store_path"`

	// DeviceName is shown in the WhatsApp linked-devices list.
	DeviceName string `yaml:"device_name"`

	// ReconnectBackoff is the fixed delay before an automatic reconnect
	// after a non-terminal connection loss.
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`

	// RelayGroups enables relaying group chat messages. The back-office
	// transcript is keyed by client phone, so this is off by default.
	RelayGroups bool `yaml:"relay_groups"`

	// MaxMediaSizeMB is the largest media payload fetched for send-media.
	MaxMediaSizeMB int `yaml:"max_media_size_mb"`

	// HealthMonitor configures proactive connection health checks.
	HealthMonitor HealthMonitorConfig `yaml:"health_monitor"`
}

// HealthMonitorConfig configures the connection health monitor.
type HealthMonitorConfig struct {
	// Enabled turns on proactive health monitoring.
	Enabled bool `yaml:"enabled"`

	// CheckInterval is how often the socket state is verified against the
	// manager's view of it.
	CheckInterval time.Duration `yaml:"check_interval"`

	// PingInterval is how often a presence update is sent to keep the
	// connection alive while connected.
	PingInterval time.Duration `yaml:"ping_interval"`
}

// WebhookConfig configures the outbound relay to the host application.
type WebhookConfig struct {
	// BaseURL is the host application base URL. Relayed messages are
	// POSTed to {BaseURL}/api/messaging/incoming.
	BaseURL string `yaml:"base_url"`

	// AuthToken is sent as a Bearer token on relay calls (empty = none).
	AuthToken string `yaml:"auth_token"`

	// Timeout bounds each relay HTTP call so a slow host cannot stall
	// message relaying.
	Timeout time.Duration `yaml:"timeout"`

	// DedupWindow is the window inside which an identical (phone, message)
	// event is suppressed as a duplicate.
	DedupWindow time.Duration `yaml:"dedup_window"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Address: ":8077",
		},
		Session: SessionConfig{
			StorePath:        "./data/zapgate.db",
			DeviceName:       "Zapgate",
			ReconnectBackoff: 5 * time.Second,
			MaxMediaSizeMB:   16,
			HealthMonitor: HealthMonitorConfig{
				Enabled:       true,
				CheckInterval: 30 * time.Second,
				PingInterval:  2 * time.Minute,
			},
		},
		Webhook: WebhookConfig{
			BaseURL:     "http://localhost:3000",
			Timeout:     5 * time.Second,
			DedupWindow: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
