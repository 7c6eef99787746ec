// Package config – loader.go handles loading configuration from YAML files
// with credential management via environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches environment variable patterns in config values:
//   - ${VAR_NAME}          - simple variable
//   - ${VAR_NAME:-default} - default value if not set
//   - ${VAR_NAME:?error}   - error message if not set
//   - $VAR_NAME            - bare variable (no default/error support)
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// LoadFile reads and parses a YAML configuration file.
// Automatically loads .env files and expands environment variables.
// Returns an error if any ${VAR:?error} pattern has its variable unset.
func LoadFile(path string) (*Config, error) {
	// Load .env files (silently ignore if not found).
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in YAML before parsing.
	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := Parse([]byte(expanded))
	if err != nil {
		return nil, err
	}

	// Resolve relative paths based on config file location.
	resolveRelativePaths(cfg, path)

	checkFilePermissions(path)

	return cfg, nil
}

// Parse parses YAML bytes into a Config.
// Starts with defaults and overlays values from the YAML.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("mapping config: %w", err)
	}

	// YAML unmarshal zeros bool fields when absent. Merge with defaults so
	// the health monitor stays enabled unless explicitly turned off.
	if sessionMap, ok := raw["session"].(map[string]any); ok {
		if hmMap, ok := sessionMap["health_monitor"].(map[string]any); ok {
			if _, set := hmMap["enabled"]; !set {
				cfg.Session.HealthMonitor.Enabled = true
			}
		}
	}

	return cfg, nil
}

// SaveFile writes a Config as YAML to the specified path.
// Auth tokens are replaced with environment variable references so the file
// never contains secrets. Creates a backup (.bak) of the existing file
// before overwriting.
func SaveFile(cfg *Config, path string) error {
	sanitized := *cfg
	sanitized.Gateway.AuthToken = sanitizeSecret(cfg.Gateway.AuthToken, "ZAPGATE_AUTH_TOKEN")
	sanitized.Webhook.AuthToken = sanitizeSecret(cfg.Webhook.AuthToken, "ZAPGATE_WEBHOOK_TOKEN")

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	// Validate the marshaled YAML is parseable before writing.
	var check map[string]any
	if err := yaml.Unmarshal(data, &check); err != nil {
		return fmt.Errorf("config validation failed (refusing to write corrupt data): %w", err)
	}

	// Backup existing file before overwriting.
	if _, err := os.Stat(path); err == nil {
		if existing, err := os.ReadFile(path); err == nil {
			_ = os.WriteFile(path+".bak", existing, 0o600)
		}
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}

	// Write with restricted permissions (owner read/write only).
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// FindFile searches for config files in standard locations.
func FindFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"zapgate.yaml",
		"zapgate.yml",
		"configs/config.yaml",
		"configs/zapgate.yaml",
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// IsEnvReference reports whether a config value is an unexpanded environment
// variable reference rather than a literal secret.
func IsEnvReference(v string) bool {
	return envVarPattern.MatchString(v)
}

// ---------- Internal ----------

// loadEnvFiles loads .env files from standard locations.
// godotenv.Load does NOT overwrite existing env vars.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces ${VAR} patterns with environment values and
// validates ${VAR:?error} patterns.
func expandEnvVars(s string) (string, error) {
	var expandErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)

		name := groups[1]
		if name == "" {
			name = groups[4] // bare $VAR form
		}
		modifier := groups[2]
		arg := groups[3]

		if val, ok := os.LookupEnv(name); ok && val != "" {
			return val
		}

		switch modifier {
		case "-":
			return arg
		case "?":
			msg := arg
			if msg == "" {
				msg = "required variable not set"
			}
			if expandErr == nil {
				expandErr = fmt.Errorf("%s: %s", name, msg)
			}
			return ""
		}
		return ""
	})

	return result, expandErr
}

// sanitizeSecret replaces a literal secret with an env var reference.
// Values that are already references are kept as-is.
func sanitizeSecret(value, envVar string) string {
	if value == "" || IsEnvReference(value) {
		return value
	}
	return "${" + envVar + "}"
}

// resolveRelativePaths anchors relative paths to the config file directory
// so the daemon behaves the same regardless of working directory.
func resolveRelativePaths(cfg *Config, configPath string) {
	base := filepath.Dir(configPath)
	if cfg.Session.StorePath != "" && !filepath.IsAbs(cfg.Session.StorePath) {
		cfg.Session.StorePath = filepath.Join(base, cfg.Session.StorePath)
	}
}

// checkFilePermissions warns when the config file is world-readable.
func checkFilePermissions(path string) {
	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Mode().Perm()&0o044 != 0 {
		fmt.Fprintf(os.Stderr, "warning: %s is readable by other users; consider chmod 600\n", path)
	}
}
