// Package config – keyring.go provides secure token storage using the
// operating system's native keyring (Linux: Secret Service/GNOME Keyring,
// macOS: Keychain, Windows: Credential Manager).
//
// Priority for resolving the control API auth token:
//  1. OS keyring (encrypted by the OS, requires user session)
//  2. Environment variable (ZAPGATE_AUTH_TOKEN)
//  3. .env file (loaded by godotenv)
//  4. config.yaml value (least secure — plaintext on disk)
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "zapgate"

	// KeyringAuthToken is the key name for the control API auth token.
	KeyringAuthToken = "auth_token"

	// KeyringWebhookToken is the key name for the outbound webhook token.
	KeyringWebhookToken = "webhook_token"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__zapgate_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveTokens fills in the gateway and webhook auth tokens from the
// keyring and environment when the config value is empty or still an
// unexpanded reference.
func ResolveTokens(cfg *Config, logger *slog.Logger) {
	cfg.Gateway.AuthToken = resolveToken(cfg.Gateway.AuthToken, KeyringAuthToken, "ZAPGATE_AUTH_TOKEN", logger)
	cfg.Webhook.AuthToken = resolveToken(cfg.Webhook.AuthToken, KeyringWebhookToken, "ZAPGATE_WEBHOOK_TOKEN", logger)
}

func resolveToken(current, keyringKey, envVar string, logger *slog.Logger) string {
	if current != "" && !IsEnvReference(current) {
		return current
	}
	if v := GetKeyring(keyringKey); v != "" {
		logger.Debug("token resolved from OS keyring", "key", keyringKey)
		return v
	}
	if v := os.Getenv(envVar); v != "" {
		logger.Debug("token resolved from environment", "var", envVar)
		return v
	}
	return ""
}

// ReadPassword reads a secret from the terminal with echo disabled.
func ReadPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}

// IsTerminal reports whether stdin is an interactive terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
