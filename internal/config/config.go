// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultTokenPath is where Kubernetes mounts the service account token.
const DefaultTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"

// ErrMissingVaultURL is returned by Load when VAULT_URL is unset or empty.
var ErrMissingVaultURL = errors.New("VAULT_URL is required")

// Config holds the application configuration loaded from environment variables.
type Config struct {
	VaultURL     string
	VaultTimeout time.Duration
	TokenPath    string
	AuthMount    string
	AuthRole     string
	SecretsMount string
	DBRole       string

	CheckInterval time.Duration

	PGHost     string
	PGPort     int
	PGDatabase string
	PGSSLMode  string

	ListenAddr string
	DBPath     string
	LogLevel   slog.Level
}

// HasStatusServer returns true when the status HTTP server should be started.
func (c *Config) HasStatusServer() bool {
	return c.ListenAddr != ""
}

// HasLeaseHistory returns true when lease metadata should be persisted to SQLite.
func (c *Config) HasLeaseHistory() bool {
	return c.DBPath != ""
}

// Load reads configuration from environment variables and returns a validated Config.
// VAULT_URL is required; everything else has a default:
// CREDSIDECAR_TOKEN_PATH (service account token), CREDSIDECAR_AUTH_MOUNT (kubernetes),
// CREDSIDECAR_AUTH_ROLE (demo), CREDSIDECAR_SECRETS_MOUNT (database),
// CREDSIDECAR_DB_ROLE (app-role), CREDSIDECAR_CHECK_INTERVAL (10s),
// CREDSIDECAR_VAULT_TIMEOUT (5s), CREDSIDECAR_PG_HOST, CREDSIDECAR_PG_PORT (5432),
// CREDSIDECAR_PG_DATABASE (postgres), CREDSIDECAR_PG_SSLMODE (prefer),
// CREDSIDECAR_LISTEN_ADDR (0.0.0.0:8080), CREDSIDECAR_DB_PATH (disabled),
// CREDSIDECAR_LOG_LEVEL (info).
func Load() (*Config, error) {
	vaultURL := strings.TrimSpace(os.Getenv("VAULT_URL"))
	if vaultURL == "" {
		return nil, ErrMissingVaultURL
	}
	u, err := url.Parse(vaultURL)
	if err != nil {
		return nil, fmt.Errorf("VAULT_URL is not a valid URL %q: %w", vaultURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("VAULT_URL must be an absolute http(s) URL, got %q", vaultURL)
	}

	checkInterval, err := durationEnv("CREDSIDECAR_CHECK_INTERVAL", 10*time.Second)
	if err != nil {
		return nil, err
	}

	vaultTimeout, err := durationEnv("CREDSIDECAR_VAULT_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	pgPort := 5432
	if v, ok := os.LookupEnv("CREDSIDECAR_PG_PORT"); ok {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 65535 {
			return nil, fmt.Errorf("CREDSIDECAR_PG_PORT has invalid port %q", v)
		}
		pgPort = parsed
	}

	logLevel := slog.LevelInfo
	if v, ok := os.LookupEnv("CREDSIDECAR_LOG_LEVEL"); ok && v != "" {
		if err := logLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("CREDSIDECAR_LOG_LEVEL has invalid level %q: %w", v, err)
		}
	}

	return &Config{
		VaultURL:      strings.TrimRight(vaultURL, "/"),
		VaultTimeout:  vaultTimeout,
		TokenPath:     stringEnv("CREDSIDECAR_TOKEN_PATH", DefaultTokenPath),
		AuthMount:     strings.Trim(stringEnv("CREDSIDECAR_AUTH_MOUNT", "kubernetes"), "/"),
		AuthRole:      stringEnv("CREDSIDECAR_AUTH_ROLE", "demo"),
		SecretsMount:  strings.Trim(stringEnv("CREDSIDECAR_SECRETS_MOUNT", "database"), "/"),
		DBRole:        stringEnv("CREDSIDECAR_DB_ROLE", "app-role"),
		CheckInterval: checkInterval,
		PGHost:        stringEnv("CREDSIDECAR_PG_HOST", "postgres.default.svc.cluster.local"),
		PGPort:        pgPort,
		PGDatabase:    stringEnv("CREDSIDECAR_PG_DATABASE", "postgres"),
		PGSSLMode:     stringEnv("CREDSIDECAR_PG_SSLMODE", "prefer"),
		ListenAddr:    envOr("CREDSIDECAR_LISTEN_ADDR", "0.0.0.0:8080"),
		DBPath:        envOr("CREDSIDECAR_DB_PATH", ""),
		LogLevel:      logLevel,
	}, nil
}

// stringEnv returns the trimmed value of key, or def when unset or blank.
func stringEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return def
}

// envOr returns the value of key when set, even if empty, so operators can
// disable optional features with an explicit empty value.
func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", key, v)
	}
	return parsed, nil
}
