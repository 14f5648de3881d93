package config

import (
	"os"
	"strconv"
	"strings"
)

const envPrefix = "RECORDBASE_"

// applyEnvironmentOverrides applies RECORDBASE_* variables; they take
// precedence over the file
func applyEnvironmentOverrides(cfg *Config) {
	// Server configuration
	setString(&cfg.Server.NodeID, "NODE_ID")
	setString(&cfg.Server.Host, "SERVER_HOST")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setInt64(&cfg.Server.DefaultTimeoutMs, "DEFAULT_TIMEOUT_MS")

	// TLS configuration
	setString(&cfg.TLS.CertFile, "TLS_CERT_FILE")
	setString(&cfg.TLS.KeyFile, "TLS_KEY_FILE")
	setBool(&cfg.TLS.AutoGenerate, "TLS_AUTO_GENERATE")

	// Auth configuration
	setString(&cfg.Auth.SigningKeyRef, "SIGNING_KEY_REF")
	setString(&cfg.Auth.Issuer, "AUTH_ISSUER")
	setString(&cfg.Auth.Audience, "AUTH_AUDIENCE")
	setString(&cfg.Auth.Revocation.Backend, "REVOCATION_BACKEND")
	setString(&cfg.Auth.Revocation.RedisAddr, "REDIS_ADDR")
	setString(&cfg.Auth.Revocation.RedisPassword, "REDIS_PASSWORD")

	// Storage configuration
	setString(&cfg.Storage.Engine, "STORAGE_ENGINE")
	setString(&cfg.Storage.DataDir, "DATA_DIR")
	setString(&cfg.Storage.Postgres.DSN, "POSTGRES_DSN")

	// Gossip configuration
	setBool(&cfg.Gossip.Enabled, "GOSSIP_ENABLED")
	if seeds := os.Getenv(envPrefix + "GOSSIP_SEEDS"); seeds != "" {
		cfg.Gossip.SeedNodes = strings.Split(seeds, ",")
	}

	// Metrics and logging
	setInt(&cfg.Metrics.Port, "METRICS_PORT")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")
}

func setString(dst *string, name string) {
	if v := os.Getenv(envPrefix + name); v != "" {
		*dst = v
	}
}

func setInt(dst *int, name string) {
	if v := os.Getenv(envPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, name string) {
	if v := os.Getenv(envPrefix + name); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, name string) {
	if v := os.Getenv(envPrefix + name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
