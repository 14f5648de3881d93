package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
server:
  node_id: node-1
tls:
  auto_generate: true
auth:
  signing_key_ref: env:RECORDBASE_SIGNING_KEY
storage:
  data_dir: /tmp/recordbase
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "node-1", cfg.Server.NodeID)
	assert.Equal(t, 7443, cfg.Server.Port)
	assert.Equal(t, int64(5000), cfg.Server.DefaultTimeoutMs)
	assert.Equal(t, "bolt", cfg.Storage.Engine)
	assert.Equal(t, "/tmp/recordbase/records.db", cfg.Storage.Bolt.Path)
	assert.Equal(t, "/tmp/recordbase/commitlog", cfg.Storage.CommitLogDir)
	assert.Equal(t, "memory", cfg.Auth.Revocation.Backend)
	assert.Equal(t, 30*time.Second, cfg.Auth.RevalidateInterval)
	assert.Equal(t, "0.0.0.0:7443", cfg.Address())
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("RECORDBASE_SERVER_PORT", "9443")
	t.Setenv("RECORDBASE_STORAGE_ENGINE", "log")
	t.Setenv("RECORDBASE_DATA_DIR", "/data")
	t.Setenv("RECORDBASE_GOSSIP_SEEDS", "a:7946,b:7946")
	t.Setenv("RECORDBASE_TLS_AUTO_GENERATE", "true")

	path := writeConfig(t, `
server:
  node_id: node-1
  port: 7443
auth:
  signing_key_ref: $KEY
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9443, cfg.Server.Port)
	assert.Equal(t, "log", cfg.Storage.Engine)
	assert.Equal(t, "/data/commitlog", cfg.Storage.CommitLogDir)
	assert.Equal(t, []string{"a:7946", "b:7946"}, cfg.Gossip.SeedNodes)
	assert.True(t, cfg.TLS.AutoGenerate)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.TLS.AutoGenerate = true
		cfg.Auth.SigningKeyRef = "$KEY"
		return cfg
	}
	require.NoError(t, valid().Validate())
	assert.Equal(t, 17<<20, valid().Server.MaxMessageBytes)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"no tls", func(c *Config) { c.TLS.AutoGenerate = false }},
		{"half a key pair", func(c *Config) { c.TLS.CertFile = "cert.pem" }},
		{"no signing key", func(c *Config) { c.Auth.SigningKeyRef = "" }},
		{"unknown engine", func(c *Config) { c.Storage.Engine = "sstable" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Engine = "postgres" }},
		{"redis without addr", func(c *Config) { c.Auth.Revocation.Backend = "redis" }},
		{"disk usage over one", func(c *Config) { c.Storage.MaxDiskUsage = 1.5 }},
		{"negative cache", func(c *Config) { c.Cache.MaxSize = -1 }},
		{"message smaller than a record", func(c *Config) { c.Server.MaxMessageBytes = 16 << 20 }},
		{"record limit raised alone", func(c *Config) { c.Storage.Limits.MaxRecordSize = 64 << 20 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "server: ["))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "server:\n  node_id: x\n"))
	assert.Error(t, err)
}
