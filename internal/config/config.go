package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/recordbase/recordbase-server/internal/validation"
	"github.com/recordbase/recordbase-server/internal/wire"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds the RPC server configuration
type ServerConfig struct {
	NodeID           string        `yaml:"node_id"`
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	MaxConnections   int           `yaml:"max_connections"`
	MaxMessageBytes  int           `yaml:"max_message_bytes"`
	KeepaliveTime    time.Duration `yaml:"keepalive_time"`
	DefaultTimeoutMs int64         `yaml:"default_timeout_ms"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds the server certificate configuration
type TLSConfig struct {
	CertFile     string   `yaml:"cert_file"`
	KeyFile      string   `yaml:"key_file"`
	AutoGenerate bool     `yaml:"auto_generate"`
	Hosts        []string `yaml:"hosts"`
}

// AuthConfig holds token and session configuration
type AuthConfig struct {
	// SigningKeyRef is a secret reference ($NAME, env:NAME, file:/path)
	SigningKeyRef      string           `yaml:"signing_key_ref"`
	Issuer             string           `yaml:"issuer"`
	Audience           string           `yaml:"audience"`
	TokenTTL           time.Duration    `yaml:"token_ttl"`
	Leeway             time.Duration    `yaml:"leeway"`
	RevalidateInterval time.Duration    `yaml:"revalidate_interval"`
	Revocation         RevocationConfig `yaml:"revocation"`
	ConnectRatePerSec  float64          `yaml:"connect_rate_per_sec"`
	ConnectBurst       int              `yaml:"connect_burst"`
}

// RevocationConfig selects the revocation store
type RevocationConfig struct {
	Backend       string `yaml:"backend"` // memory or redis
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Engine       string         `yaml:"engine"` // bolt, log or postgres
	DataDir      string         `yaml:"data_dir"`
	CommitLogDir string         `yaml:"commit_log_dir"`
	MaxDiskUsage float64        `yaml:"max_disk_usage"`
	LockStripes  int            `yaml:"lock_stripes"`
	Bolt         BoltConfig     `yaml:"bolt"`
	Postgres     PostgresConfig `yaml:"postgres"`
	Limits       LimitsConfig   `yaml:"limits"`
}

// BoltConfig holds the bolt engine configuration
type BoltConfig struct {
	Path        string        `yaml:"path"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
	NoSync      bool          `yaml:"no_sync"`
}

// PostgresConfig holds the postgres engine configuration
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
}

// LimitsConfig bounds request sizes; zero keeps the built-in limit
type LimitsConfig struct {
	MaxTenantSize        int `yaml:"max_tenant_size"`
	MaxPrimaryKeySize    int `yaml:"max_primary_key_size"`
	MaxAttributeNameSize int `yaml:"max_attribute_name_size"`
	MaxAttributeSize     int `yaml:"max_attribute_size"`
	MaxRecordSize        int `yaml:"max_record_size"`
	MaxAttributes        int `yaml:"max_attributes"`
}

// CommitLogConfig holds commit log configuration
type CommitLogConfig struct {
	SegmentSize           int64         `yaml:"segment_size"`
	SyncWrites            bool          `yaml:"sync_writes"`
	RotationCheckInterval time.Duration `yaml:"rotation_check_interval"`
}

// MemTableConfig holds memtable configuration
type MemTableConfig struct {
	MaxSize int64 `yaml:"max_size"`
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	MaxSize         int64         `yaml:"max_size"`
	FrequencyWeight float64       `yaml:"frequency_weight"`
	RecencyWeight   float64       `yaml:"recency_weight"`
	AdaptiveWindow  time.Duration `yaml:"adaptive_window"`
}

// CompactionConfig holds log engine compaction configuration
type CompactionConfig struct {
	Interval       time.Duration `yaml:"interval"`
	SegmentTrigger int           `yaml:"segment_trigger"`
}

// WorkersConfig sizes the storage worker pool
type WorkersConfig struct {
	MaxWorkers int `yaml:"max_workers"`
	QueueSize  int `yaml:"queue_size"`
}

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BindAddr       string        `yaml:"bind_addr"`
	BindPort       int           `yaml:"bind_port"`
	SeedNodes      []string      `yaml:"seed_nodes"`
	GossipInterval time.Duration `yaml:"gossip_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
}

// MetricsConfig holds the admin HTTP server configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config represents the complete server configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	TLS        TLSConfig        `yaml:"tls"`
	Auth       AuthConfig       `yaml:"auth"`
	Storage    StorageConfig    `yaml:"storage"`
	CommitLog  CommitLogConfig  `yaml:"commit_log"`
	MemTable   MemTableConfig   `yaml:"mem_table"`
	Cache      CacheConfig      `yaml:"cache"`
	Compaction CompactionConfig `yaml:"compaction"`
	Workers    WorkersConfig    `yaml:"workers"`
	Gossip     GossipConfig     `yaml:"gossip"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvironmentOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.NodeID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Server.NodeID = host
		} else {
			cfg.Server.NodeID = "recordbase"
		}
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 7443
	}
	if cfg.Server.MaxConnections == 0 {
		cfg.Server.MaxConnections = 1000
	}
	if cfg.Server.MaxMessageBytes == 0 {
		cfg.Server.MaxMessageBytes = wire.MaxMessageBytes(cfg.RecordSizeLimit())
	}
	if cfg.Server.DefaultTimeoutMs == 0 {
		cfg.Server.DefaultTimeoutMs = 5000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if len(cfg.TLS.Hosts) == 0 {
		cfg.TLS.Hosts = []string{"localhost", "127.0.0.1"}
	}

	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = time.Hour
	}
	if cfg.Auth.RevalidateInterval == 0 {
		cfg.Auth.RevalidateInterval = 30 * time.Second
	}
	if cfg.Auth.Revocation.Backend == "" {
		cfg.Auth.Revocation.Backend = "memory"
	}
	if cfg.Auth.ConnectRatePerSec == 0 {
		cfg.Auth.ConnectRatePerSec = 10
	}
	if cfg.Auth.ConnectBurst == 0 {
		cfg.Auth.ConnectBurst = 20
	}

	if cfg.Storage.Engine == "" {
		cfg.Storage.Engine = "bolt"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/var/lib/recordbase"
	}
	if cfg.Storage.CommitLogDir == "" {
		cfg.Storage.CommitLogDir = filepath.Join(cfg.Storage.DataDir, "commitlog")
	}
	if cfg.Storage.Bolt.Path == "" {
		cfg.Storage.Bolt.Path = filepath.Join(cfg.Storage.DataDir, "records.db")
	}
	if cfg.Storage.MaxDiskUsage == 0 {
		cfg.Storage.MaxDiskUsage = 0.9
	}
	if cfg.Storage.LockStripes == 0 {
		cfg.Storage.LockStripes = 1024
	}

	if cfg.CommitLog.SegmentSize == 0 {
		cfg.CommitLog.SegmentSize = 64 << 20
	}

	if cfg.MemTable.MaxSize == 0 {
		cfg.MemTable.MaxSize = 256 << 20
	}

	if cfg.Cache.FrequencyWeight == 0 && cfg.Cache.RecencyWeight == 0 {
		cfg.Cache.FrequencyWeight = 0.5
		cfg.Cache.RecencyWeight = 0.5
	}

	if cfg.Compaction.Interval == 0 {
		cfg.Compaction.Interval = 5 * time.Minute
	}
	if cfg.Compaction.SegmentTrigger == 0 {
		cfg.Compaction.SegmentTrigger = 8
	}

	if cfg.Workers.MaxWorkers == 0 {
		cfg.Workers.MaxWorkers = 64
	}
	if cfg.Workers.QueueSize == 0 {
		cfg.Workers.QueueSize = 4096
	}

	if cfg.Gossip.BindPort == 0 {
		cfg.Gossip.BindPort = 7946
	}

	if cfg.Metrics.Host == "" {
		cfg.Metrics.Host = "0.0.0.0"
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.NodeID == "" {
		return fmt.Errorf("server.node_id is required")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535")
	}
	if c.Server.DefaultTimeoutMs <= 0 {
		return fmt.Errorf("server.default_timeout_ms must be positive")
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("tls.cert_file and tls.key_file must be set together")
	}
	if c.TLS.CertFile == "" && !c.TLS.AutoGenerate {
		return fmt.Errorf("tls.cert_file/key_file or tls.auto_generate is required")
	}
	if c.Auth.SigningKeyRef == "" {
		return fmt.Errorf("auth.signing_key_ref is required")
	}
	switch c.Auth.Revocation.Backend {
	case "memory":
	case "redis":
		if c.Auth.Revocation.RedisAddr == "" {
			return fmt.Errorf("auth.revocation.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("auth.revocation.backend must be memory or redis, got %q", c.Auth.Revocation.Backend)
	}
	switch c.Storage.Engine {
	case "bolt", "log":
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres engine")
		}
	default:
		return fmt.Errorf("storage.engine must be bolt, log or postgres, got %q", c.Storage.Engine)
	}
	if need := wire.MaxMessageBytes(c.RecordSizeLimit()); c.Server.MaxMessageBytes < need {
		return fmt.Errorf("server.max_message_bytes must be at least %d to carry a record of storage.limits.max_record_size", need)
	}
	if c.Storage.MaxDiskUsage < 0 || c.Storage.MaxDiskUsage > 1 {
		return fmt.Errorf("storage.max_disk_usage must be between 0 and 1")
	}
	if c.Cache.MaxSize < 0 {
		return fmt.Errorf("cache.max_size cannot be negative")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be between 0 and 65535")
	}
	return nil
}

// RecordSizeLimit returns the largest record the node stores
func (c *Config) RecordSizeLimit() int {
	if c.Storage.Limits.MaxRecordSize > 0 {
		return c.Storage.Limits.MaxRecordSize
	}
	return validation.MaxRecordSize
}

// Address returns the RPC listen address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
