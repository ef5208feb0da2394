// Package config defines all configuration structures for the Lorekeeper
// service.  No I/O or parsing logic lives here — only plain data types and
// validation.
package config

import (
	"fmt"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// EngineConfig holds recognition-pipeline tunables.
type EngineConfig struct {
	// ConfidenceThreshold is the minimum fused confidence for a match.
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	// RejectionCacheSize caps the per-document rejection cache.
	RejectionCacheSize int `mapstructure:"rejection_cache_size"`
	// MatcherTimeout bounds one parallel-matcher round trip before the
	// sequential fallback takes over.
	MatcherTimeout time.Duration `mapstructure:"matcher_timeout"`
}

// SnapshotConfig holds registry persistence parameters.
type SnapshotConfig struct {
	// Path is the local snapshot file the registry flushes to.
	Path string `mapstructure:"path"`
	// BackupDir receives timestamped copies before each overwrite. Empty
	// disables local backups.
	BackupDir string `mapstructure:"backup_dir"`
}

// Neo4jConfig holds the knowledge-graph mirror connection parameters.
// An empty URI disables the mirror.
type Neo4jConfig struct {
	URI                   string        `mapstructure:"uri"`
	User                  string        `mapstructure:"user"`
	Password              string        `mapstructure:"password"`
	MaxConnectionPoolSize int           `mapstructure:"max_connection_pool_size"`
	ConnectionTimeout     time.Duration `mapstructure:"connection_timeout"`
	Database              string        `mapstructure:"database"`
}

// RedisConfig holds the popularity-store connection parameters.
// An empty Addr selects the in-memory store instead.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// KafkaConfig holds the event-bus producer parameters.
// An empty broker list disables event publishing.
type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	Topic           string        `mapstructure:"topic"`
	ProducerRetries int           `mapstructure:"producer_retries"`
	BatchSize       int           `mapstructure:"batch_size"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

// MinIOConfig holds object-storage parameters for off-host snapshot backups.
// An empty Endpoint keeps backups local-only.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// WatchConfig holds document-watcher parameters for `lorekeeper watch`.
type WatchConfig struct {
	// Dir is the directory scanned for document changes.
	Dir string `mapstructure:"dir"`
	// Extensions limits which files trigger a rescan.
	Extensions []string `mapstructure:"extensions"`
	// Debounce coalesces rapid editor write bursts into one scan.
	Debounce time.Duration `mapstructure:"debounce"`
}

// LogConfig holds structured-logging parameters.
type LogConfig struct {
	Level            string `mapstructure:"level"`  // "debug" | "info" | "warn" | "error"
	Format           string `mapstructure:"format"` // "json" | "text"
	Output           string `mapstructure:"output"`
	EnableCaller     bool   `mapstructure:"enable_caller"`
	EnableStacktrace bool   `mapstructure:"enable_stacktrace"`
	SamplingRate     int    `mapstructure:"sampling_rate"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure for the service. Optional
// backends (Neo4j, Redis, Kafka, MinIO) degrade to built-in fallbacks when
// their address fields are left empty.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Neo4j    Neo4jConfig    `mapstructure:"neo4j"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Log      LogConfig      `mapstructure:"log"`
}

// Neo4jEnabled reports whether the graph mirror is configured.
func (c *Config) Neo4jEnabled() bool { return c.Neo4j.URI != "" }

// RedisEnabled reports whether the Redis popularity store is configured.
func (c *Config) RedisEnabled() bool { return c.Redis.Addr != "" }

// KafkaEnabled reports whether event publishing is configured.
func (c *Config) KafkaEnabled() bool { return len(c.Kafka.Brokers) > 0 }

// MinIOEnabled reports whether off-host backups are configured.
func (c *Config) MinIOEnabled() bool { return c.MinIO.Endpoint != "" }

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of the fully-populated Config.
// It returns the first error encountered; callers should treat any error as
// fatal and refuse to start the application.
func (c *Config) Validate() error {
	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}

	// Engine
	if c.Engine.ConfidenceThreshold < 0 || c.Engine.ConfidenceThreshold > 1 {
		return fmt.Errorf("config: engine.confidence_threshold %v is out of range [0, 1]", c.Engine.ConfidenceThreshold)
	}
	if c.Engine.RejectionCacheSize < 1 {
		return fmt.Errorf("config: engine.rejection_cache_size must be ≥ 1, got %d", c.Engine.RejectionCacheSize)
	}
	if c.Engine.MatcherTimeout <= 0 {
		return fmt.Errorf("config: engine.matcher_timeout must be positive, got %v", c.Engine.MatcherTimeout)
	}

	// Snapshot
	if c.Snapshot.Path == "" {
		return fmt.Errorf("config: snapshot.path is required")
	}

	// Neo4j (only when enabled)
	if c.Neo4jEnabled() && c.Neo4j.User == "" {
		return fmt.Errorf("config: neo4j.user is required when neo4j.uri is set")
	}

	// Redis (only when enabled)
	if c.RedisEnabled() && c.Redis.DB < 0 {
		return fmt.Errorf("config: redis.db must be ≥ 0, got %d", c.Redis.DB)
	}

	// Kafka (only when enabled)
	if c.KafkaEnabled() && c.Kafka.Topic == "" {
		return fmt.Errorf("config: kafka.topic is required when kafka.brokers is set")
	}

	// MinIO (only when enabled)
	if c.MinIOEnabled() {
		if c.MinIO.AccessKey == "" || c.MinIO.SecretKey == "" {
			return fmt.Errorf("config: minio.access_key and minio.secret_key are required when minio.endpoint is set")
		}
		if c.MinIO.Bucket == "" {
			return fmt.Errorf("config: minio.bucket is required when minio.endpoint is set")
		}
	}

	// Log
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|text", c.Log.Format)
	}

	return nil
}
