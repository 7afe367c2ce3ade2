package config

import (
	"fmt"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
	MinIO      MinIOConfig
	JWT        JWTConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Engine     EngineConfig
	Archive    ArchiveConfig
	Realtime   RealtimeConfig
	Worker     WorkerConfig
	Retention  RetentionConfig
	Sentry     SentryConfig
	Log        LogConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Env         string `mapstructure:"env"`
	CORSOrigins string `mapstructure:"cors_origins"`
}

// Addr returns the listen address
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PostgresConfig holds PostgreSQL configuration
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// DSN returns the PostgreSQL connection string
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// Addr returns the ClickHouse native protocol address
func (c ClickHouseConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MinIOConfig holds MinIO configuration
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
}

// JWTConfig holds operator token configuration
type JWTConfig struct {
	Secret      string        `mapstructure:"secret"`
	ExpiryHours int           `mapstructure:"expiry_hours"`
	Issuer      string        `mapstructure:"issuer"`
	Expiry      time.Duration `mapstructure:"-"`
}

// AuthConfig holds the provisioned operator credential and the ingest
// key cache settings. The operator password may be given as a bcrypt
// hash; the plain form exists for development setups only.
type AuthConfig struct {
	OperatorEmail        string `mapstructure:"operator_email"`
	OperatorPassword     string `mapstructure:"operator_password"`
	OperatorPasswordHash string `mapstructure:"operator_password_hash"`
	KeyCacheTTLSeconds   int    `mapstructure:"key_cache_ttl_seconds"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
}

// EngineConfig holds correlation engine defaults. Per-run settings from
// the create-run request override the default deadline and intervals;
// histogram bounds and tombstone retention apply to every run.
type EngineConfig struct {
	// DefaultRunEnabled creates a run named "default" from Stages and
	// StageDeadlineMs at server start when no active run exists.
	DefaultRunEnabled    bool     `mapstructure:"default_run_enabled"`
	Stages               []string `mapstructure:"stages"`
	StageDeadlineMs      int64    `mapstructure:"stage_deadline_ms"`
	SweepIntervalMs      int64    `mapstructure:"sweep_interval_ms"`
	HistogramBucketsMs   []int64  `mapstructure:"histogram_buckets_ms"`
	TombstoneRetentionMs int64    `mapstructure:"tombstone_retention_ms"`
	MaxEventBatch        int      `mapstructure:"max_event_batch"`
}

// ArchiveConfig holds the ClickHouse outcome archiver configuration
type ArchiveConfig struct {
	FlushIntervalMs int `mapstructure:"flush_interval_ms"`
	FlushSize       int `mapstructure:"flush_size"`
	BufferCapacity  int `mapstructure:"buffer_capacity"`
}

// RealtimeConfig holds the live report stream configuration.
// SnapshotIntervalMs drives the SSE publish tick; PersistIntervalMs is
// how often a snapshot batch is enqueued for warehouse persistence.
type RealtimeConfig struct {
	SnapshotIntervalMs int `mapstructure:"snapshot_interval_ms"`
	PersistIntervalMs  int `mapstructure:"persist_interval_ms"`
}

// WorkerConfig holds background worker configuration
type WorkerConfig struct {
	Concurrency   int    `mapstructure:"concurrency"`
	QueueCritical string `mapstructure:"queue_critical"`
	QueueDefault  string `mapstructure:"queue_default"`
	QueueLow      string `mapstructure:"queue_low"`
	RetentionCron string `mapstructure:"retention_cron"`
}

// RetentionConfig holds data retention configuration
type RetentionConfig struct {
	Days    int  `mapstructure:"days"`
	Enabled bool `mapstructure:"enabled"`
}

// SentryConfig holds error reporting configuration
type SentryConfig struct {
	DSN              string  `mapstructure:"dsn"`
	Environment      string  `mapstructure:"environment"`
	TracesSampleRate float64 `mapstructure:"traces_sample_rate"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// IsDevelopment returns true if running in development mode
func (c Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode
func (c Config) IsProduction() bool {
	return c.Server.Env == "production"
}
