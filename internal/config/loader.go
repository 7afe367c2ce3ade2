package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Optionally read from config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/stagewatch")

	// Ignore error if config file not found
	_ = v.ReadInConfig()

	var cfg Config

	// Server
	cfg.Server.Host = v.GetString("server_host")
	cfg.Server.Port = v.GetInt("server_port")
	cfg.Server.Env = v.GetString("server_env")
	cfg.Server.CORSOrigins = v.GetString("server_cors_origins")

	// PostgreSQL
	cfg.Postgres.Host = v.GetString("postgres_host")
	cfg.Postgres.Port = v.GetInt("postgres_port")
	cfg.Postgres.User = v.GetString("postgres_user")
	cfg.Postgres.Password = v.GetString("postgres_password")
	cfg.Postgres.Database = v.GetString("postgres_db")
	cfg.Postgres.SSLMode = v.GetString("postgres_ssl_mode")
	cfg.Postgres.MaxConns = int32(v.GetInt("postgres_max_conns"))
	cfg.Postgres.MinConns = int32(v.GetInt("postgres_min_conns"))

	// ClickHouse
	cfg.ClickHouse.Host = v.GetString("clickhouse_host")
	cfg.ClickHouse.Port = v.GetInt("clickhouse_port")
	cfg.ClickHouse.User = v.GetString("clickhouse_user")
	cfg.ClickHouse.Password = v.GetString("clickhouse_password")
	cfg.ClickHouse.Database = v.GetString("clickhouse_db")

	// Redis
	cfg.Redis.Host = v.GetString("redis_host")
	cfg.Redis.Port = v.GetInt("redis_port")
	cfg.Redis.Password = v.GetString("redis_password")
	cfg.Redis.DB = v.GetInt("redis_db")

	// MinIO
	cfg.MinIO.Endpoint = v.GetString("minio_endpoint")
	cfg.MinIO.AccessKey = v.GetString("minio_access_key")
	cfg.MinIO.SecretKey = v.GetString("minio_secret_key")
	cfg.MinIO.UseSSL = v.GetBool("minio_use_ssl")
	cfg.MinIO.Bucket = v.GetString("minio_bucket")

	// JWT
	cfg.JWT.Secret = v.GetString("jwt_secret")
	cfg.JWT.ExpiryHours = v.GetInt("jwt_expiry_hours")
	cfg.JWT.Issuer = v.GetString("jwt_issuer")
	cfg.JWT.Expiry = time.Duration(cfg.JWT.ExpiryHours) * time.Hour

	// Auth
	cfg.Auth.OperatorEmail = v.GetString("auth_operator_email")
	cfg.Auth.OperatorPassword = v.GetString("auth_operator_password")
	cfg.Auth.OperatorPasswordHash = v.GetString("auth_operator_password_hash")
	cfg.Auth.KeyCacheTTLSeconds = v.GetInt("auth_key_cache_ttl_seconds")

	// Rate Limiting
	cfg.RateLimit.Enabled = v.GetBool("rate_limit_enabled")
	cfg.RateLimit.RequestsPerMinute = v.GetInt("rate_limit_requests_per_minute")

	// Engine
	cfg.Engine.DefaultRunEnabled = v.GetBool("engine_default_run_enabled")
	cfg.Engine.Stages = splitList(v.GetString("engine_stages"))
	cfg.Engine.StageDeadlineMs = v.GetInt64("engine_stage_deadline_ms")
	cfg.Engine.SweepIntervalMs = v.GetInt64("engine_sweep_interval_ms")
	cfg.Engine.TombstoneRetentionMs = v.GetInt64("engine_tombstone_retention_ms")
	cfg.Engine.MaxEventBatch = v.GetInt("engine_max_event_batch")

	buckets, err := parseInt64List(v.GetString("engine_histogram_buckets_ms"))
	if err != nil {
		return nil, fmt.Errorf("invalid engine_histogram_buckets_ms: %w", err)
	}
	cfg.Engine.HistogramBucketsMs = buckets

	// Archive
	cfg.Archive.FlushIntervalMs = v.GetInt("archive_flush_interval_ms")
	cfg.Archive.FlushSize = v.GetInt("archive_flush_size")
	cfg.Archive.BufferCapacity = v.GetInt("archive_buffer_capacity")

	// Realtime
	cfg.Realtime.SnapshotIntervalMs = v.GetInt("realtime_snapshot_interval_ms")
	cfg.Realtime.PersistIntervalMs = v.GetInt("realtime_persist_interval_ms")

	// Worker
	cfg.Worker.Concurrency = v.GetInt("worker_concurrency")
	cfg.Worker.QueueCritical = v.GetString("worker_queue_critical")
	cfg.Worker.QueueDefault = v.GetString("worker_queue_default")
	cfg.Worker.QueueLow = v.GetString("worker_queue_low")
	cfg.Worker.RetentionCron = v.GetString("worker_retention_cron")

	// Retention
	cfg.Retention.Days = v.GetInt("retention_days")
	cfg.Retention.Enabled = v.GetBool("retention_worker_enabled")

	// Sentry
	cfg.Sentry.DSN = v.GetString("sentry_dsn")
	cfg.Sentry.Environment = v.GetString("sentry_environment")
	cfg.Sentry.TracesSampleRate = v.GetFloat64("sentry_traces_sample_rate")
	if cfg.Sentry.Environment == "" {
		cfg.Sentry.Environment = cfg.Server.Env
	}

	// Logging
	cfg.Log.Level = v.GetString("log_level")
	cfg.Log.Format = v.GetString("log_format")

	// Validate required fields
	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("server_port", 8080)
	v.SetDefault("server_env", "development")
	v.SetDefault("server_cors_origins", "*")

	// PostgreSQL defaults
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "stagewatch")
	v.SetDefault("postgres_password", "stagewatch")
	v.SetDefault("postgres_db", "stagewatch")
	v.SetDefault("postgres_ssl_mode", "disable")
	v.SetDefault("postgres_max_conns", 25)
	v.SetDefault("postgres_min_conns", 5)

	// ClickHouse defaults
	v.SetDefault("clickhouse_host", "localhost")
	v.SetDefault("clickhouse_port", 9000)
	v.SetDefault("clickhouse_user", "stagewatch")
	v.SetDefault("clickhouse_password", "stagewatch")
	v.SetDefault("clickhouse_db", "stagewatch")

	// Redis defaults
	v.SetDefault("redis_host", "localhost")
	v.SetDefault("redis_port", 6379)
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	// MinIO defaults
	v.SetDefault("minio_endpoint", "localhost:9002")
	v.SetDefault("minio_access_key", "stagewatch")
	v.SetDefault("minio_secret_key", "stagewatch123")
	v.SetDefault("minio_use_ssl", false)
	v.SetDefault("minio_bucket", "stagewatch-exports")

	// JWT defaults
	v.SetDefault("jwt_secret", "change-me-in-production")
	v.SetDefault("jwt_expiry_hours", 24)
	v.SetDefault("jwt_issuer", "stagewatch")

	// Auth defaults
	v.SetDefault("auth_operator_email", "operator@stagewatch.local")
	v.SetDefault("auth_operator_password", "stagewatch")
	v.SetDefault("auth_operator_password_hash", "")
	v.SetDefault("auth_key_cache_ttl_seconds", 300)

	// Rate limiting defaults
	v.SetDefault("rate_limit_enabled", true)
	v.SetDefault("rate_limit_requests_per_minute", 6000)

	// Engine defaults
	v.SetDefault("engine_default_run_enabled", false)
	v.SetDefault("engine_stages", "ingest,transform,sink")
	v.SetDefault("engine_stage_deadline_ms", 30000)
	v.SetDefault("engine_sweep_interval_ms", 1000)
	v.SetDefault("engine_tombstone_retention_ms", 0)
	v.SetDefault("engine_histogram_buckets_ms", "")
	v.SetDefault("engine_max_event_batch", 1000)

	// Archive defaults
	v.SetDefault("archive_flush_interval_ms", 2000)
	v.SetDefault("archive_flush_size", 500)
	v.SetDefault("archive_buffer_capacity", 10000)

	// Realtime defaults
	v.SetDefault("realtime_snapshot_interval_ms", 1000)
	v.SetDefault("realtime_persist_interval_ms", 30000)

	// Worker defaults
	v.SetDefault("worker_concurrency", 10)
	v.SetDefault("worker_queue_critical", "critical")
	v.SetDefault("worker_queue_default", "default")
	v.SetDefault("worker_queue_low", "low")
	v.SetDefault("worker_retention_cron", "0 3 * * *")

	// Retention defaults
	v.SetDefault("retention_days", 90)
	v.SetDefault("retention_worker_enabled", true)

	// Sentry defaults
	v.SetDefault("sentry_dsn", "")
	v.SetDefault("sentry_traces_sample_rate", 0.1)

	// Logging defaults
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

func validate(cfg *Config) error {
	if cfg.JWT.Secret == "change-me-in-production" && cfg.IsProduction() {
		return fmt.Errorf("JWT secret must be changed in production")
	}
	if cfg.IsProduction() && cfg.Auth.OperatorPasswordHash == "" &&
		cfg.Auth.OperatorPassword == "stagewatch" {
		return fmt.Errorf("operator password must be changed in production")
	}

	if cfg.Engine.StageDeadlineMs <= 0 {
		return fmt.Errorf("engine_stage_deadline_ms must be positive, got %d", cfg.Engine.StageDeadlineMs)
	}
	if cfg.Engine.SweepIntervalMs <= 0 {
		return fmt.Errorf("engine_sweep_interval_ms must be positive, got %d", cfg.Engine.SweepIntervalMs)
	}
	if cfg.Engine.DefaultRunEnabled && len(cfg.Engine.Stages) == 0 {
		return fmt.Errorf("engine_stages must not be empty when the default run is enabled")
	}
	for i := 1; i < len(cfg.Engine.HistogramBucketsMs); i++ {
		if cfg.Engine.HistogramBucketsMs[i] <= cfg.Engine.HistogramBucketsMs[i-1] {
			return fmt.Errorf("engine_histogram_buckets_ms must be strictly ascending")
		}
	}
	if len(cfg.Engine.HistogramBucketsMs) > 0 && cfg.Engine.HistogramBucketsMs[0] <= 0 {
		return fmt.Errorf("engine_histogram_buckets_ms must be positive")
	}

	if cfg.Archive.FlushSize <= 0 {
		return fmt.Errorf("archive_flush_size must be positive, got %d", cfg.Archive.FlushSize)
	}
	if cfg.Archive.FlushIntervalMs <= 0 {
		return fmt.Errorf("archive_flush_interval_ms must be positive, got %d", cfg.Archive.FlushIntervalMs)
	}

	return nil
}

// splitList parses a comma-separated list, trimming whitespace and
// dropping empty entries.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseInt64List parses a comma-separated list of integers
func parseInt64List(s string) ([]int64, error) {
	parts := splitList(s)
	if len(parts) == 0 {
		return nil, nil
	}
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", p)
		}
		out = append(out, n)
	}
	return out, nil
}
