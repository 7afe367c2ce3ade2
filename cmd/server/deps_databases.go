package main

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/config"
	"github.com/stagewatch/stagewatch/internal/pkg/database"
)

// Databases holds all database connections
type Databases struct {
	Postgres     *database.PostgresDB
	PostgresSQLX *sqlx.DB
	ClickHouse   *database.ClickHouseDB
	Redis        *database.RedisDB
	Minio        *minio.Client
	AsynqClient  *asynq.Client
}

// initDatabases initializes all database connections
func initDatabases(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Databases, error) {
	dbs := &Databases{}

	// Initialize PostgreSQL
	pgDB, err := database.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	dbs.Postgres = pgDB

	// Second PostgreSQL handle for the sqlx-based audit repository
	sqlxDB, err := database.NewPostgresSQLX(ctx, cfg.Postgres)
	if err != nil {
		dbs.Close()
		return nil, fmt.Errorf("failed to initialize PostgreSQL (sqlx): %w", err)
	}
	dbs.PostgresSQLX = sqlxDB

	// Initialize ClickHouse
	chDB, err := database.NewClickHouse(ctx, cfg.ClickHouse)
	if err != nil {
		dbs.Close()
		return nil, fmt.Errorf("failed to initialize ClickHouse: %w", err)
	}
	dbs.ClickHouse = chDB

	// Initialize Redis
	rdb, err := database.NewRedis(ctx, cfg.Redis)
	if err != nil {
		dbs.Close()
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}
	dbs.Redis = rdb

	// Initialize MinIO (optional)
	minioClient, err := initMinio(cfg)
	if err != nil {
		logger.Warn("failed to initialize MinIO, export storage will be unavailable", zap.Error(err))
	}
	dbs.Minio = minioClient

	// Initialize Asynq client
	dbs.AsynqClient = asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	return dbs, nil
}

// Close closes all database connections
func (d *Databases) Close() {
	if d.Postgres != nil {
		d.Postgres.Close()
	}
	if d.PostgresSQLX != nil {
		_ = d.PostgresSQLX.Close()
	}
	if d.ClickHouse != nil {
		_ = d.ClickHouse.Close()
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if d.AsynqClient != nil {
		_ = d.AsynqClient.Close()
	}
}

// initMinio initializes MinIO client
func initMinio(cfg *config.Config) (*minio.Client, error) {
	if cfg.MinIO.Endpoint == "" {
		return nil, nil
	}

	client, err := minio.New(cfg.MinIO.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, ""),
		Secure: cfg.MinIO.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	// Ensure the export bucket exists
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.MinIO.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinIO.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return client, nil
}
