package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/config"
	"github.com/stagewatch/stagewatch/internal/pkg/database"
	"github.com/stagewatch/stagewatch/internal/pkg/logger"
	chrepo "github.com/stagewatch/stagewatch/internal/repository/clickhouse"
	pgrepo "github.com/stagewatch/stagewatch/internal/repository/postgres"
	"github.com/stagewatch/stagewatch/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger before anything that logs through the shared
	// logger package
	if err := logger.Init(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.Log
	defer logger.Sync()

	log.Info("starting worker service")

	// Initialize dependencies
	deps, cleanup, err := initWorkerDependencies(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize dependencies", zap.Error(err))
	}
	defer cleanup()

	// Create worker server
	workerServer, err := worker.NewServer(log, cfg, deps)
	if err != nil {
		log.Fatal("failed to create worker server", zap.Error(err))
	}

	// Start worker in a goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- workerServer.Start()
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("shutting down worker...")
		workerServer.Stop()
	case err := <-errCh:
		if err != nil {
			log.Error("worker server error", zap.Error(err))
		}
	}

	log.Info("worker stopped")
}

// initWorkerDependencies initializes dependencies for the worker
func initWorkerDependencies(cfg *config.Config, log *zap.Logger) (*worker.Dependencies, func(), error) {
	ctx := context.Background()

	// Initialize PostgreSQL
	pgDB, err := database.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	// Second PostgreSQL handle for the sqlx-based audit repository
	sqlxDB, err := database.NewPostgresSQLX(ctx, cfg.Postgres)
	if err != nil {
		pgDB.Close()
		return nil, nil, fmt.Errorf("failed to initialize PostgreSQL (sqlx): %w", err)
	}

	// Initialize ClickHouse
	chDB, err := database.NewClickHouse(ctx, cfg.ClickHouse)
	if err != nil {
		pgDB.Close()
		_ = sqlxDB.Close()
		return nil, nil, fmt.Errorf("failed to initialize ClickHouse: %w", err)
	}

	// Initialize MinIO; export tasks fail individually when absent
	minioClient, err := initMinio(cfg)
	if err != nil {
		log.Warn("failed to initialize MinIO", zap.Error(err))
	}

	deps := &worker.Dependencies{
		RunRepo:      pgrepo.NewRunRepository(pgDB),
		AuditRepo:    pgrepo.NewAuditRepository(sqlxDB),
		OutcomeRepo:  chrepo.NewOutcomeRepository(chDB),
		SnapshotRepo: chrepo.NewSnapshotRepository(chDB),
		MinioClient:  minioClient,
		MinioBucket:  cfg.MinIO.Bucket,
	}

	cleanup := func() {
		pgDB.Close()
		_ = sqlxDB.Close()
		_ = chDB.Close()
	}

	return deps, cleanup, nil
}

// initMinio initializes MinIO client. The API server owns bucket
// creation; the worker only needs a client.
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

	return client, nil
}
