package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/config"
	"github.com/stagewatch/stagewatch/internal/domain"
	chrepo "github.com/stagewatch/stagewatch/internal/repository/clickhouse"
	pgrepo "github.com/stagewatch/stagewatch/internal/repository/postgres"
)

// Server is the worker server
type Server struct {
	logger    *zap.Logger
	config    *config.Config
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	client    *asynq.Client
}

// Dependencies holds the repositories and clients workers need
type Dependencies struct {
	RunRepo      *pgrepo.RunRepository
	AuditRepo    *pgrepo.AuditRepository
	OutcomeRepo  *chrepo.OutcomeRepository
	SnapshotRepo *chrepo.SnapshotRepository
	MinioClient  *minio.Client
	MinioBucket  string
}

// NewServer creates a new worker server
func NewServer(
	logger *zap.Logger,
	cfg *config.Config,
	deps *Dependencies,
) (*Server, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				cfg.Worker.QueueCritical: 6,
				cfg.Worker.QueueDefault:  3,
				cfg.Worker.QueueLow:      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task processing failed",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
			Logger: &asynqLogger{logger: logger},
		},
	)

	exportWorker := NewExportWorker(
		logger,
		deps.RunRepo,
		deps.OutcomeRepo,
		deps.SnapshotRepo,
		deps.MinioClient,
		deps.MinioBucket,
	)

	retentionWorker := NewRetentionWorker(
		logger,
		cfg.Retention.Days,
		deps.RunRepo,
		deps.AuditRepo,
		deps.OutcomeRepo,
		deps.SnapshotRepo,
	)

	snapshotWorker := NewSnapshotWorker(
		logger,
		deps.SnapshotRepo,
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeReportExport, exportWorker.ProcessTask)
	mux.HandleFunc(TypeRetentionPurge, retentionWorker.ProcessTask)
	mux.HandleFunc(TypeReportSnapshot, snapshotWorker.ProcessTask)

	scheduler := asynq.NewScheduler(redisOpt, nil)
	client := asynq.NewClient(redisOpt)

	return &Server{
		logger:    logger,
		config:    cfg,
		server:    server,
		mux:       mux,
		scheduler: scheduler,
		client:    client,
	}, nil
}

// Start starts the worker server. Blocks until Stop is called.
func (s *Server) Start() error {
	if err := s.registerScheduledTasks(); err != nil {
		return fmt.Errorf("failed to register scheduled tasks: %w", err)
	}

	go func() {
		if err := s.scheduler.Run(); err != nil {
			s.logger.Error("scheduler stopped", zap.Error(err))
		}
	}()

	s.logger.Info("starting worker server",
		zap.Int("concurrency", s.config.Worker.Concurrency),
	)

	return s.server.Run(s.mux)
}

// Stop stops the worker server
func (s *Server) Stop() {
	s.server.Shutdown()
	s.scheduler.Shutdown()
	s.client.Close()
}

// Client returns the asynq client for enqueuing tasks
func (s *Server) Client() *asynq.Client {
	return s.client
}

// registerScheduledTasks registers periodic tasks with the scheduler
func (s *Server) registerScheduledTasks() error {
	if !s.config.Retention.Enabled {
		s.logger.Info("retention purge schedule disabled")
		return nil
	}

	task, err := NewRetentionPurgeTask(&RetentionPurgePayload{})
	if err != nil {
		return err
	}

	_, err = s.scheduler.Register(
		s.config.Worker.RetentionCron,
		task,
		asynq.Queue(s.config.Worker.QueueLow),
	)
	if err != nil {
		return fmt.Errorf("failed to register retention purge task: %w", err)
	}

	return nil
}

// EnqueueReportExport enqueues a report export task on the named queue.
// The queue must be one the worker server is configured to consume.
func EnqueueReportExport(client *asynq.Client, queue string, payload *ReportExportPayload) (*asynq.TaskInfo, error) {
	task, err := NewReportExportTask(payload)
	if err != nil {
		return nil, err
	}
	return client.Enqueue(task, asynq.Queue(queue))
}

// EnqueueReportSnapshots enqueues a report snapshot persistence task on
// the named queue
func EnqueueReportSnapshots(client *asynq.Client, queue string, snapshots []domain.ReportSnapshot) (*asynq.TaskInfo, error) {
	task, err := NewReportSnapshotTask(snapshots)
	if err != nil {
		return nil, err
	}
	return client.Enqueue(task, asynq.Queue(queue))
}

// asynqLogger adapts zap.Logger to asynq.Logger
type asynqLogger struct {
	logger *zap.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) {
	l.logger.Debug(fmt.Sprint(args...))
}

func (l *asynqLogger) Info(args ...interface{}) {
	l.logger.Info(fmt.Sprint(args...))
}

func (l *asynqLogger) Warn(args ...interface{}) {
	l.logger.Warn(fmt.Sprint(args...))
}

func (l *asynqLogger) Error(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
}

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Fatal(fmt.Sprint(args...))
}
