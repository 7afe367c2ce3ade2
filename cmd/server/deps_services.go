package main

import (
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/config"
	"github.com/stagewatch/stagewatch/internal/domain"
	"github.com/stagewatch/stagewatch/internal/pkg/database"
	"github.com/stagewatch/stagewatch/internal/service"
	"github.com/stagewatch/stagewatch/internal/worker"
)

// Services holds all service instances
type Services struct {
	Audit    *service.AuditService
	Auth     *service.AuthService
	Archive  *service.ArchiveService
	Runs     *service.RunService
	Realtime *service.RealtimeService
}

// initServices initializes all services
func initServices(cfg *config.Config, logger *zap.Logger, repos *Repositories, dbs *Databases) *Services {
	svcs := &Services{}

	// Audit service (no dependencies)
	svcs.Audit = service.NewAuditService(repos.Audit)

	// Auth service, with a Redis-backed ingest key cache
	keyCacheTTL := time.Duration(cfg.Auth.KeyCacheTTLSeconds) * time.Second
	keyCache := database.NewCache(dbs.Redis, keyCacheTTL)
	svcs.Auth = service.NewAuthService(cfg, repos.Runs, keyCache)
	svcs.Auth.SetAuditLogger(svcs.Audit)

	// Archive service drains completed outcomes into ClickHouse
	svcs.Archive = service.NewArchiveService(cfg.Archive, repos.Outcomes, logger)

	// Run service owns the correlation engines; the archive sink
	// receives every outcome they emit
	svcs.Runs = service.NewRunService(cfg, repos.Runs, svcs.Auth, logger, svcs.Archive)
	svcs.Runs.SetOutcomePurger(repos.Outcomes)
	svcs.Runs.SetSnapshotReader(repos.Snapshots)
	svcs.Runs.SetAuditLogger(svcs.Audit)

	// Realtime service streams report snapshots to SSE subscribers and
	// hands periodic snapshots to the worker queue for persistence
	svcs.Realtime = service.NewRealtimeService(cfg.Realtime, svcs.Runs, logger)
	svcs.Realtime.SetSnapshotEnqueuer(&asynqSnapshotEnqueuer{
		client: dbs.AsynqClient,
		queue:  cfg.Worker.QueueDefault,
	})

	return svcs
}

// asynqSnapshotEnqueuer pushes report snapshots onto the worker queue
type asynqSnapshotEnqueuer struct {
	client *asynq.Client
	queue  string
}

func (e *asynqSnapshotEnqueuer) EnqueueSnapshots(snapshots []domain.ReportSnapshot) error {
	_, err := worker.EnqueueReportSnapshots(e.client, e.queue, snapshots)
	return err
}
