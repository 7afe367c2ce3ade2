package main

import (
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/config"
	"github.com/stagewatch/stagewatch/internal/handler"
)

// Handlers holds all handler instances
type Handlers struct {
	Health   *handler.HealthHandler
	Auth     *handler.AuthHandler
	Runs     *handler.RunsHandler
	Ingest   *handler.IngestHandler
	OTel     *handler.OTelHandler
	Events   *handler.EventsHandler
	Outcomes *handler.OutcomesHandler
	Export   *handler.ExportHandler
	Docs     *handler.DocsHandler
}

// initHandlers initializes all handlers
func initHandlers(
	cfg *config.Config,
	logger *zap.Logger,
	svcs *Services,
	repos *Repositories,
	dbs *Databases,
	version string,
) *Handlers {
	return &Handlers{
		Health: handler.NewHealthHandler(
			dbs.Postgres.Pool,
			dbs.ClickHouse.Conn,
			dbs.Redis.Client,
			version,
		),
		Auth:     handler.NewAuthHandler(svcs.Auth, logger),
		Runs:     handler.NewRunsHandler(svcs.Runs, svcs.Auth, logger),
		Ingest:   handler.NewIngestHandler(svcs.Runs, logger),
		OTel:     handler.NewOTelHandler(svcs.Runs, logger),
		Events:   handler.NewEventsHandler(svcs.Realtime, logger),
		Outcomes: handler.NewOutcomesHandler(repos.Outcomes, logger),
		Export:   handler.NewExportHandler(dbs.AsynqClient, cfg.Worker.QueueLow, svcs.Runs, svcs.Audit, logger),
		Docs:     handler.NewDocsHandler(),
	}
}
