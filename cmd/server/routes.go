package main

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes registers all HTTP routes
func registerRoutes(app *fiber.App, deps *Dependencies) {
	h := deps.Handlers
	auth := deps.AuthMiddleware
	limit := deps.RateLimitMiddleware
	cfg := deps.Config

	// Health check routes (no auth required)
	h.Health.RegisterRoutes(app)

	// API documentation routes (no auth required)
	h.Docs.RegisterRoutes(app)

	// Prometheus scrape endpoint
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Operator login (tightly rate limited per source IP)
	app.Post("/v1/auth/login", limit.LoginRateLimit(10), h.Auth.Login)

	// Ingestion surface (ingest key pair auth). Ingest and operator
	// routes interleave under /v1, so auth is attached per route; a
	// group-level Use on /v1 would apply to every surface at once.
	requireKey := auth.RequireIngestKey()
	ingestLimit := passThrough
	if cfg.RateLimit.Enabled {
		ingestLimit = limit.RunRateLimit(cfg.RateLimit.RequestsPerMinute)
	}
	app.Post("/v1/runs/:runId/events", requireKey, ingestLimit, auth.RequireRunAccess(), h.Ingest.RecordEvents)
	app.Post("/v1/traces", requireKey, ingestLimit, h.OTel.ReceiveTraces)

	// Operator surface (JWT auth). The per-IP limiter runs ahead of the
	// token check so abuse never reaches signature verification.
	requireJWT := auth.RequireJWT()
	operatorLimit := passThrough
	if cfg.RateLimit.Enabled {
		operatorLimit = limit.Handler()
	}
	app.Post("/v1/runs", operatorLimit, requireJWT, h.Runs.CreateRun)
	app.Get("/v1/runs", operatorLimit, requireJWT, h.Runs.ListRuns)
	app.Post("/v1/runs/:runId/stop", operatorLimit, requireJWT, h.Runs.StopRun)
	app.Delete("/v1/runs/:runId", operatorLimit, requireJWT, h.Runs.DeleteRun)
	app.Post("/v1/runs/:runId/keys", operatorLimit, requireJWT, h.Runs.IssueIngestKey)
	app.Get("/v1/runs/:runId/keys", operatorLimit, requireJWT, h.Runs.ListIngestKeys)
	app.Post("/v1/runs/:runId/export", operatorLimit, requireJWT, h.Export.RequestExport)

	// Read surface (operator JWT or the run's own ingest key)
	requireAny := auth.RequireAuth()
	runAccess := auth.RequireRunAccess()
	app.Get("/v1/runs/:runId", operatorLimit, requireAny, runAccess, h.Runs.GetRun)
	app.Get("/v1/runs/:runId/report", operatorLimit, requireAny, runAccess, h.Runs.Report)
	app.Get("/v1/runs/:runId/events/stream", operatorLimit, requireAny, runAccess, h.Events.StreamReport)
	app.Get("/v1/runs/:runId/events/subscribers", operatorLimit, requireAny, runAccess, h.Events.Subscribers)
	app.Get("/v1/runs/:runId/outcomes", operatorLimit, requireAny, runAccess, h.Outcomes.ListOutcomes)
	app.Get("/v1/runs/:runId/outcomes/counts", operatorLimit, requireAny, runAccess, h.Outcomes.OutcomeCounts)
	app.Get("/v1/runs/:runId/outcomes/:traceId", operatorLimit, requireAny, runAccess, h.Outcomes.GetOutcome)
}

// passThrough fills a middleware slot that config has disabled
func passThrough(c *fiber.Ctx) error {
	return c.Next()
}
