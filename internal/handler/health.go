package handler

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// HealthHandler serves the liveness, readiness and version probes.
type HealthHandler struct {
	postgres   *pgxpool.Pool
	clickhouse clickhouse.Conn
	redis      *redis.Client
	version    string
	startTime  time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(
	postgres *pgxpool.Pool,
	clickhouse clickhouse.Conn,
	redis *redis.Client,
	version string,
) *HealthHandler {
	return &HealthHandler{
		postgres:   postgres,
		clickhouse: clickhouse,
		redis:      redis,
		version:    version,
		startTime:  time.Now(),
	}
}

// HealthStatus represents health check status
type HealthStatus struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// dependency is one backing store the API reports on. Stores with
// gating set must be up for the server to accept traffic; the rest
// only degrade the health report.
type dependency struct {
	name   string
	gating bool
	check  func(context.Context) error
}

// dependencies lists the backing stores in report order. The engine
// correlates and serves reports without the warehouse, so ClickHouse
// never gates readiness.
func (h *HealthHandler) dependencies() []dependency {
	return []dependency{
		{name: "postgres", gating: true, check: func(ctx context.Context) error {
			return h.postgres.Ping(ctx)
		}},
		{name: "clickhouse", check: func(ctx context.Context) error {
			return h.clickhouse.Ping(ctx)
		}},
		{name: "redis", gating: true, check: func(ctx context.Context) error {
			return h.redis.Ping(ctx).Err()
		}},
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	status := HealthStatus{
		Status:    "healthy",
		Version:   h.version,
		Uptime:    time.Since(h.startTime).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	for _, dep := range h.dependencies() {
		if err := dep.check(ctx); err != nil {
			status.Status = "unhealthy"
			status.Checks[dep.name] = "unhealthy: " + err.Error()
			continue
		}
		status.Checks[dep.name] = "healthy"
	}

	statusCode := fiber.StatusOK
	if status.Status != "healthy" {
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(status)
}

// Liveness handles GET /livez - basic liveness probe
func (h *HealthHandler) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "alive",
	})
}

// Readiness handles GET /readyz - readiness probe. Only the gating
// stores are consulted.
func (h *HealthHandler) Readiness(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	for _, dep := range h.dependencies() {
		if !dep.gating {
			continue
		}
		if err := dep.check(ctx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not ready",
				"reason": dep.name + " unavailable",
			})
		}
	}

	return c.JSON(fiber.Map{
		"status": "ready",
	})
}

// Version handles GET /version
func (h *HealthHandler) Version(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"version": h.version,
		"uptime":  time.Since(h.startTime).String(),
	})
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/healthz", h.Health)
	app.Get("/livez", h.Liveness)
	app.Get("/live", h.Liveness)
	app.Get("/readyz", h.Readiness)
	app.Get("/ready", h.Readiness)
	app.Get("/version", h.Version)
}
