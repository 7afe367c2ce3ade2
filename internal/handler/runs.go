package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/domain"
	"github.com/stagewatch/stagewatch/internal/middleware"
	"github.com/stagewatch/stagewatch/internal/pkg/pagination"
	"github.com/stagewatch/stagewatch/internal/validator"
)

// RunManager drives run lifecycle and reporting
type RunManager interface {
	CreateRun(ctx context.Context, input *domain.RunInput, actor string) (*domain.RunCreateResult, error)
	GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	ListRuns(ctx context.Context, filter *domain.RunFilter, params *pagination.Params) (*pagination.Page[domain.Run], error)
	StopRun(ctx context.Context, id uuid.UUID, actor string) (*domain.Run, error)
	DeleteRun(ctx context.Context, id uuid.UUID, actor string) error
	Report(ctx context.Context, runID uuid.UUID) (*domain.RunReport, error)
}

// IngestKeyIssuer issues and lists per-run ingest key pairs
type IngestKeyIssuer interface {
	IssueIngestKey(ctx context.Context, runID uuid.UUID, actor string) (*domain.IngestKeyCreateResult, error)
	ListIngestKeys(ctx context.Context, runID uuid.UUID) ([]domain.IngestKey, error)
}

// RunsHandler handles run lifecycle endpoints
type RunsHandler struct {
	runs   RunManager
	keys   IngestKeyIssuer
	logger *zap.Logger
}

// NewRunsHandler creates a new runs handler
func NewRunsHandler(runs RunManager, keys IngestKeyIssuer, logger *zap.Logger) *RunsHandler {
	return &RunsHandler{
		runs:   runs,
		keys:   keys,
		logger: logger,
	}
}

// CreateRun handles POST /v1/runs. The response carries the run plus its
// first ingest key pair; the secret is shown exactly once.
func (h *RunsHandler) CreateRun(c *fiber.Ctx) error {
	var input domain.RunInput
	if err := c.BodyParser(&input); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	if err := validator.Validate(&input); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.runs.CreateRun(c.Context(), &input, actorFromContext(c))
	if err != nil {
		return serviceError(c, h.logger, err)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

// ListRuns handles GET /v1/runs
func (h *RunsHandler) ListRuns(c *fiber.Ctx) error {
	filter := &domain.RunFilter{}
	if statusParam := c.Query("status"); statusParam != "" {
		status := domain.RunStatus(statusParam)
		if !status.IsValid() {
			return errorResponse(c, fiber.StatusBadRequest, "Invalid status. Valid values: active, stopped")
		}
		filter.Status = &status
	}

	page, err := h.runs.ListRuns(c.Context(), filter, parsePageParams(c))
	if err != nil {
		return serviceError(c, h.logger, err)
	}

	return c.JSON(page)
}

// GetRun handles GET /v1/runs/:runId
func (h *RunsHandler) GetRun(c *fiber.Ctx) error {
	runID, err := parseRunID(c)
	if err != nil {
		return err
	}

	run, err := h.runs.GetRun(c.Context(), runID)
	if err != nil {
		return serviceError(c, h.logger, err)
	}

	return c.JSON(run)
}

// StopRun handles POST /v1/runs/:runId/stop. Stopping drains the run's
// engine: every in-flight trace is finalized as timed out before the
// final totals are written.
func (h *RunsHandler) StopRun(c *fiber.Ctx) error {
	runID, err := parseRunID(c)
	if err != nil {
		return err
	}

	run, err := h.runs.StopRun(c.Context(), runID, actorFromContext(c))
	if err != nil {
		return serviceError(c, h.logger, err)
	}

	return c.JSON(run)
}

// DeleteRun handles DELETE /v1/runs/:runId
func (h *RunsHandler) DeleteRun(c *fiber.Ctx) error {
	runID, err := parseRunID(c)
	if err != nil {
		return err
	}

	if err := h.runs.DeleteRun(c.Context(), runID, actorFromContext(c)); err != nil {
		return serviceError(c, h.logger, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// Report handles GET /v1/runs/:runId/report
func (h *RunsHandler) Report(c *fiber.Ctx) error {
	runID, err := parseRunID(c)
	if err != nil {
		return err
	}

	report, err := h.runs.Report(c.Context(), runID)
	if err != nil {
		return serviceError(c, h.logger, err)
	}

	return c.JSON(report)
}

// IssueIngestKey handles POST /v1/runs/:runId/keys
func (h *RunsHandler) IssueIngestKey(c *fiber.Ctx) error {
	runID, err := parseRunID(c)
	if err != nil {
		return err
	}

	result, err := h.keys.IssueIngestKey(c.Context(), runID, actorFromContext(c))
	if err != nil {
		return serviceError(c, h.logger, err)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

// ListIngestKeys handles GET /v1/runs/:runId/keys. Secrets are never
// returned; only previews.
func (h *RunsHandler) ListIngestKeys(c *fiber.Ctx) error {
	runID, err := parseRunID(c)
	if err != nil {
		return err
	}

	keys, err := h.keys.ListIngestKeys(c.Context(), runID)
	if err != nil {
		return serviceError(c, h.logger, err)
	}

	return c.JSON(fiber.Map{
		"keys": keys,
	})
}

// actorFromContext resolves the audit actor for control-plane actions
func actorFromContext(c *fiber.Ctx) string {
	if email, ok := middleware.GetOperatorEmail(c); ok {
		return email
	}
	return "operator"
}
