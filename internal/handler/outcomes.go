package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/domain"
	"github.com/stagewatch/stagewatch/internal/pkg/pagination"
)

// OutcomeLister queries archived trace outcomes from the warehouse
type OutcomeLister interface {
	List(ctx context.Context, filter *domain.TraceOutcomeFilter, params *pagination.Params) (*pagination.Page[domain.TraceOutcome], error)
	GetByTraceID(ctx context.Context, runID uuid.UUID, traceID string) (*domain.TraceOutcome, error)
	CountByStatus(ctx context.Context, runID uuid.UUID) (map[domain.TraceStatus]int64, error)
}

// OutcomesHandler serves archived per-trace outcomes
type OutcomesHandler struct {
	outcomes OutcomeLister
	logger   *zap.Logger
}

// NewOutcomesHandler creates a new outcomes handler
func NewOutcomesHandler(outcomes OutcomeLister, logger *zap.Logger) *OutcomesHandler {
	return &OutcomesHandler{
		outcomes: outcomes,
		logger:   logger,
	}
}

// ListOutcomes handles GET /v1/runs/:runId/outcomes. Outcomes arrive in
// the warehouse through the buffered archiver, so the listing trails
// live finalizations by up to one flush interval.
func (h *OutcomesHandler) ListOutcomes(c *fiber.Ctx) error {
	runID, err := parseRunID(c)
	if err != nil {
		return err
	}

	filter := &domain.TraceOutcomeFilter{RunID: runID}
	if statusParam := c.Query("status"); statusParam != "" {
		status := domain.TraceStatus(statusParam)
		if !status.IsValid() || !status.IsTerminal() {
			return errorResponse(c, fiber.StatusBadRequest,
				"Invalid status. Valid values: completed, out_of_order, timed_out")
		}
		filter.Status = &status
	}

	page, err := h.outcomes.List(c.Context(), filter, parsePageParams(c))
	if err != nil {
		return serviceError(c, h.logger, err)
	}

	return c.JSON(page)
}

// GetOutcome handles GET /v1/runs/:runId/outcomes/:traceId. Trace ids
// are producer-assigned, so the lookup is scoped to the run.
func (h *OutcomesHandler) GetOutcome(c *fiber.Ctx) error {
	runID, err := parseRunID(c)
	if err != nil {
		return err
	}

	traceID := c.Params("traceId")
	if traceID == "" {
		return errorResponse(c, fiber.StatusBadRequest, "Trace ID required")
	}

	outcome, err := h.outcomes.GetByTraceID(c.Context(), runID, traceID)
	if err != nil {
		return serviceError(c, h.logger, err)
	}

	return c.JSON(outcome)
}

// OutcomeCounts handles GET /v1/runs/:runId/outcomes/counts
func (h *OutcomesHandler) OutcomeCounts(c *fiber.Ctx) error {
	runID, err := parseRunID(c)
	if err != nil {
		return err
	}

	counts, err := h.outcomes.CountByStatus(c.Context(), runID)
	if err != nil {
		return serviceError(c, h.logger, err)
	}

	return c.JSON(fiber.Map{
		"runId":  runID,
		"counts": counts,
	})
}
