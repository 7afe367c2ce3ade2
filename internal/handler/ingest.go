package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/domain"
	"github.com/stagewatch/stagewatch/internal/middleware"
)

// EventRecorder routes a batch of stage events into a run's engine
type EventRecorder interface {
	RecordEvents(ctx context.Context, runID uuid.UUID, batch *domain.StageEventBatch) (*domain.BatchIngestResult, error)
}

// IngestHandler handles stage event ingestion endpoints
type IngestHandler struct {
	recorder EventRecorder
	logger   *zap.Logger
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(recorder EventRecorder, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{
		recorder: recorder,
		logger:   logger,
	}
}

// RecordEvents handles POST /v1/runs/:runId/events. The batch is applied
// event by event: a malformed or unknown-stage item is reported in its
// per-item result and never fails the rest of the batch. The response is
// 200 even when every item was rejected; callers inspect the results.
func (h *IngestHandler) RecordEvents(c *fiber.Ctx) error {
	runID, err := parseRunID(c)
	if err != nil {
		return err
	}

	var batch domain.StageEventBatch
	if err := c.BodyParser(&batch); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	if len(batch.Events) == 0 {
		return errorResponse(c, fiber.StatusBadRequest, "Batch is empty")
	}

	result, err := h.recorder.RecordEvents(c.Context(), runID, &batch)
	if err != nil {
		return serviceError(c, h.logger, err)
	}

	if result.Rejected > 0 {
		h.logger.Debug("batch ingested with rejections",
			zap.String("run_id", runID.String()),
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Int("accepted", result.Accepted),
			zap.Int("rejected", result.Rejected),
		)
	}

	return c.JSON(result)
}
