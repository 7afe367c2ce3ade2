package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/domain"
	"github.com/stagewatch/stagewatch/internal/validator"
	"github.com/stagewatch/stagewatch/internal/worker"
)

// RunProvider looks up runs for export validation
type RunProvider interface {
	GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)
}

// ExportAuditor records export requests in the audit trail
type ExportAuditor interface {
	LogExportRequested(ctx context.Context, actor string, runID uuid.UUID, format domain.ExportFormat) error
}

// ExportHandler enqueues report export jobs
type ExportHandler struct {
	asynqClient *asynq.Client
	exportQueue string
	runs        RunProvider
	audit       ExportAuditor
	logger      *zap.Logger
}

// NewExportHandler creates a new export handler. Exports go onto
// exportQueue, which must match the worker server's queue config.
func NewExportHandler(asynqClient *asynq.Client, exportQueue string, runs RunProvider, audit ExportAuditor, logger *zap.Logger) *ExportHandler {
	return &ExportHandler{
		asynqClient: asynqClient,
		exportQueue: exportQueue,
		runs:        runs,
		audit:       audit,
		logger:      logger,
	}
}

// ExportResponse represents an export job response
type ExportResponse struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
	RunID  string `json:"runId"`
	Format string `json:"format"`
}

// RequestExport handles POST /v1/runs/:runId/export. The export runs in
// the background worker; the artifact lands in object storage under
// exports/<runID>/.
func (h *ExportHandler) RequestExport(c *fiber.Ctx) error {
	runID, err := parseRunID(c)
	if err != nil {
		return err
	}

	var request domain.ExportRequest
	if err := c.BodyParser(&request); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if request.Format == "" {
		request.Format = domain.ExportFormatJSON
	}
	if err := validator.Validate(&request); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid format. Valid formats: json, csv")
	}

	// The run must exist; exporting a stopped run is fine.
	if _, err := h.runs.GetRun(c.Context(), runID); err != nil {
		return serviceError(c, h.logger, err)
	}

	if h.asynqClient == nil {
		return errorResponse(c, fiber.StatusServiceUnavailable, "Export queue unavailable")
	}

	actor := actorFromContext(c)
	payload := &worker.ReportExportPayload{
		RunID:       runID,
		Format:      request.Format,
		RequestedBy: actor,
	}

	info, err := worker.EnqueueReportExport(h.asynqClient, h.exportQueue, payload)
	if err != nil {
		h.logger.Error("failed to enqueue export",
			zap.String("run_id", runID.String()),
			zap.Error(err),
		)
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to enqueue export")
	}

	if h.audit != nil {
		if err := h.audit.LogExportRequested(c.Context(), actor, runID, request.Format); err != nil {
			h.logger.Warn("failed to audit export request", zap.Error(err))
		}
	}

	h.logger.Info("export enqueued",
		zap.String("run_id", runID.String()),
		zap.String("task_id", info.ID),
		zap.String("format", string(request.Format)),
	)

	return c.Status(fiber.StatusAccepted).JSON(ExportResponse{
		TaskID: info.ID,
		Status: "queued",
		RunID:  runID.String(),
		Format: string(request.Format),
	})
}
