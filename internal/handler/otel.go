package handler

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/domain"
	"github.com/stagewatch/stagewatch/internal/middleware"
)

// OTelHandler receives OTLP/HTTP JSON trace exports and maps each span
// to one stage arrival: the span name (or the stagewatch.stage
// attribute) is the stage, the span end timestamp is the arrival time.
type OTelHandler struct {
	recorder EventRecorder
	logger   *zap.Logger
}

// NewOTelHandler creates a new OTel handler
func NewOTelHandler(recorder EventRecorder, logger *zap.Logger) *OTelHandler {
	return &OTelHandler{
		recorder: recorder,
		logger:   logger,
	}
}

// ReceiveTraces handles POST /v1/traces. Spans that cannot be mapped are
// counted in the OTLP partial success response; they never fail the
// export. Spans may target different runs in one export when their
// resources carry distinct stagewatch.run.id attributes, unless an
// ingest key scoped the request to a single run.
func (h *OTelHandler) ReceiveTraces(c *fiber.Ctx) error {
	var request domain.OTelExportRequest
	if err := c.BodyParser(&request); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid OTLP request body")
	}

	headerRunID := c.Get(middleware.HeaderRunID)

	// An ingest key binds the whole export to its run; operator tokens
	// may fan out across runs.
	var boundRunID uuid.UUID
	var bound bool
	if authType, ok := middleware.GetAuthType(c); ok && authType == middleware.AuthTypeIngestKey {
		boundRunID, bound = middleware.GetRunID(c)
	}

	var totalSpans int
	var rejected int64
	batches := make(map[uuid.UUID]*domain.StageEventBatch)

	for _, resourceSpans := range request.ResourceSpans {
		runIDAttr := attrString(resourceSpans.Resource.Attributes, domain.OTelAttrRunID)
		if runIDAttr == "" {
			runIDAttr = headerRunID
		}

		runID, err := resolveRunID(runIDAttr, boundRunID, bound)

		for _, scopeSpans := range resourceSpans.ScopeSpans {
			for i := range scopeSpans.Spans {
				span := &scopeSpans.Spans[i]
				totalSpans++

				if err != nil {
					rejected++
					continue
				}

				event, convErr := spanToStageEvent(span)
				if convErr != nil {
					h.logger.Warn("failed to map OTLP span",
						zap.String("span_id", span.SpanID),
						zap.Error(convErr),
					)
					rejected++
					continue
				}

				batch, ok := batches[runID]
				if !ok {
					batch = &domain.StageEventBatch{}
					batches[runID] = batch
				}
				batch.Events = append(batch.Events, *event)
			}
		}
	}

	for runID, batch := range batches {
		result, err := h.recorder.RecordEvents(c.Context(), runID, batch)
		if err != nil {
			rejected += int64(len(batch.Events))
			h.logger.Warn("failed to record OTLP batch",
				zap.String("run_id", runID.String()),
				zap.Error(err),
			)
			continue
		}
		rejected += int64(result.Rejected)
	}

	h.logger.Debug("received OTLP traces",
		zap.Int("total_spans", totalSpans),
		zap.Int64("rejected_spans", rejected),
	)

	response := domain.OTelExportResponse{}
	if rejected > 0 {
		response.PartialSuccess = &domain.OTelExportPartialSuccess{
			RejectedSpans: rejected,
			ErrorMessage:  "Some spans could not be processed",
		}
	}

	return c.JSON(response)
}

// resolveRunID picks the run a resource's spans target. With no run
// named anywhere, an ingest key's bound run is the default.
func resolveRunID(attr string, boundRunID uuid.UUID, bound bool) (uuid.UUID, error) {
	if attr == "" {
		if bound {
			return boundRunID, nil
		}
		return uuid.Nil, fmt.Errorf("no run identified for resource")
	}

	runID, err := uuid.Parse(attr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid run id %q", attr)
	}
	if bound && runID != boundRunID {
		return uuid.Nil, fmt.Errorf("run %s not covered by ingest key", runID)
	}
	return runID, nil
}

// spanToStageEvent maps an OTLP span to a stage arrival
func spanToStageEvent(span *domain.OTelSpan) (*domain.StageEvent, error) {
	stage := attrString(span.Attributes, domain.OTelAttrStage)
	if stage == "" {
		stage = span.Name
	}
	if stage == "" {
		return nil, fmt.Errorf("span has no name or stage attribute")
	}

	if span.TraceID == "" {
		return nil, fmt.Errorf("span has no trace id")
	}

	if span.EndTimeUnixNano <= 0 {
		return nil, fmt.Errorf("span has no end timestamp")
	}

	return &domain.StageEvent{
		TraceID:     span.TraceID,
		Stage:       stage,
		TimestampMs: span.EndTimeUnixNano / int64(1e6),
	}, nil
}

// attrString extracts a string attribute value by key
func attrString(attrs []domain.OTelKeyValue, key string) string {
	for _, kv := range attrs {
		if kv.Key == key && kv.Value.StringValue != nil {
			return *kv.Value.StringValue
		}
	}
	return ""
}
