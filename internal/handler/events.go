package handler

import (
	"bufio"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/middleware"
	"github.com/stagewatch/stagewatch/internal/service"
)

// EventsHandler handles the live report stream
type EventsHandler struct {
	realtime *service.RealtimeService
	logger   *zap.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(realtime *service.RealtimeService, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		realtime: realtime,
		logger:   logger,
	}
}

// StreamReport handles GET /v1/runs/:runId/events/stream. Subscribers
// receive report.snapshot events on every publish tick and a run.stopped
// event when the run stops; heartbeats keep idle connections open.
func (h *EventsHandler) StreamReport(c *fiber.Ctx) error {
	runID, err := parseRunID(c)
	if err != nil {
		return err
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")
	c.Set("X-Accel-Buffering", "no") // Disable nginx buffering

	sub := h.realtime.Subscribe(c.Context(), runID)

	h.logger.Info("SSE client connected",
		zap.String("run_id", runID.String()),
		zap.String("subscriber_id", sub.ID),
	)
	middleware.RecordStreamOpened(runID.String())

	ctx := c.Context()
	ctx.SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer middleware.RecordStreamClosed(runID.String())

		fmt.Fprintf(w, "event: connected\n")
		fmt.Fprintf(w, "data: {\"subscriberId\":\"%s\"}\n\n", sub.ID)
		w.Flush()

		heartbeat := time.NewTicker(30 * time.Second)
		defer heartbeat.Stop()

		for {
			select {
			case event, ok := <-sub.Channel:
				if !ok {
					return
				}

				data, err := service.FormatSSE(event)
				if err != nil {
					h.logger.Error("failed to format SSE event", zap.Error(err))
					continue
				}

				fmt.Fprintf(w, "event: %s\n", event.Type)
				w.Write(data)
				w.Flush()

			case <-heartbeat.C:
				fmt.Fprintf(w, ": heartbeat\n\n")
				w.Flush()

			case <-sub.Done:
				return

			case <-ctx.Done():
				h.realtime.Unsubscribe(sub.ID)
				return
			}
		}
	}))

	return nil
}

// Subscribers handles GET /v1/runs/:runId/events/subscribers
func (h *EventsHandler) Subscribers(c *fiber.Ctx) error {
	runID, err := parseRunID(c)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"count": h.realtime.GetSubscriberCount(runID),
	})
}
