package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/config"
	"github.com/stagewatch/stagewatch/internal/domain"
	"github.com/stagewatch/stagewatch/internal/service"
	"github.com/stagewatch/stagewatch/internal/testutil"
)

// stubReportSource serves canned reports for the realtime service.
type stubReportSource struct {
	runIDs []uuid.UUID
}

func (s *stubReportSource) ActiveRunIDs() []uuid.UUID {
	return s.runIDs
}

func (s *stubReportSource) Report(_ context.Context, runID uuid.UUID) (*domain.RunReport, error) {
	return testutil.NewTestReport(runID), nil
}

func setupEventsApp(realtime *service.RealtimeService) *fiber.App {
	app := fiber.New()
	h := NewEventsHandler(realtime, zap.NewNop())
	app.Get("/v1/runs/:runId/events/subscribers", h.Subscribers)
	return app
}

func TestEventsHandler_Subscribers(t *testing.T) {
	t.Run("counts subscribers of the requested run only", func(t *testing.T) {
		runA := uuid.New()
		runB := uuid.New()
		realtime := service.NewRealtimeService(config.RealtimeConfig{}, &stubReportSource{runIDs: []uuid.UUID{runA, runB}}, zap.NewNop())
		app := setupEventsApp(realtime)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		realtime.Subscribe(ctx, runA)
		realtime.Subscribe(ctx, runA)
		realtime.Subscribe(ctx, runB)

		req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+runA.String()+"/events/subscribers", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Equal(t, 2, result.Count)
	})

	t.Run("reports zero for a run nobody watches", func(t *testing.T) {
		realtime := service.NewRealtimeService(config.RealtimeConfig{}, &stubReportSource{}, zap.NewNop())
		app := setupEventsApp(realtime)

		req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+uuid.New().String()+"/events/subscribers", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Equal(t, 0, result.Count)
	})

	t.Run("rejects invalid run id", func(t *testing.T) {
		realtime := service.NewRealtimeService(config.RealtimeConfig{}, &stubReportSource{}, zap.NewNop())
		app := setupEventsApp(realtime)

		req := httptest.NewRequest(http.MethodGet, "/v1/runs/not-a-uuid/events/subscribers", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
