package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/domain"
	apperrors "github.com/stagewatch/stagewatch/internal/pkg/errors"
)

// MockRunProvider mocks run lookups for export validation
type MockRunProvider struct {
	mock.Mock
}

func (m *MockRunProvider) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Run), args.Error(1)
}

// setupExportApp wires the handler without an asynq client; enqueue
// paths need a live redis and are covered by the e2e suite.
func setupExportApp(runs *MockRunProvider) *fiber.App {
	app := fiber.New()
	h := NewExportHandler(nil, "low", runs, nil, zap.NewNop())
	app.Post("/v1/runs/:runId/export", h.RequestExport)
	return app
}

func exportRun(id uuid.UUID) *domain.Run {
	return &domain.Run{
		ID:              id,
		Name:            "checkout-pipeline",
		Stages:          []string{"ingest", "transform", "sink"},
		StageDeadlineMs: 30000,
		Status:          domain.RunStatusStopped,
		CreatedAt:       time.Now().UTC(),
	}
}

func TestExportHandler_RequestExport(t *testing.T) {
	t.Run("returns 404 for unknown run", func(t *testing.T) {
		runs := new(MockRunProvider)
		app := setupExportApp(runs)
		runID := uuid.New()

		runs.On("GetRun", mock.Anything, runID).Return(nil, apperrors.NotFound("Run not found"))

		body, _ := json.Marshal(domain.ExportRequest{Format: domain.ExportFormatJSON})
		req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/v1/runs/%s/export", runID), bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		runs := new(MockRunProvider)
		app := setupExportApp(runs)
		runID := uuid.New()

		body, _ := json.Marshal(map[string]string{"format": "xml"})
		req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/v1/runs/%s/export", runID), bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		runs.AssertNotCalled(t, "GetRun")

		var errResp ErrorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
		assert.Contains(t, errResp.Message, "json, csv")
	})

	t.Run("rejects invalid run id", func(t *testing.T) {
		runs := new(MockRunProvider)
		app := setupExportApp(runs)

		req := httptest.NewRequest(http.MethodPost, "/v1/runs/not-a-uuid/export", bytes.NewReader([]byte("{}")))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("returns 503 when the queue is unavailable", func(t *testing.T) {
		runs := new(MockRunProvider)
		app := setupExportApp(runs)
		runID := uuid.New()

		runs.On("GetRun", mock.Anything, runID).Return(exportRun(runID), nil)

		// Format defaults to json when the body omits it.
		req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/v1/runs/%s/export", runID), bytes.NewReader([]byte("{}")))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}
