package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/domain"
	apperrors "github.com/stagewatch/stagewatch/internal/pkg/errors"
)

// MockEventRecorder mocks batch event recording
type MockEventRecorder struct {
	mock.Mock
}

func (m *MockEventRecorder) RecordEvents(ctx context.Context, runID uuid.UUID, batch *domain.StageEventBatch) (*domain.BatchIngestResult, error) {
	args := m.Called(ctx, runID, batch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BatchIngestResult), args.Error(1)
}

func setupIngestApp(recorder *MockEventRecorder) *fiber.App {
	app := fiber.New()
	h := NewIngestHandler(recorder, zap.NewNop())
	app.Post("/v1/runs/:runId/events", h.RecordEvents)
	return app
}

func postEvents(t *testing.T, app *fiber.App, runID string, batch any) *http.Response {
	t.Helper()
	body, err := json.Marshal(batch)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/runs/"+runID+"/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestIngestHandler_RecordEvents(t *testing.T) {
	t.Run("accepts batch and returns per-item results", func(t *testing.T) {
		recorder := new(MockEventRecorder)
		app := setupIngestApp(recorder)

		runID := uuid.New()
		recorder.On("RecordEvents", mock.Anything, runID, mock.MatchedBy(func(b *domain.StageEventBatch) bool {
			return len(b.Events) == 2
		})).Return(&domain.BatchIngestResult{
			Accepted: 2,
			Results: []domain.StageEventResult{
				{Index: 0, TraceID: "trace-1", Stage: "ingest", Result: domain.RecordResultCreated},
				{Index: 1, TraceID: "trace-1", Stage: "transform", Result: domain.RecordResultUpdated},
			},
		}, nil)

		resp := postEvents(t, app, runID.String(), domain.StageEventBatch{
			Events: []domain.StageEvent{
				{TraceID: "trace-1", Stage: "ingest", TimestampMs: 1000},
				{TraceID: "trace-1", Stage: "transform", TimestampMs: 1400},
			},
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result domain.BatchIngestResult
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Equal(t, 2, result.Accepted)
		assert.Equal(t, domain.RecordResultCreated, result.Results[0].Result)
		recorder.AssertExpectations(t)
	})

	t.Run("rejected items do not fail the batch", func(t *testing.T) {
		recorder := new(MockEventRecorder)
		app := setupIngestApp(recorder)

		runID := uuid.New()
		recorder.On("RecordEvents", mock.Anything, runID, mock.Anything).Return(&domain.BatchIngestResult{
			Accepted: 1,
			Rejected: 1,
			Results: []domain.StageEventResult{
				{Index: 0, TraceID: "trace-1", Stage: "ingest", Result: domain.RecordResultCreated},
				{Index: 1, TraceID: "trace-2", Stage: "archive", Error: "unknown stage \"archive\""},
			},
		}, nil)

		resp := postEvents(t, app, runID.String(), domain.StageEventBatch{
			Events: []domain.StageEvent{
				{TraceID: "trace-1", Stage: "ingest", TimestampMs: 1000},
				{TraceID: "trace-2", Stage: "archive", TimestampMs: 1000},
			},
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result domain.BatchIngestResult
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Equal(t, 1, result.Accepted)
		assert.Equal(t, 1, result.Rejected)
		assert.NotEmpty(t, result.Results[1].Error)
	})

	t.Run("rejects empty batch", func(t *testing.T) {
		recorder := new(MockEventRecorder)
		app := setupIngestApp(recorder)

		resp := postEvents(t, app, uuid.New().String(), domain.StageEventBatch{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		recorder.AssertNotCalled(t, "RecordEvents")
	})

	t.Run("rejects invalid run id", func(t *testing.T) {
		recorder := new(MockEventRecorder)
		app := setupIngestApp(recorder)

		resp := postEvents(t, app, "not-a-uuid", domain.StageEventBatch{
			Events: []domain.StageEvent{{TraceID: "t", Stage: "ingest", TimestampMs: 1}},
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		recorder.AssertNotCalled(t, "RecordEvents")
	})

	t.Run("unknown run maps to 404", func(t *testing.T) {
		recorder := new(MockEventRecorder)
		app := setupIngestApp(recorder)

		runID := uuid.New()
		recorder.On("RecordEvents", mock.Anything, runID, mock.Anything).
			Return(nil, apperrors.NotFound("run"))

		resp := postEvents(t, app, runID.String(), domain.StageEventBatch{
			Events: []domain.StageEvent{{TraceID: "t", Stage: "ingest", TimestampMs: 1}},
		})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("stopped run maps to 409", func(t *testing.T) {
		recorder := new(MockEventRecorder)
		app := setupIngestApp(recorder)

		runID := uuid.New()
		recorder.On("RecordEvents", mock.Anything, runID, mock.Anything).
			Return(nil, apperrors.RunStopped(runID.String()))

		resp := postEvents(t, app, runID.String(), domain.StageEventBatch{
			Events: []domain.StageEvent{{TraceID: "t", Stage: "ingest", TimestampMs: 1}},
		})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)

		var errResp ErrorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
		assert.Equal(t, apperrors.CodeRunStopped, errResp.Error)
	})
}
