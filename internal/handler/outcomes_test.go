package handler

import (
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
	"github.com/stagewatch/stagewatch/internal/pkg/pagination"
)

// MockOutcomeLister mocks the outcome warehouse queries
type MockOutcomeLister struct {
	mock.Mock
}

func (m *MockOutcomeLister) List(ctx context.Context, filter *domain.TraceOutcomeFilter, params *pagination.Params) (*pagination.Page[domain.TraceOutcome], error) {
	args := m.Called(ctx, filter, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pagination.Page[domain.TraceOutcome]), args.Error(1)
}

func (m *MockOutcomeLister) GetByTraceID(ctx context.Context, runID uuid.UUID, traceID string) (*domain.TraceOutcome, error) {
	args := m.Called(ctx, runID, traceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TraceOutcome), args.Error(1)
}

func (m *MockOutcomeLister) CountByStatus(ctx context.Context, runID uuid.UUID) (map[domain.TraceStatus]int64, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[domain.TraceStatus]int64), args.Error(1)
}

func setupOutcomesApp(outcomes *MockOutcomeLister) *fiber.App {
	app := fiber.New()
	h := NewOutcomesHandler(outcomes, zap.NewNop())
	app.Get("/v1/runs/:runId/outcomes", h.ListOutcomes)
	app.Get("/v1/runs/:runId/outcomes/counts", h.OutcomeCounts)
	app.Get("/v1/runs/:runId/outcomes/:traceId", h.GetOutcome)
	return app
}

func testOutcome(runID uuid.UUID, traceID string, status domain.TraceStatus) domain.TraceOutcome {
	endToEnd := int64(250)
	return domain.TraceOutcome{
		RunID:          runID,
		TraceID:        traceID,
		Status:         status,
		ArrivalCount:   3,
		StageCount:     3,
		FirstArrivalMs: 1_700_000_000_000,
		LastArrivalMs:  1_700_000_000_250,
		EndToEndMs:     &endToEnd,
		FinalizedAt:    time.Now().UTC().Truncate(time.Second),
	}
}

func TestOutcomesHandler_ListOutcomes(t *testing.T) {
	t.Run("returns a page of outcomes", func(t *testing.T) {
		outcomes := new(MockOutcomeLister)
		app := setupOutcomesApp(outcomes)
		runID := uuid.New()

		page := &pagination.Page[domain.TraceOutcome]{
			Items: []domain.TraceOutcome{
				testOutcome(runID, "trace-001", domain.TraceStatusCompleted),
				testOutcome(runID, "trace-002", domain.TraceStatusTimedOut),
			},
			TotalCount: 2,
		}
		outcomes.On("List", mock.Anything, mock.MatchedBy(func(f *domain.TraceOutcomeFilter) bool {
			return f.RunID == runID && f.Status == nil
		}), mock.Anything).Return(page, nil)

		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/runs/%s/outcomes", runID), nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result pagination.Page[domain.TraceOutcome]
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		require.Len(t, result.Items, 2)
		assert.Equal(t, "trace-001", result.Items[0].TraceID)
		assert.Equal(t, domain.TraceStatusTimedOut, result.Items[1].Status)
		assert.Equal(t, int64(2), result.TotalCount)
	})

	t.Run("filters by terminal status", func(t *testing.T) {
		outcomes := new(MockOutcomeLister)
		app := setupOutcomesApp(outcomes)
		runID := uuid.New()

		outcomes.On("List", mock.Anything, mock.MatchedBy(func(f *domain.TraceOutcomeFilter) bool {
			return f.Status != nil && *f.Status == domain.TraceStatusOutOfOrder
		}), mock.Anything).Return(&pagination.Page[domain.TraceOutcome]{Items: []domain.TraceOutcome{}}, nil)

		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/runs/%s/outcomes?status=out_of_order", runID), nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		outcomes.AssertExpectations(t)
	})

	t.Run("rejects non-terminal status filter", func(t *testing.T) {
		outcomes := new(MockOutcomeLister)
		app := setupOutcomesApp(outcomes)
		runID := uuid.New()

		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/runs/%s/outcomes?status=in_progress", runID), nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		outcomes.AssertNotCalled(t, "List")
	})

	t.Run("rejects unknown status filter", func(t *testing.T) {
		outcomes := new(MockOutcomeLister)
		app := setupOutcomesApp(outcomes)
		runID := uuid.New()

		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/runs/%s/outcomes?status=bogus", runID), nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rejects invalid run id", func(t *testing.T) {
		outcomes := new(MockOutcomeLister)
		app := setupOutcomesApp(outcomes)

		req := httptest.NewRequest(http.MethodGet, "/v1/runs/not-a-uuid/outcomes", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("maps warehouse unavailability to 503", func(t *testing.T) {
		outcomes := new(MockOutcomeLister)
		app := setupOutcomesApp(outcomes)
		runID := uuid.New()

		outcomes.On("List", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, apperrors.Unavailable("outcome store unreachable"))

		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/runs/%s/outcomes", runID), nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}

func TestOutcomesHandler_GetOutcome(t *testing.T) {
	t.Run("returns one outcome", func(t *testing.T) {
		outcomes := new(MockOutcomeLister)
		app := setupOutcomesApp(outcomes)
		runID := uuid.New()

		oc := testOutcome(runID, "trace-007", domain.TraceStatusCompleted)
		outcomes.On("GetByTraceID", mock.Anything, runID, "trace-007").Return(&oc, nil)

		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/runs/%s/outcomes/trace-007", runID), nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result domain.TraceOutcome
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Equal(t, "trace-007", result.TraceID)
		assert.Equal(t, domain.TraceStatusCompleted, result.Status)
		require.NotNil(t, result.EndToEndMs)
		assert.Equal(t, int64(250), *result.EndToEndMs)
	})

	t.Run("unknown trace id is 404", func(t *testing.T) {
		outcomes := new(MockOutcomeLister)
		app := setupOutcomesApp(outcomes)
		runID := uuid.New()

		outcomes.On("GetByTraceID", mock.Anything, runID, "missing").
			Return(nil, apperrors.NotFound("outcome"))

		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/runs/%s/outcomes/missing", runID), nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestOutcomesHandler_OutcomeCounts(t *testing.T) {
	t.Run("returns counts keyed by status", func(t *testing.T) {
		outcomes := new(MockOutcomeLister)
		app := setupOutcomesApp(outcomes)
		runID := uuid.New()

		outcomes.On("CountByStatus", mock.Anything, runID).Return(map[domain.TraceStatus]int64{
			domain.TraceStatusCompleted:  120,
			domain.TraceStatusOutOfOrder: 4,
			domain.TraceStatusTimedOut:   9,
		}, nil)

		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/runs/%s/outcomes/counts", runID), nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result struct {
			RunID  uuid.UUID                    `json:"runId"`
			Counts map[domain.TraceStatus]int64 `json:"counts"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Equal(t, runID, result.RunID)
		assert.Equal(t, int64(120), result.Counts[domain.TraceStatusCompleted])
		assert.Equal(t, int64(9), result.Counts[domain.TraceStatusTimedOut])
	})
}
