package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/config"
	"github.com/stagewatch/stagewatch/internal/domain"
	apperrors "github.com/stagewatch/stagewatch/internal/pkg/errors"
	"github.com/stagewatch/stagewatch/internal/pkg/pagination"
)

// MockRunRepository is a mock implementation of RunRepository
type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) Create(ctx context.Context, run *domain.Run, key *domain.IngestKey) error {
	args := m.Called(ctx, run, key)
	return args.Error(0)
}

func (m *MockRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Run), args.Error(1)
}

func (m *MockRunRepository) List(ctx context.Context, filter *domain.RunFilter, params *pagination.Params) (*pagination.Page[domain.Run], error) {
	args := m.Called(ctx, filter, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pagination.Page[domain.Run]), args.Error(1)
}

func (m *MockRunRepository) ListActive(ctx context.Context) ([]domain.Run, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Run), args.Error(1)
}

func (m *MockRunRepository) Stop(ctx context.Context, id uuid.UUID, completedTotal, timedOutTotal int64) (*domain.Run, error) {
	args := m.Called(ctx, id, completedTotal, timedOutTotal)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Run), args.Error(1)
}

func (m *MockRunRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockSnapshotReader is a mock implementation of SnapshotReader
type MockSnapshotReader struct {
	mock.Mock
}

func (m *MockSnapshotReader) LatestByRun(ctx context.Context, runID uuid.UUID) (*domain.ReportSnapshot, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReportSnapshot), args.Error(1)
}

// MockOutcomePurger is a mock implementation of OutcomePurger
type MockOutcomePurger struct {
	mock.Mock
	called chan uuid.UUID
}

func NewMockOutcomePurger() *MockOutcomePurger {
	return &MockOutcomePurger{called: make(chan uuid.UUID, 1)}
}

func (m *MockOutcomePurger) DeleteByRun(ctx context.Context, runID uuid.UUID) error {
	args := m.Called(ctx, runID)
	m.called <- runID
	return args.Error(0)
}

func runServiceTestConfig() *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{
			// Long intervals so background sweeps never fire mid-test
			SweepIntervalMs:      3_600_000,
			TombstoneRetentionMs: 3_600_000,
			MaxEventBatch:        1000,
		},
	}
}

func newTestRunService(repo RunRepository) *RunService {
	cfg := runServiceTestConfig()
	auth := NewAuthService(cfg, nil, nil)
	return NewRunService(cfg, repo, auth, zap.NewNop())
}

func createTestRun(t *testing.T, svc *RunService, repo *MockRunRepository, stages []string) *domain.RunCreateResult {
	t.Helper()

	repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Run"), mock.AnythingOfType("*domain.IngestKey")).Return(nil).Once()

	result, err := svc.CreateRun(context.Background(), &domain.RunInput{
		Name:            "checkout-pipeline",
		Stages:          stages,
		StageDeadlineMs: 60_000,
	}, "ops@example.com")
	require.NoError(t, err)
	return result
}

func TestRunService_CreateRun(t *testing.T) {
	t.Run("creates run with engine and ingest key", func(t *testing.T) {
		repo := new(MockRunRepository)
		svc := newTestRunService(repo)
		defer svc.Shutdown()

		result := createTestRun(t, svc, repo, []string{"ingest", "parse", "publish"})

		assert.Equal(t, "checkout-pipeline", result.Run.Name)
		assert.Equal(t, []string{"ingest", "parse", "publish"}, result.Run.Stages)
		assert.Equal(t, domain.RunStatusActive, result.Run.Status)
		assert.NotEqual(t, uuid.Nil, result.Run.ID)

		assert.Contains(t, result.IngestKey.PublicKey, "swk-pub-")
		assert.Contains(t, result.SecretKey, "swk-sec-")
		assert.Equal(t, result.Run.ID, result.IngestKey.RunID)

		_, ok := svc.EngineFor(result.Run.ID)
		assert.True(t, ok, "engine should be live after create")

		repo.AssertExpectations(t)
	})

	t.Run("rejects duplicate stage names", func(t *testing.T) {
		repo := new(MockRunRepository)
		svc := newTestRunService(repo)
		defer svc.Shutdown()

		_, err := svc.CreateRun(context.Background(), &domain.RunInput{
			Name:            "bad",
			Stages:          []string{"ingest", "ingest"},
			StageDeadlineMs: 60_000,
		}, "ops@example.com")

		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
		repo.AssertNotCalled(t, "Create")
	})

	t.Run("applies config defaults for sweep interval", func(t *testing.T) {
		repo := new(MockRunRepository)
		svc := newTestRunService(repo)
		defer svc.Shutdown()

		result := createTestRun(t, svc, repo, []string{"a", "b"})
		assert.Equal(t, int64(3_600_000), result.Run.SweepIntervalMs)
	})
}

func TestRunService_RecordEvents(t *testing.T) {
	t.Run("records batch with per-item results", func(t *testing.T) {
		repo := new(MockRunRepository)
		svc := newTestRunService(repo)
		defer svc.Shutdown()

		result := createTestRun(t, svc, repo, []string{"ingest", "parse"})
		runID := result.Run.ID

		base := time.Now().UnixMilli()
		batch := &domain.StageEventBatch{Events: []domain.StageEvent{
			{TraceID: "t1", Stage: "ingest", TimestampMs: base},
			{TraceID: "t1", Stage: "parse", TimestampMs: base + 40},
			{TraceID: "t2", Stage: "ingest", TimestampMs: base},
			{TraceID: "t2", Stage: "ingest", TimestampMs: base + 5},
			{TraceID: "t3", Stage: "warp", TimestampMs: base},
		}}

		res, err := svc.RecordEvents(context.Background(), runID, batch)
		require.NoError(t, err)

		assert.Equal(t, 4, res.Accepted)
		assert.Equal(t, 1, res.Rejected)
		require.Len(t, res.Results, 5)

		assert.Equal(t, domain.RecordResultCreated, res.Results[0].Result)
		assert.Equal(t, domain.RecordResultFinalized, res.Results[1].Result)
		assert.Equal(t, domain.RecordResultCreated, res.Results[2].Result)
		assert.Equal(t, domain.RecordResultDuplicateArrival, res.Results[3].Result)
		assert.NotEmpty(t, res.Results[4].Error)
		assert.Equal(t, 4, res.Results[4].Index)
	})

	t.Run("out of order arrivals are recorded and flagged", func(t *testing.T) {
		repo := new(MockRunRepository)
		svc := newTestRunService(repo)
		defer svc.Shutdown()

		result := createTestRun(t, svc, repo, []string{"ingest", "parse", "publish"})
		runID := result.Run.ID

		base := time.Now().UnixMilli()
		res, err := svc.RecordEvents(context.Background(), runID, &domain.StageEventBatch{Events: []domain.StageEvent{
			{TraceID: "t1", Stage: "parse", TimestampMs: base + 40},
			{TraceID: "t1", Stage: "ingest", TimestampMs: base},
			{TraceID: "t1", Stage: "publish", TimestampMs: base + 90},
		}})
		require.NoError(t, err)

		assert.Equal(t, domain.RecordResultCreated, res.Results[0].Result)
		assert.Equal(t, domain.RecordResultOutOfOrderRecorded, res.Results[1].Result)
		assert.Equal(t, domain.RecordResultFinalized, res.Results[2].Result)

		report, err := svc.Report(context.Background(), runID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), report.Report.Outcomes.Completed)
		assert.Equal(t, int64(1), report.Report.Outcomes.OutOfOrder)
	})

	t.Run("rejects batch beyond configured maximum", func(t *testing.T) {
		repo := new(MockRunRepository)
		cfg := runServiceTestConfig()
		cfg.Engine.MaxEventBatch = 2
		auth := NewAuthService(cfg, nil, nil)
		svc := NewRunService(cfg, repo, auth, zap.NewNop())
		defer svc.Shutdown()

		result := createTestRun(t, svc, repo, []string{"a", "b"})

		base := time.Now().UnixMilli()
		_, err := svc.RecordEvents(context.Background(), result.Run.ID, &domain.StageEventBatch{Events: []domain.StageEvent{
			{TraceID: "t1", Stage: "a", TimestampMs: base},
			{TraceID: "t2", Stage: "a", TimestampMs: base},
			{TraceID: "t3", Stage: "a", TimestampMs: base},
		}})

		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("stopped run rejects events", func(t *testing.T) {
		repo := new(MockRunRepository)
		svc := newTestRunService(repo)
		defer svc.Shutdown()

		runID := uuid.New()
		stoppedAt := time.Now()
		repo.On("GetByID", mock.Anything, runID).Return(&domain.Run{
			ID:        runID,
			Status:    domain.RunStatusStopped,
			StoppedAt: &stoppedAt,
		}, nil)

		_, err := svc.RecordEvents(context.Background(), runID, &domain.StageEventBatch{Events: []domain.StageEvent{
			{TraceID: "t1", Stage: "a", TimestampMs: time.Now().UnixMilli()},
		}})

		require.Error(t, err)
		appErr := apperrors.GetAppError(err)
		require.NotNil(t, appErr)
		assert.Equal(t, apperrors.CodeRunStopped, appErr.Code)
	})

	t.Run("unknown run surfaces repository error", func(t *testing.T) {
		repo := new(MockRunRepository)
		svc := newTestRunService(repo)
		defer svc.Shutdown()

		runID := uuid.New()
		repo.On("GetByID", mock.Anything, runID).Return(nil, apperrors.NotFound("run"))

		_, err := svc.RecordEvents(context.Background(), runID, &domain.StageEventBatch{Events: []domain.StageEvent{
			{TraceID: "t1", Stage: "a", TimestampMs: time.Now().UnixMilli()},
		}})

		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestRunService_StopRun(t *testing.T) {
	t.Run("drains in-flight traces and persists totals", func(t *testing.T) {
		repo := new(MockRunRepository)
		svc := newTestRunService(repo)
		defer svc.Shutdown()

		result := createTestRun(t, svc, repo, []string{"ingest", "parse"})
		runID := result.Run.ID

		base := time.Now().UnixMilli()
		_, err := svc.RecordEvents(context.Background(), runID, &domain.StageEventBatch{Events: []domain.StageEvent{
			{TraceID: "done", Stage: "ingest", TimestampMs: base},
			{TraceID: "done", Stage: "parse", TimestampMs: base + 40},
			{TraceID: "stuck", Stage: "ingest", TimestampMs: base},
		}})
		require.NoError(t, err)

		stoppedAt := time.Now()
		repo.On("Stop", mock.Anything, runID, int64(1), int64(1)).Return(&domain.Run{
			ID:             runID,
			Status:         domain.RunStatusStopped,
			StoppedAt:      &stoppedAt,
			CompletedTotal: 1,
			TimedOutTotal:  1,
		}, nil).Once()

		run, err := svc.StopRun(context.Background(), runID, "ops@example.com")
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusStopped, run.Status)

		_, ok := svc.EngineFor(runID)
		assert.False(t, ok, "engine should be gone after stop")

		repo.AssertExpectations(t)
	})

	t.Run("stopping unknown run surfaces repository error", func(t *testing.T) {
		repo := new(MockRunRepository)
		svc := newTestRunService(repo)
		defer svc.Shutdown()

		runID := uuid.New()
		repo.On("Stop", mock.Anything, runID, int64(0), int64(0)).Return(nil, apperrors.NotFound("run"))

		_, err := svc.StopRun(context.Background(), runID, "ops@example.com")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestRunService_Report(t *testing.T) {
	t.Run("live report from engine", func(t *testing.T) {
		repo := new(MockRunRepository)
		svc := newTestRunService(repo)
		defer svc.Shutdown()

		result := createTestRun(t, svc, repo, []string{"ingest", "parse"})
		runID := result.Run.ID

		base := time.Now().UnixMilli()
		_, err := svc.RecordEvents(context.Background(), runID, &domain.StageEventBatch{Events: []domain.StageEvent{
			{TraceID: "t1", Stage: "ingest", TimestampMs: base},
			{TraceID: "t1", Stage: "parse", TimestampMs: base + 25},
			{TraceID: "t2", Stage: "ingest", TimestampMs: base},
		}})
		require.NoError(t, err)

		report, err := svc.Report(context.Background(), runID)
		require.NoError(t, err)

		assert.Equal(t, domain.RunStatusActive, report.Status)
		assert.Equal(t, int64(1), report.InFlight)
		assert.Equal(t, int64(1), report.Report.Outcomes.Completed)

		e2e := report.Report.EndToEnd
		assert.Equal(t, int64(1), e2e.Count)
		assert.Equal(t, int64(25), e2e.MinMs)
		assert.Equal(t, int64(25), e2e.MaxMs)
	})

	t.Run("stopped run report from persisted snapshot", func(t *testing.T) {
		repo := new(MockRunRepository)
		snapshots := new(MockSnapshotReader)
		svc := newTestRunService(repo)
		svc.SetSnapshotReader(snapshots)
		defer svc.Shutdown()

		runID := uuid.New()
		stoppedAt := time.Now()
		repo.On("GetByID", mock.Anything, runID).Return(&domain.Run{
			ID:        runID,
			Name:      "old-run",
			Status:    domain.RunStatusStopped,
			StoppedAt: &stoppedAt,
		}, nil)

		view := domain.ReportView{
			Outcomes: domain.Outcomes{Completed: 42, TimedOut: 3},
		}
		data, err := json.Marshal(view)
		require.NoError(t, err)

		takenAt := time.Now().Add(-time.Minute)
		snapshots.On("LatestByRun", mock.Anything, runID).Return(&domain.ReportSnapshot{
			RunID:      runID,
			InFlight:   5,
			ReportJSON: string(data),
			TakenAt:    takenAt,
		}, nil)

		report, err := svc.Report(context.Background(), runID)
		require.NoError(t, err)

		assert.Equal(t, domain.RunStatusStopped, report.Status)
		assert.Equal(t, "old-run", report.RunName)
		assert.Equal(t, int64(42), report.Report.Outcomes.Completed)
		assert.Equal(t, int64(5), report.InFlight)
		assert.True(t, takenAt.Equal(report.GeneratedAt))
	})

	t.Run("stopped run without snapshot falls back to run totals", func(t *testing.T) {
		repo := new(MockRunRepository)
		snapshots := new(MockSnapshotReader)
		svc := newTestRunService(repo)
		svc.SetSnapshotReader(snapshots)
		defer svc.Shutdown()

		runID := uuid.New()
		repo.On("GetByID", mock.Anything, runID).Return(&domain.Run{
			ID:             runID,
			Status:         domain.RunStatusStopped,
			CompletedTotal: 7,
			TimedOutTotal:  2,
		}, nil)
		snapshots.On("LatestByRun", mock.Anything, runID).Return(nil, apperrors.NotFound("snapshot"))

		report, err := svc.Report(context.Background(), runID)
		require.NoError(t, err)

		assert.Equal(t, int64(7), report.Report.Outcomes.Completed)
		assert.Equal(t, int64(2), report.Report.Outcomes.TimedOut)
	})
}

func TestRunService_DeleteRun(t *testing.T) {
	t.Run("rejects active run", func(t *testing.T) {
		repo := new(MockRunRepository)
		svc := newTestRunService(repo)
		defer svc.Shutdown()

		runID := uuid.New()
		repo.On("GetByID", mock.Anything, runID).Return(&domain.Run{
			ID:     runID,
			Status: domain.RunStatusActive,
		}, nil)

		err := svc.DeleteRun(context.Background(), runID, "ops@example.com")
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))
		repo.AssertNotCalled(t, "Delete")
	})

	t.Run("deletes stopped run and purges archive", func(t *testing.T) {
		repo := new(MockRunRepository)
		purger := NewMockOutcomePurger()
		svc := newTestRunService(repo)
		svc.SetOutcomePurger(purger)
		defer svc.Shutdown()

		runID := uuid.New()
		repo.On("GetByID", mock.Anything, runID).Return(&domain.Run{
			ID:     runID,
			Status: domain.RunStatusStopped,
		}, nil)
		repo.On("Delete", mock.Anything, runID).Return(nil)
		purger.On("DeleteByRun", mock.Anything, runID).Return(nil)

		err := svc.DeleteRun(context.Background(), runID, "ops@example.com")
		require.NoError(t, err)

		select {
		case purged := <-purger.called:
			assert.Equal(t, runID, purged)
		case <-time.After(2 * time.Second):
			t.Fatal("purger was not invoked")
		}

		repo.AssertExpectations(t)
	})
}

func TestRunService_Start(t *testing.T) {
	t.Run("rebuilds engines for active runs", func(t *testing.T) {
		repo := new(MockRunRepository)
		svc := newTestRunService(repo)
		defer svc.Shutdown()

		run1 := domain.Run{
			ID:              uuid.New(),
			Name:            "one",
			Stages:          []string{"a", "b"},
			StageDeadlineMs: 60_000,
			Status:          domain.RunStatusActive,
		}
		run2 := domain.Run{
			ID:              uuid.New(),
			Name:            "two",
			Stages:          []string{"x", "y", "z"},
			StageDeadlineMs: 30_000,
			Status:          domain.RunStatusActive,
		}
		repo.On("ListActive", mock.Anything).Return([]domain.Run{run1, run2}, nil)

		require.NoError(t, svc.Start(context.Background()))

		_, ok := svc.EngineFor(run1.ID)
		assert.True(t, ok)
		_, ok = svc.EngineFor(run2.ID)
		assert.True(t, ok)
		assert.Len(t, svc.ActiveRunIDs(), 2)
	})

	t.Run("skips runs with corrupt pipelines", func(t *testing.T) {
		repo := new(MockRunRepository)
		svc := newTestRunService(repo)
		defer svc.Shutdown()

		bad := domain.Run{
			ID:              uuid.New(),
			Name:            "bad",
			Stages:          []string{"a", "a"},
			StageDeadlineMs: 60_000,
			Status:          domain.RunStatusActive,
		}
		repo.On("ListActive", mock.Anything).Return([]domain.Run{bad}, nil)

		require.NoError(t, svc.Start(context.Background()))
		assert.Empty(t, svc.ActiveRunIDs())
	})
}
