package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/config"
	"github.com/stagewatch/stagewatch/internal/domain"
	"github.com/stagewatch/stagewatch/internal/engine"
	apperrors "github.com/stagewatch/stagewatch/internal/pkg/errors"
	"github.com/stagewatch/stagewatch/internal/pkg/metrics"
	"github.com/stagewatch/stagewatch/internal/pkg/pagination"
)

// RunRepository defines the interface for run persistence operations.
// All methods must be safe for concurrent use.
type RunRepository interface {
	// Create persists a new run together with its first ingest key.
	Create(ctx context.Context, run *domain.Run, key *domain.IngestKey) error
	// GetByID retrieves a run by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	// List returns runs matching the filter with cursor pagination.
	List(ctx context.Context, filter *domain.RunFilter, params *pagination.Params) (*pagination.Page[domain.Run], error)
	// ListActive returns every run still accepting stage events.
	ListActive(ctx context.Context) ([]domain.Run, error)
	// Stop marks a run stopped and records its final outcome totals.
	Stop(ctx context.Context, id uuid.UUID, completedTotal, timedOutTotal int64) (*domain.Run, error)
	// Delete removes a stopped run and its ingest keys.
	Delete(ctx context.Context, id uuid.UUID) error
}

// OutcomePurger removes a run's archived outcomes from the warehouse
type OutcomePurger interface {
	DeleteByRun(ctx context.Context, runID uuid.UUID) error
}

// SnapshotReader retrieves persisted report snapshots for stopped runs
type SnapshotReader interface {
	LatestByRun(ctx context.Context, runID uuid.UUID) (*domain.ReportSnapshot, error)
}

// RunAuditLogger records run lifecycle events in the audit trail
type RunAuditLogger interface {
	LogRunCreated(ctx context.Context, actor string, runID uuid.UUID, name string, stages []string) error
	LogRunStopped(ctx context.Context, actor string, runID uuid.UUID, completed, timedOut int64) error
	LogRunDeleted(ctx context.Context, actor string, runID uuid.UUID) error
}

// RunService owns the correlation engines. It keeps one engine per
// active run, rebuilds them from persisted runs at startup, routes
// stage event batches to the right engine, and drains an engine into
// final outcome totals when its run stops.
//
// The engine map is guarded by a RWMutex: event recording takes the
// read lock, run lifecycle transitions take the write lock. The
// engines themselves handle concurrent Record calls, so the read lock
// is enough for the hot path.
type RunService struct {
	cfg       *config.Config
	runRepo   RunRepository
	auth      *AuthService
	sinks     []engine.OutcomeSink
	purger    OutcomePurger
	snapshots SnapshotReader
	audit     RunAuditLogger
	logger    *zap.Logger

	mu      sync.RWMutex
	engines map[uuid.UUID]*engine.Engine

	// baseCtx parents every engine sweeper; cancelled on Shutdown
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewRunService creates a new RunService. Sinks are attached to every
// engine the service builds, in the order given.
func NewRunService(
	cfg *config.Config,
	runRepo RunRepository,
	auth *AuthService,
	logger *zap.Logger,
	sinks ...engine.OutcomeSink,
) *RunService {
	ctx, cancel := context.WithCancel(context.Background())

	return &RunService{
		cfg:     cfg,
		runRepo: runRepo,
		auth:    auth,
		sinks:   sinks,
		logger:  logger,
		engines: make(map[uuid.UUID]*engine.Engine),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// SetOutcomePurger wires warehouse purging for deleted runs
func (s *RunService) SetOutcomePurger(p OutcomePurger) {
	s.purger = p
}

// SetSnapshotReader wires persisted snapshot lookup for stopped runs
func (s *RunService) SetSnapshotReader(r SnapshotReader) {
	s.snapshots = r
}

// SetAuditLogger wires audit trail logging for run lifecycle events
func (s *RunService) SetAuditLogger(a RunAuditLogger) {
	s.audit = a
}

// Start rebuilds an engine for every active run and, when configured,
// creates the default run. In-flight traces from before a restart are
// gone; only the run definitions survive.
func (s *RunService) Start(ctx context.Context) error {
	runs, err := s.runRepo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active runs: %w", err)
	}

	for i := range runs {
		run := &runs[i]
		if _, err := s.startEngine(run); err != nil {
			s.logger.Error("failed to rebuild engine for run",
				zap.String("run_id", run.ID.String()),
				zap.Error(err))
			continue
		}
	}

	s.logger.Info("run engines rebuilt", zap.Int("count", len(runs)))

	if s.cfg.Engine.DefaultRunEnabled && len(runs) == 0 {
		if err := s.createDefaultRun(ctx); err != nil {
			s.logger.Error("failed to create default run", zap.Error(err))
		}
	}

	return nil
}

// Shutdown stops every engine sweeper. Runs stay active; their engines
// are rebuilt on the next start.
func (s *RunService) Shutdown() {
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, eng := range s.engines {
		eng.Stop()
	}
}

// CreateRun validates the pipeline, persists the run with its first
// ingest key, and starts its engine. The clear secret key is returned
// exactly once.
func (s *RunService) CreateRun(ctx context.Context, input *domain.RunInput, actor string) (*domain.RunCreateResult, error) {
	pipeline, err := domain.NewPipeline(input.Stages)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	run := &domain.Run{
		ID:                 uuid.New(),
		Name:               input.Name,
		Stages:             pipeline.Stages(),
		StageDeadlineMs:    input.StageDeadlineMs,
		SweepIntervalMs:    input.SweepIntervalMs,
		HistogramBucketsMs: input.HistogramBucketsMs,
		Status:             domain.RunStatusActive,
		CreatedAt:          time.Now(),
	}
	if run.SweepIntervalMs <= 0 {
		run.SweepIntervalMs = s.cfg.Engine.SweepIntervalMs
	}
	if len(run.HistogramBucketsMs) == 0 {
		run.HistogramBucketsMs = s.cfg.Engine.HistogramBucketsMs
	}

	key, secret, err := s.auth.MintIngestKey(run.ID)
	if err != nil {
		return nil, err
	}

	if err := s.runRepo.Create(ctx, run, key); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	if _, err := s.startEngine(run); err != nil {
		// The run row exists but no engine does; surface loudly, the
		// operator can stop and recreate the run.
		s.logger.Error("run created but engine start failed",
			zap.String("run_id", run.ID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}

	s.logger.Info("run created",
		zap.String("run_id", run.ID.String()),
		zap.String("name", run.Name),
		zap.Strings("stages", run.Stages),
		zap.Int64("stage_deadline_ms", run.StageDeadlineMs))

	if s.audit != nil {
		go func() {
			_ = s.audit.LogRunCreated(context.Background(), actor, run.ID, run.Name, run.Stages)
		}()
	}

	return &domain.RunCreateResult{
		Run:       run,
		IngestKey: key,
		SecretKey: secret,
	}, nil
}

// GetRun retrieves a run by ID
func (s *RunService) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	run, err := s.runRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns runs matching the filter with cursor pagination
func (s *RunService) ListRuns(ctx context.Context, filter *domain.RunFilter, params *pagination.Params) (*pagination.Page[domain.Run], error) {
	return s.runRepo.List(ctx, filter, params)
}

// StopRun drains the run's engine and persists its final outcome
// totals. Every trace still in flight is finalized as timed out first,
// so completed+timedOut covers every trace the run ever saw. Stopping
// an already stopped run is a conflict.
func (s *RunService) StopRun(ctx context.Context, id uuid.UUID, actor string) (*domain.Run, error) {
	s.mu.Lock()
	eng, ok := s.engines[id]
	if ok {
		delete(s.engines, id)
	}
	s.mu.Unlock()

	var completed, timedOut int64
	if ok {
		eng.Stop()
		drained := eng.Drain()
		if drained > 0 {
			s.logger.Info("stopped run drained",
				zap.String("run_id", id.String()),
				zap.Int("drained", drained))
		}

		view := eng.Snapshot()
		completed = view.Outcomes.Completed
		timedOut = view.Outcomes.TimedOut
	}

	run, err := s.runRepo.Stop(ctx, id, completed, timedOut)
	if err != nil {
		return nil, err
	}

	metrics.SetTracesInFlight(s.inFlightTotal())

	s.logger.Info("run stopped",
		zap.String("run_id", id.String()),
		zap.Int64("completed", completed),
		zap.Int64("timed_out", timedOut))

	if s.audit != nil {
		go func() {
			_ = s.audit.LogRunStopped(context.Background(), actor, id, completed, timedOut)
		}()
	}

	return run, nil
}

// DeleteRun removes a stopped run. Archived outcomes and snapshots are
// purged from the warehouse asynchronously; a failed purge is retried
// by the retention job, not the caller.
func (s *RunService) DeleteRun(ctx context.Context, id uuid.UUID, actor string) error {
	run, err := s.runRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if run.IsActive() {
		return apperrors.Conflict("run must be stopped before deletion").
			WithDetail("status", string(run.Status))
	}

	if err := s.runRepo.Delete(ctx, id); err != nil {
		return err
	}

	if s.purger != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.purger.DeleteByRun(ctx, id); err != nil {
				s.logger.Warn("failed to purge archived outcomes",
					zap.String("run_id", id.String()),
					zap.Error(err))
			}
		}()
	}

	s.logger.Info("run deleted", zap.String("run_id", id.String()))

	if s.audit != nil {
		go func() {
			_ = s.audit.LogRunDeleted(context.Background(), actor, id)
		}()
	}

	return nil
}

// RecordEvents folds a batch of stage events into the run's engine.
// Each event succeeds or fails on its own; the batch result carries a
// per-item verdict and the request only fails when the run itself is
// not accepting events.
func (s *RunService) RecordEvents(ctx context.Context, runID uuid.UUID, batch *domain.StageEventBatch) (*domain.BatchIngestResult, error) {
	if max := s.cfg.Engine.MaxEventBatch; max > 0 && len(batch.Events) > max {
		return nil, apperrors.Validation(fmt.Sprintf("batch exceeds %d events", max))
	}

	s.mu.RLock()
	eng, ok := s.engines[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, s.runGone(ctx, runID)
	}

	result := &domain.BatchIngestResult{
		Results: make([]domain.StageEventResult, 0, len(batch.Events)),
	}

	for i, ev := range batch.Events {
		res, err := eng.Record(ev)
		if err != nil {
			result.Rejected++
			result.Results = append(result.Results, domain.StageEventResult{
				Index:   i,
				TraceID: ev.TraceID,
				Stage:   ev.Stage,
				Error:   err.Error(),
			})
			metrics.RecordStageEvent("rejected")
			continue
		}

		result.Accepted++
		result.Results = append(result.Results, domain.StageEventResult{
			Index:   i,
			TraceID: ev.TraceID,
			Stage:   ev.Stage,
			Result:  res,
		})
		metrics.RecordStageEvent(string(res))
	}

	metrics.SetTracesInFlight(s.inFlightTotal())

	return result, nil
}

// Report returns the run's aggregated report. Active runs report live
// from their engine; stopped runs fall back to the last persisted
// snapshot when one exists.
func (s *RunService) Report(ctx context.Context, runID uuid.UUID) (*domain.RunReport, error) {
	s.mu.RLock()
	eng, ok := s.engines[runID]
	s.mu.RUnlock()

	if ok {
		return &domain.RunReport{
			RunID:       runID,
			Status:      domain.RunStatusActive,
			InFlight:    eng.InFlight(),
			Report:      eng.Snapshot(),
			GeneratedAt: time.Now(),
		}, nil
	}

	run, err := s.runRepo.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	report := &domain.RunReport{
		RunID:       run.ID,
		RunName:     run.Name,
		Status:      run.Status,
		GeneratedAt: time.Now(),
	}

	if s.snapshots != nil {
		snap, err := s.snapshots.LatestByRun(ctx, runID)
		if err == nil && snap != nil {
			var view domain.ReportView
			if err := json.Unmarshal([]byte(snap.ReportJSON), &view); err == nil {
				report.Report = view
				report.InFlight = snap.InFlight
				report.GeneratedAt = snap.TakenAt
				return report, nil
			}
			s.logger.Warn("failed to decode persisted snapshot",
				zap.String("run_id", runID.String()),
				zap.Error(err))
		} else if err != nil && !apperrors.IsNotFound(err) {
			s.logger.Warn("failed to load persisted snapshot",
				zap.String("run_id", runID.String()),
				zap.Error(err))
		}
	}

	// No snapshot survives; the totals on the run row are all we have.
	report.Report.Outcomes = domain.Outcomes{
		Completed: run.CompletedTotal,
		TimedOut:  run.TimedOutTotal,
	}
	return report, nil
}

// EngineFor returns the live engine for a run, if it has one
func (s *RunService) EngineFor(runID uuid.UUID) (*engine.Engine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	eng, ok := s.engines[runID]
	return eng, ok
}

// ActiveRunIDs returns the ids of every run with a live engine
func (s *RunService) ActiveRunIDs() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(s.engines))
	for id := range s.engines {
		ids = append(ids, id)
	}
	return ids
}

// InFlightTotal returns the number of live traces across all engines
func (s *RunService) InFlightTotal() int64 {
	return s.inFlightTotal()
}

// startEngine builds, wires and starts an engine for the run. Caller
// must not hold s.mu.
func (s *RunService) startEngine(run *domain.Run) (*engine.Engine, error) {
	pipeline, err := run.Pipeline()
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline for run %s: %w", run.ID, err)
	}

	sweepInterval := run.SweepIntervalMs
	if sweepInterval <= 0 {
		sweepInterval = s.cfg.Engine.SweepIntervalMs
	}

	eng, err := engine.New(engine.Config{
		RunID:                run.ID,
		Pipeline:             pipeline,
		StageDeadlineMs:      run.StageDeadlineMs,
		SweepIntervalMs:      sweepInterval,
		BucketBoundsMs:       run.HistogramBucketsMs,
		TombstoneRetentionMs: s.cfg.Engine.TombstoneRetentionMs,
		Logger:               s.logger,
	})
	if err != nil {
		return nil, err
	}

	eng.AttachSink(outcomeMetricsSink{})
	for _, sink := range s.sinks {
		eng.AttachSink(sink)
	}

	s.mu.Lock()
	if _, exists := s.engines[run.ID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("engine for run %s already running", run.ID)
	}
	s.engines[run.ID] = eng
	s.mu.Unlock()

	eng.Start(s.baseCtx)
	return eng, nil
}

// createDefaultRun provisions the configured default run and logs its
// ingest key pair once so a fresh deployment can ingest immediately.
func (s *RunService) createDefaultRun(ctx context.Context) error {
	if len(s.cfg.Engine.Stages) == 0 {
		return fmt.Errorf("default run enabled but no stages configured")
	}

	result, err := s.CreateRun(ctx, &domain.RunInput{
		Name:            "default",
		Stages:          s.cfg.Engine.Stages,
		StageDeadlineMs: s.cfg.Engine.StageDeadlineMs,
	}, "system")
	if err != nil {
		return err
	}

	// Logged once at startup; there is no other way to obtain the
	// default run's secret.
	s.logger.Info("default run created",
		zap.String("run_id", result.Run.ID.String()),
		zap.String("public_key", result.IngestKey.PublicKey),
		zap.String("secret_key", result.SecretKey))

	return nil
}

// runGone distinguishes a stopped run from an unknown one for callers
// whose engine lookup missed
func (s *RunService) runGone(ctx context.Context, runID uuid.UUID) error {
	run, err := s.runRepo.GetByID(ctx, runID)
	if err != nil {
		return err
	}
	if !run.IsActive() {
		return apperrors.RunStopped(runID.String())
	}
	// Active in the store but no engine: the process restarted between
	// List and here, or engine start failed at create time.
	return apperrors.Unavailable("run engine not available")
}

func (s *RunService) inFlightTotal() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, eng := range s.engines {
		total += eng.InFlight()
	}
	return total
}

// outcomeMetricsSink exports finalization counters. Attached first so
// metrics reflect every outcome even if a later sink misbehaves.
type outcomeMetricsSink struct{}

func (outcomeMetricsSink) Publish(outcome *domain.TraceOutcome) {
	metrics.RecordTraceFinalized(string(outcome.Status))
	if outcome.OutOfOrder {
		metrics.RecordAnomaly("out_of_order")
	}
}
