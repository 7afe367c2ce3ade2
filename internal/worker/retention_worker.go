package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/domain"
	chrepo "github.com/stagewatch/stagewatch/internal/repository/clickhouse"
	pgrepo "github.com/stagewatch/stagewatch/internal/repository/postgres"
)

// TypeRetentionPurge is the task type for scheduled data retention
const TypeRetentionPurge = "retention:purge"

// RetentionPurgePayload is the payload for retention purge tasks
type RetentionPurgePayload struct {
	// Days overrides the configured retention window when positive
	Days   int  `json:"days,omitempty"`
	DryRun bool `json:"dry_run"`
}

// NewRetentionPurgeTask creates a retention purge task
func NewRetentionPurgeTask(payload *RetentionPurgePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal retention purge payload: %w", err)
	}
	return asynq.NewTask(TypeRetentionPurge, data, asynq.MaxRetry(2), asynq.Timeout(30*time.Minute)), nil
}

// RetentionWorker deletes warehouse rows, audit entries and stopped
// runs older than the retention window. Active runs are never touched.
type RetentionWorker struct {
	logger        *zap.Logger
	retentionDays int
	runRepo       *pgrepo.RunRepository
	auditRepo     *pgrepo.AuditRepository
	outcomeRepo   *chrepo.OutcomeRepository
	snapshotRepo  *chrepo.SnapshotRepository
}

// NewRetentionWorker creates a new retention worker
func NewRetentionWorker(
	logger *zap.Logger,
	retentionDays int,
	runRepo *pgrepo.RunRepository,
	auditRepo *pgrepo.AuditRepository,
	outcomeRepo *chrepo.OutcomeRepository,
	snapshotRepo *chrepo.SnapshotRepository,
) *RetentionWorker {
	return &RetentionWorker{
		logger:        logger,
		retentionDays: retentionDays,
		runRepo:       runRepo,
		auditRepo:     auditRepo,
		outcomeRepo:   outcomeRepo,
		snapshotRepo:  snapshotRepo,
	}
}

// ProcessTask processes a retention purge task
func (w *RetentionWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload RetentionPurgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal retention purge payload: %w", err)
	}

	days := w.retentionDays
	if payload.Days > 0 {
		days = payload.Days
	}
	if days <= 0 {
		w.logger.Warn("retention purge skipped, no retention window configured")
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -days)

	w.logger.Info("processing retention purge",
		zap.Time("cutoff", cutoff),
		zap.Int("days", days),
		zap.Bool("dry_run", payload.DryRun),
	)

	if payload.DryRun {
		return nil
	}

	// Warehouse first: a stopped run whose row deletion fails below can
	// be retried without re-orphaning outcomes.
	if err := w.outcomeRepo.DeleteBefore(ctx, cutoff); err != nil {
		return fmt.Errorf("failed to purge outcomes: %w", err)
	}
	if err := w.snapshotRepo.DeleteBefore(ctx, cutoff); err != nil {
		return fmt.Errorf("failed to purge snapshots: %w", err)
	}

	runs, err := w.runRepo.DeleteStoppedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge stopped runs: %w", err)
	}

	auditRows, err := w.auditRepo.DeleteAuditLogsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge audit logs: %w", err)
	}

	if _, err := w.auditRepo.CreateAuditLog(ctx, &domain.AuditLogInput{
		Actor:        "system",
		Action:       domain.AuditActionRetentionPurge,
		ResourceType: domain.AuditResourceRetention,
		Description:  fmt.Sprintf("Purged data older than %s", cutoff.UTC().Format(time.RFC3339)),
		Metadata: map[string]any{
			"cutoff":      cutoff.UTC().Format(time.RFC3339),
			"runsDeleted": runs,
			"auditRows":   auditRows,
		},
	}); err != nil {
		w.logger.Warn("failed to record purge in audit log", zap.Error(err))
	}

	w.logger.Info("retention purge completed",
		zap.Int64("runs_deleted", runs),
		zap.Int64("audit_rows_deleted", auditRows),
	)

	return nil
}
