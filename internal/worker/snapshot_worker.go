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
)

// TypeReportSnapshot is the task type for report snapshot persistence.
// Engine state is process-local to the API server, so the server takes
// the snapshots and ships them here in the task payload; this worker
// only lands them in the warehouse.
const TypeReportSnapshot = "report:snapshot"

// ReportSnapshotPayload is the payload for report snapshot tasks
type ReportSnapshotPayload struct {
	Snapshots []domain.ReportSnapshot `json:"snapshots"`
}

// NewReportSnapshotTask creates a report snapshot task
func NewReportSnapshotTask(snapshots []domain.ReportSnapshot) (*asynq.Task, error) {
	data, err := json.Marshal(&ReportSnapshotPayload{Snapshots: snapshots})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report snapshot payload: %w", err)
	}
	return asynq.NewTask(TypeReportSnapshot, data, asynq.MaxRetry(5), asynq.Timeout(time.Minute)), nil
}

// SnapshotWorker persists report snapshot batches
type SnapshotWorker struct {
	logger       *zap.Logger
	snapshotRepo *chrepo.SnapshotRepository
}

// NewSnapshotWorker creates a new snapshot worker
func NewSnapshotWorker(logger *zap.Logger, snapshotRepo *chrepo.SnapshotRepository) *SnapshotWorker {
	return &SnapshotWorker{
		logger:       logger,
		snapshotRepo: snapshotRepo,
	}
}

// ProcessTask processes a report snapshot task
func (w *SnapshotWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ReportSnapshotPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal report snapshot payload: %w", err)
	}

	if len(payload.Snapshots) == 0 {
		return nil
	}

	snaps := make([]*domain.ReportSnapshot, len(payload.Snapshots))
	for i := range payload.Snapshots {
		snaps[i] = &payload.Snapshots[i]
	}

	if err := w.snapshotRepo.InsertBatch(ctx, snaps); err != nil {
		return fmt.Errorf("failed to insert report snapshots: %w", err)
	}

	w.logger.Debug("report snapshots persisted",
		zap.Int("count", len(snaps)),
	)

	return nil
}
