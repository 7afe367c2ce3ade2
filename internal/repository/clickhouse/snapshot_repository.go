package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stagewatch/stagewatch/internal/domain"
	"github.com/stagewatch/stagewatch/internal/pkg/database"
	apperrors "github.com/stagewatch/stagewatch/internal/pkg/errors"
)

// SnapshotRepository stores periodic report snapshots in ClickHouse,
// giving stopped runs a queryable history of how their statistics
// evolved while they were live.
type SnapshotRepository struct {
	db *database.ClickHouseDB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *database.ClickHouseDB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Insert stores one report snapshot
func (r *SnapshotRepository) Insert(ctx context.Context, snap *domain.ReportSnapshot) error {
	query := `
		INSERT INTO report_snapshots (run_id, in_flight, report_json, taken_at)
		VALUES (?, ?, ?, ?)
	`

	return r.db.Exec(ctx, query,
		snap.RunID,
		snap.InFlight,
		snap.ReportJSON,
		snap.TakenAt,
	)
}

// InsertBatch stores snapshots for several runs in one round trip
func (r *SnapshotRepository) InsertBatch(ctx context.Context, snaps []*domain.ReportSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	batch, err := r.db.PrepareBatch(ctx, `
		INSERT INTO report_snapshots (run_id, in_flight, report_json, taken_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, snap := range snaps {
		if err := batch.Append(
			snap.RunID,
			snap.InFlight,
			snap.ReportJSON,
			snap.TakenAt,
		); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	return batch.Send()
}

// ListByRun retrieves recent snapshots of a run, newest first
func (r *SnapshotRepository) ListByRun(ctx context.Context, runID uuid.UUID, limit int) ([]domain.ReportSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT run_id, in_flight, report_json, taken_at
		FROM report_snapshots
		WHERE run_id = ?
		ORDER BY taken_at DESC
		LIMIT ?
	`

	var snaps []domain.ReportSnapshot
	if err := r.db.Select(ctx, &snaps, query, runID, limit); err != nil {
		return nil, fmt.Errorf("failed to select snapshots: %w", err)
	}

	return snaps, nil
}

// LatestByRun retrieves the most recent snapshot of a run
func (r *SnapshotRepository) LatestByRun(ctx context.Context, runID uuid.UUID) (*domain.ReportSnapshot, error) {
	query := `
		SELECT run_id, in_flight, report_json, taken_at
		FROM report_snapshots
		WHERE run_id = ?
		ORDER BY taken_at DESC
		LIMIT 1
	`

	var snap domain.ReportSnapshot
	row := r.db.QueryRow(ctx, query, runID)
	if err := row.Scan(&snap.RunID, &snap.InFlight, &snap.ReportJSON, &snap.TakenAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("snapshot")
		}
		return nil, err
	}

	return &snap, nil
}

// DeleteByRun removes all snapshots of a run.
// Note: ClickHouse ALTER TABLE DELETE is a heavy async mutation, use with caution
func (r *SnapshotRepository) DeleteByRun(ctx context.Context, runID uuid.UUID) error {
	query := `ALTER TABLE report_snapshots DELETE WHERE run_id = ?`
	return r.db.Exec(ctx, query, runID)
}

// DeleteBefore removes snapshots taken before the cutoff
func (r *SnapshotRepository) DeleteBefore(ctx context.Context, cutoff time.Time) error {
	query := `ALTER TABLE report_snapshots DELETE WHERE taken_at < ?`
	return r.db.Exec(ctx, query, cutoff)
}
