package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stagewatch/stagewatch/internal/domain"
	"github.com/stagewatch/stagewatch/internal/pkg/database"
	apperrors "github.com/stagewatch/stagewatch/internal/pkg/errors"
	"github.com/stagewatch/stagewatch/internal/pkg/pagination"
)

// OutcomeRepository handles finalized trace outcomes in ClickHouse.
// Writes arrive in batches from the archiver; reads serve the outcome
// listing and export endpoints.
type OutcomeRepository struct {
	db *database.ClickHouseDB
}

// NewOutcomeRepository creates a new outcome repository
func NewOutcomeRepository(db *database.ClickHouseDB) *OutcomeRepository {
	return &OutcomeRepository{db: db}
}

// InsertBatch inserts a batch of finalized outcomes
func (r *OutcomeRepository) InsertBatch(ctx context.Context, outcomes []*domain.TraceOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	batch, err := r.db.PrepareBatch(ctx, `
		INSERT INTO trace_outcomes (
			run_id, trace_id, status, out_of_order, duplicate_arrivals,
			arrival_count, stage_count, first_arrival_ms, last_arrival_ms,
			end_to_end_ms, finalized_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, oc := range outcomes {
		if err := batch.Append(
			oc.RunID,
			oc.TraceID,
			string(oc.Status),
			oc.OutOfOrder,
			oc.DuplicateArrivals,
			oc.ArrivalCount,
			oc.StageCount,
			oc.FirstArrivalMs,
			oc.LastArrivalMs,
			oc.EndToEndMs,
			oc.FinalizedAt,
		); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	return batch.Send()
}

// GetByTraceID retrieves one finalized outcome
func (r *OutcomeRepository) GetByTraceID(ctx context.Context, runID uuid.UUID, traceID string) (*domain.TraceOutcome, error) {
	query := `
		SELECT
			run_id, trace_id, status, out_of_order, duplicate_arrivals,
			arrival_count, stage_count, first_arrival_ms, last_arrival_ms,
			end_to_end_ms, finalized_at
		FROM trace_outcomes
		WHERE run_id = ? AND trace_id = ?
		ORDER BY finalized_at DESC
		LIMIT 1
	`

	var oc domain.TraceOutcome
	row := r.db.QueryRow(ctx, query, runID, traceID)
	err := row.Scan(
		&oc.RunID,
		&oc.TraceID,
		&oc.Status,
		&oc.OutOfOrder,
		&oc.DuplicateArrivals,
		&oc.ArrivalCount,
		&oc.StageCount,
		&oc.FirstArrivalMs,
		&oc.LastArrivalMs,
		&oc.EndToEndMs,
		&oc.FinalizedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("outcome")
		}
		return nil, err
	}

	return &oc, nil
}

// List retrieves outcomes for a run, newest first, with cursor
// pagination on (finalized_at, trace_id).
func (r *OutcomeRepository) List(ctx context.Context, filter *domain.TraceOutcomeFilter, params *pagination.Params) (*pagination.Page[domain.TraceOutcome], error) {
	conditions := []string{"run_id = ?"}
	args := []interface{}{filter.RunID}

	if filter.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, string(*filter.Status))
	}

	whereClause := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT count() FROM trace_outcomes WHERE %s", whereClause)
	var totalCount uint64
	row := r.db.QueryRow(ctx, countQuery, args...)
	if err := row.Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}

	if params.Cursor != nil {
		conditions = append(conditions, "(finalized_at, trace_id) < (?, ?)")
		args = append(args, params.Cursor.Timestamp, params.Cursor.ID)
		whereClause = strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT
			run_id, trace_id, status, out_of_order, duplicate_arrivals,
			arrival_count, stage_count, first_arrival_ms, last_arrival_ms,
			end_to_end_ms, finalized_at
		FROM trace_outcomes
		WHERE %s
		ORDER BY finalized_at DESC, trace_id DESC
		LIMIT ?
	`, whereClause)

	args = append(args, params.Limit+1)

	var outcomes []domain.TraceOutcome
	if err := r.db.Select(ctx, &outcomes, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select outcomes: %w", err)
	}

	page := pagination.NewPage(outcomes, params.Limit, func(oc domain.TraceOutcome) *pagination.Cursor {
		return pagination.NewCursor(oc.TraceID, oc.FinalizedAt)
	}, int64(totalCount))

	return page, nil
}

// CountByStatus returns outcome counts per terminal status for a run
func (r *OutcomeRepository) CountByStatus(ctx context.Context, runID uuid.UUID) (map[domain.TraceStatus]int64, error) {
	query := `
		SELECT status, count() as count
		FROM trace_outcomes
		WHERE run_id = ?
		GROUP BY status
	`

	rows, err := r.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.TraceStatus]int64)
	for rows.Next() {
		var status string
		var count uint64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[domain.TraceStatus(status)] = int64(count)
	}

	return counts, nil
}

// DeleteByRun removes all outcomes of a run.
// Note: ClickHouse ALTER TABLE DELETE is a heavy async mutation, use with caution
func (r *OutcomeRepository) DeleteByRun(ctx context.Context, runID uuid.UUID) error {
	query := `ALTER TABLE trace_outcomes DELETE WHERE run_id = ?`
	return r.db.Exec(ctx, query, runID)
}

// DeleteBefore removes outcomes finalized before the cutoff. Retention
// worker entry point.
func (r *OutcomeRepository) DeleteBefore(ctx context.Context, cutoff time.Time) error {
	query := `ALTER TABLE trace_outcomes DELETE WHERE finalized_at < ?`
	return r.db.Exec(ctx, query, cutoff)
}
