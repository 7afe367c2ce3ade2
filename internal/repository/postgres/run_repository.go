package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stagewatch/stagewatch/internal/domain"
	"github.com/stagewatch/stagewatch/internal/pkg/database"
	apperrors "github.com/stagewatch/stagewatch/internal/pkg/errors"
	"github.com/stagewatch/stagewatch/internal/pkg/pagination"
)

// RunRepository handles run data operations in PostgreSQL
type RunRepository struct {
	db *database.PostgresDB
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *database.PostgresDB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a run together with its initial ingest key in one
// transaction, so a run never exists without a usable key.
func (r *RunRepository) Create(ctx context.Context, run *domain.Run, key *domain.IngestKey) error {
	return database.Transaction(ctx, r.db, func(tx pgx.Tx) error {
		runQuery := `
			INSERT INTO runs (id, name, stages, stage_deadline_ms, sweep_interval_ms, histogram_buckets_ms, status, created_at, completed_total, timed_out_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`

		_, err := tx.Exec(ctx, runQuery,
			run.ID,
			run.Name,
			run.Stages,
			run.StageDeadlineMs,
			run.SweepIntervalMs,
			run.HistogramBucketsMs,
			run.Status,
			run.CreatedAt,
			run.CompletedTotal,
			run.TimedOutTotal,
		)
		if err != nil {
			return fmt.Errorf("failed to create run: %w", err)
		}

		keyQuery := `
			INSERT INTO run_ingest_keys (id, run_id, public_key, secret_key_hash, secret_key_preview, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`

		_, err = tx.Exec(ctx, keyQuery,
			key.ID,
			key.RunID,
			key.PublicKey,
			key.SecretKeyHash,
			key.SecretKeyPreview,
			key.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create ingest key: %w", err)
		}

		return nil
	})
}

// GetByID retrieves a run by ID
func (r *RunRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `
		SELECT id, name, stages, stage_deadline_ms, sweep_interval_ms, histogram_buckets_ms, status, created_at, stopped_at, completed_total, timed_out_total
		FROM runs
		WHERE id = $1
	`

	var run domain.Run
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&run.ID,
		&run.Name,
		&run.Stages,
		&run.StageDeadlineMs,
		&run.SweepIntervalMs,
		&run.HistogramBucketsMs,
		&run.Status,
		&run.CreatedAt,
		&run.StoppedAt,
		&run.CompletedTotal,
		&run.TimedOutTotal,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("run")
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return &run, nil
}

// List retrieves runs newest first with cursor pagination
func (r *RunRepository) List(ctx context.Context, filter *domain.RunFilter, params *pagination.Params) (*pagination.Page[domain.Run], error) {
	conditions := ""
	args := []interface{}{}
	argNum := 1

	if filter != nil && filter.Status != nil {
		conditions = fmt.Sprintf("WHERE status = $%d", argNum)
		args = append(args, *filter.Status)
		argNum++
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM runs %s", conditions)
	var totalCount int64
	if err := r.db.Pool.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}

	if params.Cursor != nil {
		kw := "WHERE"
		if conditions != "" {
			kw = conditions + " AND"
		}
		conditions = fmt.Sprintf("%s (created_at, id) < ($%d, $%d)", kw, argNum, argNum+1)
		args = append(args, params.Cursor.Timestamp, params.Cursor.ID)
		argNum += 2
	}

	query := fmt.Sprintf(`
		SELECT id, name, stages, stage_deadline_ms, sweep_interval_ms, histogram_buckets_ms, status, created_at, stopped_at, completed_total, timed_out_total
		FROM runs
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d
	`, conditions, argNum)

	args = append(args, params.Limit+1)

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		var run domain.Run
		if err := rows.Scan(
			&run.ID,
			&run.Name,
			&run.Stages,
			&run.StageDeadlineMs,
			&run.SweepIntervalMs,
			&run.HistogramBucketsMs,
			&run.Status,
			&run.CreatedAt,
			&run.StoppedAt,
			&run.CompletedTotal,
			&run.TimedOutTotal,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	page := pagination.NewPage(runs, params.Limit, func(r domain.Run) *pagination.Cursor {
		return pagination.NewCursor(r.ID.String(), r.CreatedAt)
	}, totalCount)

	return page, nil
}

// ListActive retrieves all active runs, oldest first. Used at server
// start to rebuild the in-memory engines.
func (r *RunRepository) ListActive(ctx context.Context) ([]domain.Run, error) {
	query := `
		SELECT id, name, stages, stage_deadline_ms, sweep_interval_ms, histogram_buckets_ms, status, created_at, stopped_at, completed_total, timed_out_total
		FROM runs
		WHERE status = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, domain.RunStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		var run domain.Run
		if err := rows.Scan(
			&run.ID,
			&run.Name,
			&run.Stages,
			&run.StageDeadlineMs,
			&run.SweepIntervalMs,
			&run.HistogramBucketsMs,
			&run.Status,
			&run.CreatedAt,
			&run.StoppedAt,
			&run.CompletedTotal,
			&run.TimedOutTotal,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, nil
}

// Stop marks a run stopped and records its final outcome totals.
// Returns the updated run, or a conflict error if it was already
// stopped.
func (r *RunRepository) Stop(ctx context.Context, id uuid.UUID, completedTotal, timedOutTotal int64) (*domain.Run, error) {
	query := `
		UPDATE runs
		SET status = $2, stopped_at = $3, completed_total = $4, timed_out_total = $5
		WHERE id = $1 AND status = $6
	`

	tag, err := r.db.Pool.Exec(ctx, query,
		id,
		domain.RunStatusStopped,
		time.Now(),
		completedTotal,
		timedOutTotal,
		domain.RunStatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to stop run: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Either missing or already stopped; fetch to tell the two apart.
		run, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, apperrors.Conflict(fmt.Sprintf("run %s is already %s", run.ID, run.Status))
	}

	return r.GetByID(ctx, id)
}

// Delete removes a run and its ingest keys
func (r *RunRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return database.Transaction(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM run_ingest_keys WHERE run_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete ingest keys: %w", err)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM runs WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete run: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperrors.NotFound("run")
		}

		return nil
	})
}

// DeleteStoppedBefore removes stopped runs older than the cutoff and
// returns how many were deleted. Retention worker entry point.
func (r *RunRepository) DeleteStoppedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := database.Transaction(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			DELETE FROM run_ingest_keys
			WHERE run_id IN (SELECT id FROM runs WHERE status = $1 AND stopped_at < $2)
		`, domain.RunStatusStopped, cutoff); err != nil {
			return fmt.Errorf("failed to delete expired ingest keys: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`DELETE FROM runs WHERE status = $1 AND stopped_at < $2`,
			domain.RunStatusStopped, cutoff,
		)
		if err != nil {
			return fmt.Errorf("failed to delete expired runs: %w", err)
		}
		deleted = tag.RowsAffected()

		return nil
	})
	return deleted, err
}

// CreateIngestKey adds an additional ingest key to a run
func (r *RunRepository) CreateIngestKey(ctx context.Context, key *domain.IngestKey) error {
	query := `
		INSERT INTO run_ingest_keys (id, run_id, public_key, secret_key_hash, secret_key_preview, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		key.ID,
		key.RunID,
		key.PublicKey,
		key.SecretKeyHash,
		key.SecretKeyPreview,
		key.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create ingest key: %w", err)
	}

	return nil
}

// GetIngestKeyByPublicKey retrieves an ingest key by its public part
func (r *RunRepository) GetIngestKeyByPublicKey(ctx context.Context, publicKey string) (*domain.IngestKey, error) {
	query := `
		SELECT id, run_id, public_key, secret_key_hash, secret_key_preview, last_used_at, created_at
		FROM run_ingest_keys
		WHERE public_key = $1
	`

	var key domain.IngestKey
	err := r.db.Pool.QueryRow(ctx, query, publicKey).Scan(
		&key.ID,
		&key.RunID,
		&key.PublicKey,
		&key.SecretKeyHash,
		&key.SecretKeyPreview,
		&key.LastUsedAt,
		&key.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("ingest key")
		}
		return nil, fmt.Errorf("failed to get ingest key: %w", err)
	}

	return &key, nil
}

// ListIngestKeys retrieves the ingest keys of a run
func (r *RunRepository) ListIngestKeys(ctx context.Context, runID uuid.UUID) ([]domain.IngestKey, error) {
	query := `
		SELECT id, run_id, public_key, secret_key_hash, secret_key_preview, last_used_at, created_at
		FROM run_ingest_keys
		WHERE run_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingest keys: %w", err)
	}
	defer rows.Close()

	var keys []domain.IngestKey
	for rows.Next() {
		var key domain.IngestKey
		if err := rows.Scan(
			&key.ID,
			&key.RunID,
			&key.PublicKey,
			&key.SecretKeyHash,
			&key.SecretKeyPreview,
			&key.LastUsedAt,
			&key.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ingest key: %w", err)
		}
		keys = append(keys, key)
	}

	return keys, nil
}

// TouchIngestKey updates the last used timestamp of an ingest key.
// Called from the ingest hot path at most once per cache TTL.
func (r *RunRepository) TouchIngestKey(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE run_ingest_keys SET last_used_at = $2 WHERE id = $1`

	_, err := r.db.Pool.Exec(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to touch ingest key: %w", err)
	}

	return nil
}
