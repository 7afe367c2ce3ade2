package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stagewatch/stagewatch/internal/domain"
)

// AuditRepository records control-plane actions in PostgreSQL. It uses
// sqlx over lib/pq; the hot data path never touches it.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// CreateAuditLog creates a new audit log entry
func (r *AuditRepository) CreateAuditLog(ctx context.Context, input *domain.AuditLogInput) (*domain.AuditLog, error) {
	id := uuid.New()
	now := time.Now()

	metadataJSON, err := json.Marshal(input.Metadata)
	if err != nil {
		metadataJSON = []byte("{}")
	}

	query := `
		INSERT INTO audit_logs (
			id, actor, action, resource_type, resource_id,
			description, metadata, ip_address, request_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.db.ExecContext(ctx, query,
		id, input.Actor, input.Action, input.ResourceType, input.ResourceID,
		input.Description, metadataJSON, input.IPAddress, input.RequestID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit log: %w", err)
	}

	return &domain.AuditLog{
		ID:           id,
		Actor:        input.Actor,
		Action:       input.Action,
		ResourceType: input.ResourceType,
		ResourceID:   input.ResourceID,
		Description:  input.Description,
		Metadata:     metadataJSON,
		IPAddress:    input.IPAddress,
		RequestID:    input.RequestID,
		CreatedAt:    now,
	}, nil
}

// GetAuditLog retrieves a single audit log entry. Returns nil when the
// entry does not exist.
func (r *AuditRepository) GetAuditLog(ctx context.Context, logID uuid.UUID) (*domain.AuditLog, error) {
	var log domain.AuditLog
	err := r.db.GetContext(ctx, &log, `
		SELECT id, actor, action, resource_type, resource_id,
			description, metadata, ip_address, request_id, created_at
		FROM audit_logs
		WHERE id = $1`, logID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}

	return &log, nil
}

// ListAuditLogs retrieves audit logs with filtering and pagination
func (r *AuditRepository) ListAuditLogs(ctx context.Context, filter *domain.AuditLogFilter) (*domain.AuditLogList, error) {
	var conditions []string
	var args []interface{}
	argNum := 1

	if filter.Actor != nil {
		conditions = append(conditions, fmt.Sprintf("actor = $%d", argNum))
		args = append(args, *filter.Actor)
		argNum++
	}

	if filter.Action != nil {
		conditions = append(conditions, fmt.Sprintf("action = $%d", argNum))
		args = append(args, *filter.Action)
		argNum++
	}

	if filter.ResourceType != nil {
		conditions = append(conditions, fmt.Sprintf("resource_type = $%d", argNum))
		args = append(args, *filter.ResourceType)
		argNum++
	}

	if filter.ResourceID != nil {
		conditions = append(conditions, fmt.Sprintf("resource_id = $%d", argNum))
		args = append(args, *filter.ResourceID)
		argNum++
	}

	if filter.StartTime != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argNum))
		args = append(args, *filter.StartTime)
		argNum++
	}

	if filter.EndTime != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argNum))
		args = append(args, *filter.EndTime)
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Get total count
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_logs %s", whereClause)
	var totalCount int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("failed to count audit logs: %w", err)
	}

	limit := 50
	if filter.Limit > 0 && filter.Limit <= 1000 {
		limit = filter.Limit
	}

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	dataQuery := fmt.Sprintf(`
		SELECT id, actor, action, resource_type, resource_id,
			description, metadata, ip_address, request_id, created_at
		FROM audit_logs
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		whereClause, argNum, argNum+1)

	args = append(args, limit, offset)

	var logs []domain.AuditLog
	if err := r.db.SelectContext(ctx, &logs, dataQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}

	return &domain.AuditLogList{
		Data:       logs,
		TotalCount: totalCount,
		HasMore:    offset+len(logs) < totalCount,
	}, nil
}

// DeleteAuditLogsBefore deletes audit logs older than the specified time
func (r *AuditRepository) DeleteAuditLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM audit_logs WHERE created_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit logs: %w", err)
	}
	return result.RowsAffected()
}
