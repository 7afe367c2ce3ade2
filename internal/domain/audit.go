package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	// Authentication actions
	AuditActionLogin       AuditAction = "login"
	AuditActionLoginFailed AuditAction = "login_failed"

	// Run lifecycle
	AuditActionRunCreated AuditAction = "run_created"
	AuditActionRunStopped AuditAction = "run_stopped"
	AuditActionRunDeleted AuditAction = "run_deleted"

	// Ingest key management
	AuditActionIngestKeyIssued AuditAction = "ingest_key_issued"

	// Data access
	AuditActionExportRequested AuditAction = "export_requested"
	AuditActionRetentionPurge  AuditAction = "retention_purge"
)

// AuditResourceType represents the type of resource being audited
type AuditResourceType string

const (
	AuditResourceRun       AuditResourceType = "run"
	AuditResourceIngestKey AuditResourceType = "ingest_key"
	AuditResourceExport    AuditResourceType = "export"
	AuditResourceOperator  AuditResourceType = "operator"
	AuditResourceRetention AuditResourceType = "retention"
)

// AuditLog represents an audit log entry
type AuditLog struct {
	ID           uuid.UUID         `json:"id" db:"id"`
	Actor        string            `json:"actor" db:"actor"`
	Action       AuditAction       `json:"action" db:"action"`
	ResourceType AuditResourceType `json:"resourceType" db:"resource_type"`
	ResourceID   *uuid.UUID        `json:"resourceId,omitempty" db:"resource_id"`
	Description  string            `json:"description" db:"description"`
	Metadata     []byte            `json:"metadata,omitempty" db:"metadata"`

	// Request context
	IPAddress string `json:"ipAddress" db:"ip_address"`
	RequestID string `json:"requestId,omitempty" db:"request_id"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// AuditLogInput represents input for creating an audit log entry
type AuditLogInput struct {
	Actor        string
	Action       AuditAction
	ResourceType AuditResourceType
	ResourceID   *uuid.UUID
	Description  string
	Metadata     map[string]any
	IPAddress    string
	RequestID    string
}

// AuditLogFilter represents filter options for querying audit logs
type AuditLogFilter struct {
	Actor        *string
	Action       *AuditAction
	ResourceType *AuditResourceType
	ResourceID   *uuid.UUID
	StartTime    *time.Time
	EndTime      *time.Time

	Limit  int
	Offset int
}

// AuditLogList represents a paginated list of audit logs
type AuditLogList struct {
	Data       []AuditLog `json:"data"`
	TotalCount int        `json:"totalCount"`
	HasMore    bool       `json:"hasMore"`
}
