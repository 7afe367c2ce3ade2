package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/stagewatch/stagewatch/internal/domain"
	"github.com/stagewatch/stagewatch/internal/repository/postgres"
)

// AuditService records control-plane actions in the audit log
type AuditService struct {
	auditRepo *postgres.AuditRepository
}

// NewAuditService creates a new audit service
func NewAuditService(auditRepo *postgres.AuditRepository) *AuditService {
	return &AuditService{
		auditRepo: auditRepo,
	}
}

// Log creates a new audit log entry
func (s *AuditService) Log(ctx context.Context, input *domain.AuditLogInput) (*domain.AuditLog, error) {
	return s.auditRepo.CreateAuditLog(ctx, input)
}

// GetAuditLog retrieves a single audit log entry
func (s *AuditService) GetAuditLog(ctx context.Context, logID uuid.UUID) (*domain.AuditLog, error) {
	return s.auditRepo.GetAuditLog(ctx, logID)
}

// ListAuditLogs retrieves audit logs with filtering
func (s *AuditService) ListAuditLogs(ctx context.Context, filter *domain.AuditLogFilter) (*domain.AuditLogList, error) {
	return s.auditRepo.ListAuditLogs(ctx, filter)
}

// Convenience methods for common audit actions

// LogLogin records a successful operator login
func (s *AuditService) LogLogin(ctx context.Context, email, ipAddress, requestID string) error {
	_, err := s.auditRepo.CreateAuditLog(ctx, &domain.AuditLogInput{
		Actor:        email,
		Action:       domain.AuditActionLogin,
		ResourceType: domain.AuditResourceOperator,
		Description:  fmt.Sprintf("Operator %s logged in", email),
		IPAddress:    ipAddress,
		RequestID:    requestID,
	})
	return err
}

// LogLoginFailed records a failed operator login attempt
func (s *AuditService) LogLoginFailed(ctx context.Context, email, ipAddress, requestID, reason string) error {
	_, err := s.auditRepo.CreateAuditLog(ctx, &domain.AuditLogInput{
		Actor:        email,
		Action:       domain.AuditActionLoginFailed,
		ResourceType: domain.AuditResourceOperator,
		Description:  fmt.Sprintf("Failed login attempt for %s: %s", email, reason),
		IPAddress:    ipAddress,
		RequestID:    requestID,
	})
	return err
}

// LogRunCreated records run creation
func (s *AuditService) LogRunCreated(ctx context.Context, actor string, runID uuid.UUID, name string, stages []string) error {
	_, err := s.auditRepo.CreateAuditLog(ctx, &domain.AuditLogInput{
		Actor:        actor,
		Action:       domain.AuditActionRunCreated,
		ResourceType: domain.AuditResourceRun,
		ResourceID:   &runID,
		Description:  fmt.Sprintf("Run '%s' was created", name),
		Metadata:     map[string]any{"stages": stages},
	})
	return err
}

// LogRunStopped records run stop together with its final totals
func (s *AuditService) LogRunStopped(ctx context.Context, actor string, runID uuid.UUID, completed, timedOut int64) error {
	_, err := s.auditRepo.CreateAuditLog(ctx, &domain.AuditLogInput{
		Actor:        actor,
		Action:       domain.AuditActionRunStopped,
		ResourceType: domain.AuditResourceRun,
		ResourceID:   &runID,
		Description:  fmt.Sprintf("Run was stopped with %d completed and %d timed out traces", completed, timedOut),
		Metadata:     map[string]any{"completed": completed, "timedOut": timedOut},
	})
	return err
}

// LogRunDeleted records run deletion
func (s *AuditService) LogRunDeleted(ctx context.Context, actor string, runID uuid.UUID) error {
	_, err := s.auditRepo.CreateAuditLog(ctx, &domain.AuditLogInput{
		Actor:        actor,
		Action:       domain.AuditActionRunDeleted,
		ResourceType: domain.AuditResourceRun,
		ResourceID:   &runID,
		Description:  "Run and its archived outcomes were deleted",
	})
	return err
}

// LogIngestKeyIssued records issuance of an additional ingest key
func (s *AuditService) LogIngestKeyIssued(ctx context.Context, actor string, runID, keyID uuid.UUID, publicKey string) error {
	_, err := s.auditRepo.CreateAuditLog(ctx, &domain.AuditLogInput{
		Actor:        actor,
		Action:       domain.AuditActionIngestKeyIssued,
		ResourceType: domain.AuditResourceIngestKey,
		ResourceID:   &keyID,
		Description:  fmt.Sprintf("Ingest key %s was issued", publicKey),
		Metadata:     map[string]any{"runId": runID.String()},
	})
	return err
}

// LogExportRequested records a report export request
func (s *AuditService) LogExportRequested(ctx context.Context, actor string, runID uuid.UUID, format domain.ExportFormat) error {
	_, err := s.auditRepo.CreateAuditLog(ctx, &domain.AuditLogInput{
		Actor:        actor,
		Action:       domain.AuditActionExportRequested,
		ResourceType: domain.AuditResourceExport,
		ResourceID:   &runID,
		Description:  fmt.Sprintf("Report export was requested in %s format", format),
		Metadata:     map[string]any{"format": string(format)},
	})
	return err
}
