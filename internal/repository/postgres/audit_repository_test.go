package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagewatch/stagewatch/internal/domain"
)

func TestAuditRepository_CreateAndList(t *testing.T) {
	db := getTestSQLX(t)

	repo := NewAuditRepository(db)
	ctx := context.Background()

	actor := "test-actor-" + uuid.New().String()
	defer func() {
		_, _ = db.ExecContext(ctx, "DELETE FROM audit_logs WHERE actor = $1", actor)
	}()

	runID := uuid.New()
	created, err := repo.CreateAuditLog(ctx, &domain.AuditLogInput{
		Actor:        actor,
		Action:       domain.AuditActionRunCreated,
		ResourceType: domain.AuditResourceRun,
		ResourceID:   &runID,
		Description:  "created run checkout-pipeline",
		Metadata:     map[string]any{"stages": 3},
		IPAddress:    "10.0.0.1",
		RequestID:    "req-123",
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)

	_, err = repo.CreateAuditLog(ctx, &domain.AuditLogInput{
		Actor:        actor,
		Action:       domain.AuditActionRunStopped,
		ResourceType: domain.AuditResourceRun,
		ResourceID:   &runID,
		Description:  "stopped run checkout-pipeline",
		IPAddress:    "10.0.0.1",
	})
	require.NoError(t, err)

	t.Run("get by id", func(t *testing.T) {
		got, err := repo.GetAuditLog(ctx, created.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, actor, got.Actor)
		assert.Equal(t, domain.AuditActionRunCreated, got.Action)
		assert.JSONEq(t, `{"stages": 3}`, string(got.Metadata))
	})

	t.Run("missing entry is nil", func(t *testing.T) {
		got, err := repo.GetAuditLog(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("list filters by actor", func(t *testing.T) {
		list, err := repo.ListAuditLogs(ctx, &domain.AuditLogFilter{Actor: &actor})
		require.NoError(t, err)
		assert.Equal(t, 2, list.TotalCount)
		assert.Len(t, list.Data, 2)
		assert.False(t, list.HasMore)
		// Newest first.
		assert.Equal(t, domain.AuditActionRunStopped, list.Data[0].Action)
	})

	t.Run("list filters by action", func(t *testing.T) {
		action := domain.AuditActionRunStopped
		list, err := repo.ListAuditLogs(ctx, &domain.AuditLogFilter{Actor: &actor, Action: &action})
		require.NoError(t, err)
		assert.Equal(t, 1, list.TotalCount)
	})

	t.Run("pagination reports has more", func(t *testing.T) {
		list, err := repo.ListAuditLogs(ctx, &domain.AuditLogFilter{Actor: &actor, Limit: 1})
		require.NoError(t, err)
		assert.Len(t, list.Data, 1)
		assert.True(t, list.HasMore)
	})
}

func TestAuditRepository_DeleteBefore(t *testing.T) {
	db := getTestSQLX(t)

	repo := NewAuditRepository(db)
	ctx := context.Background()

	actor := "test-retention-" + uuid.New().String()
	defer func() {
		_, _ = db.ExecContext(ctx, "DELETE FROM audit_logs WHERE actor = $1", actor)
	}()

	_, err := repo.CreateAuditLog(ctx, &domain.AuditLogInput{
		Actor:        actor,
		Action:       domain.AuditActionRetentionPurge,
		ResourceType: domain.AuditResourceRun,
		Description:  "purged 0 runs",
	})
	require.NoError(t, err)

	// A cutoff in the past must not touch the fresh entry.
	_, err = repo.DeleteAuditLogsBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)

	list, err := repo.ListAuditLogs(ctx, &domain.AuditLogFilter{Actor: &actor})
	require.NoError(t, err)
	assert.Equal(t, 1, list.TotalCount)
}
