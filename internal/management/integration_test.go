//go:build integration

package management

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labflow/internal/flagging"
	"labflow/internal/logger"
	"labflow/internal/testinfra"
	"labflow/pkg/models"
)

func TestService_WithPostgres(t *testing.T) {
	db := testinfra.Postgres(t)
	ctx := context.Background()

	audits := NewAuditRepository(db)
	svc := NewService(flagging.NewRepository(db), logger.NopLogger(), WithAudit(audits))

	version, err := svc.CreateVersion(ctx, CreateVersionRequest{
		Name:     "v1",
		Rules:    []RuleRequest{glucoseRule()},
		Activate: true,
	})
	require.NoError(t, err)

	current, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, version.ID, current.ID)
	require.Len(t, current.Rules, 1)
	assert.Equal(t, "GLU", current.Rules[0].AnalyteMatch)

	logs, err := svc.GetAuditLogs(ctx, &version.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.ActionActivate, logs[0].Action)
	assert.Equal(t, "system", logs[0].ChangedBy)
	assert.Equal(t, version.ID, logs[1].NewValue["id"])

	byType, err := audits.GetAuditLogs(ctx, nil, EntityTypeFlaggingVersion, 10)
	require.NoError(t, err)
	assert.Len(t, byType, 2)
}
