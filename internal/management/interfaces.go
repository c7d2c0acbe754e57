package management

import (
	"context"

	"labflow/internal/flagging"
)

type Service interface {
	CreateVersion(ctx context.Context, req CreateVersionRequest) (*flagging.ConfigVersion, error)
	ListVersions(ctx context.Context, limit int) ([]flagging.ConfigVersion, error)
	GetVersion(ctx context.Context, id string) (*flagging.ConfigVersion, error)
	AddRule(ctx context.Context, versionID string, req RuleRequest) (*flagging.Rule, error)
	Activate(ctx context.Context, versionID string, req ActivateRequest) (*flagging.ConfigVersion, error)
	Current(ctx context.Context) (*flagging.ConfigVersion, error)
	GetAuditLogs(ctx context.Context, entityID *string, entityType string, limit int) ([]AuditLog, error)
}
