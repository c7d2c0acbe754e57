package management

import (
	"context"
	"encoding/json"
	"time"

	"labflow/internal/constants"
	"labflow/internal/flagging"
	"labflow/internal/logger"
	pkgerrors "labflow/pkg/errors"
	"labflow/pkg/logging"
	"labflow/pkg/models"
)

type service struct {
	store               flagging.Store
	auditRepo           AuditRepository
	configEventProducer *ConfigEventProducer
	now                 func() time.Time
	logger              logger.Logger
}

type ServiceOption func(*service)

func WithAudit(auditRepo AuditRepository) ServiceOption {
	return func(s *service) {
		s.auditRepo = auditRepo
	}
}

func WithConfigEvents(configEventProducer *ConfigEventProducer) ServiceOption {
	return func(s *service) {
		s.configEventProducer = configEventProducer
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) {
		s.now = now
	}
}

func NewService(store flagging.Store, log logger.Logger, opts ...ServiceOption) Service {
	s := &service{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CreateVersion stores a version with its rules. Rules without a position
// are numbered in request order.
func (s *service) CreateVersion(ctx context.Context, req CreateVersionRequest) (*flagging.ConfigVersion, error) {
	if err := ValidateCreateVersion(req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	version := &flagging.ConfigVersion{
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateVersion(ctx, version); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	for i, ruleReq := range req.Rules {
		rule := ruleReq.toRule(version.ID, i+1)
		rule.CreatedAt = s.now()
		if err := s.store.AddRule(ctx, &rule); err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
		}
		version.Rules = append(version.Rules, rule)
	}

	s.audit(ctx, version.ID, models.ActionCreate, nil, toMap(version), "")
	s.publishConfigEvent(ctx, models.ActionCreate, version.ID, nil)

	if req.Activate {
		return s.Activate(ctx, version.ID, ActivateRequest{Reason: "activated on create"})
	}

	return version, nil
}

func (s *service) ListVersions(ctx context.Context, limit int) ([]flagging.ConfigVersion, error) {
	if limit <= 0 {
		limit = constants.DefaultLimit
	}
	versions, err := s.store.ListVersions(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	if versions == nil {
		versions = []flagging.ConfigVersion{}
	}
	return versions, nil
}

func (s *service) GetVersion(ctx context.Context, id string) (*flagging.ConfigVersion, error) {
	version, err := s.store.GetVersion(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	if version == nil {
		return nil, pkgerrors.ErrNotFound.WithDetail("id", id)
	}

	return s.withRules(ctx, version)
}

// AddRule appends to a version that has never been activated. Activated
// versions are frozen so stored config_version_ids stay reproducible.
func (s *service) AddRule(ctx context.Context, versionID string, req RuleRequest) (*flagging.Rule, error) {
	if err := ValidateRule(req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	if version == nil {
		return nil, pkgerrors.ErrNotFound.WithDetail("id", versionID)
	}
	if version.ActivatedAt != nil {
		return nil, pkgerrors.ErrConflict.WithDetail("message", "version "+versionID+" has been activated and can no longer change")
	}

	existing, err := s.store.GetRules(ctx, versionID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	rule := req.toRule(versionID, len(existing)+1)
	rule.CreatedAt = s.now()
	if err := s.store.AddRule(ctx, &rule); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	s.audit(ctx, versionID, models.ActionAddRule, nil, toMap(rule), "")
	s.publishConfigEvent(ctx, models.ActionAddRule, versionID, map[string]interface{}{"rule_id": rule.ID})

	return &rule, nil
}

func (s *service) Activate(ctx context.Context, versionID string, req ActivateRequest) (*flagging.ConfigVersion, error) {
	previous, err := s.store.CurrentVersion(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	version, err := s.store.Activate(ctx, versionID, s.now())
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	if version == nil {
		return nil, pkgerrors.ErrNotFound.WithDetail("id", versionID)
	}

	var oldValue map[string]interface{}
	metadata := map[string]interface{}{}
	if previous != nil {
		oldValue = map[string]interface{}{"current_version_id": previous.ID}
		metadata["previous_version_id"] = previous.ID
	}

	s.audit(ctx, versionID, models.ActionActivate, oldValue, map[string]interface{}{"current_version_id": version.ID}, req.Reason)
	s.publishConfigEvent(ctx, models.ActionActivate, versionID, metadata)

	s.logger.InfowCtx(ctx, "Flagging version activated", "version_id", version.ID, "name", version.Name)

	return s.withRules(ctx, version)
}

func (s *service) Current(ctx context.Context) (*flagging.ConfigVersion, error) {
	version, err := s.store.CurrentVersion(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	if version == nil {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", "no flagging version has been activated")
	}

	return s.withRules(ctx, version)
}

func (s *service) GetAuditLogs(ctx context.Context, entityID *string, entityType string, limit int) ([]AuditLog, error) {
	if s.auditRepo == nil {
		return nil, pkgerrors.ErrInternal.WithDetail("message", "audit logging not enabled")
	}
	if limit <= 0 {
		limit = constants.DefaultLimit
	}

	logs, err := s.auditRepo.GetAuditLogs(ctx, entityID, entityType, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	if logs == nil {
		logs = []AuditLog{}
	}
	return logs, nil
}

func (s *service) withRules(ctx context.Context, version *flagging.ConfigVersion) (*flagging.ConfigVersion, error) {
	rules, err := s.store.GetRules(ctx, version.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	v := *version
	v.Rules = flagging.Order(rules)
	return &v, nil
}

// audit is best-effort: a failed audit write is logged, the change stands.
func (s *service) audit(ctx context.Context, entityID, action string, oldValue, newValue map[string]interface{}, reason string) {
	if s.auditRepo == nil {
		return
	}

	log := &AuditLog{
		EntityID:     &entityID,
		EntityType:   EntityTypeFlaggingVersion,
		Action:       action,
		OldValue:     oldValue,
		NewValue:     newValue,
		ChangedBy:    getChangedBy(ctx),
		ChangeReason: reason,
		Timestamp:    s.now(),
	}
	if err := s.auditRepo.CreateAuditLog(ctx, log); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to write config audit log", "entity_id", entityID, "action", action, "error", err)
	}
}

func (s *service) publishConfigEvent(ctx context.Context, action, versionID string, metadata map[string]interface{}) {
	if s.configEventProducer == nil {
		return
	}
	if err := s.configEventProducer.PublishFlaggingConfigEvent(ctx, action, versionID, getChangedBy(ctx), metadata); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to publish config event", "version_id", versionID, "action", action, "error", err)
	}
}

func toMap(v interface{}) map[string]interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

func getChangedBy(ctx context.Context) string {
	if actor := logging.GetChangedBy(ctx); actor != "" {
		return actor
	}
	return "system"
}
