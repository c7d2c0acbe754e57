package models

import "time"

type ConfigUpdateEvent struct {
	EventType   string                 `json:"event_type"`   // "flagging_config_updated"
	ServiceType string                 `json:"service_type"` // "flagging"
	EntityID    string                 `json:"entity_id,omitempty"`
	Action      string                 `json:"action"` // "create", "add_rule", "activate"
	Timestamp   time.Time              `json:"timestamp"`
	ChangedBy   string                 `json:"changed_by,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

const (
	EventTypeFlaggingConfigUpdated = "flagging_config_updated"
)

const (
	ActionCreate   = "create"
	ActionAddRule  = "add_rule"
	ActionActivate = "activate"
	ActionReload   = "reload"
)

const (
	ServiceTypeFlagging = "flagging"
)
