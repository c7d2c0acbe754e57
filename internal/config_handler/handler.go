package config_handler

import (
	"context"
	"encoding/json"

	"labflow/internal/logger"
	"labflow/pkg/models"
)

type ConfigReloader interface {
	ReloadRules(ctx context.Context, skipJitter ...bool) error
}

// Handler reacts to config update events from the management service by
// reloading the local rule snapshot.
type Handler struct {
	expectedEventType   string
	expectedServiceType string
	reloader            ConfigReloader
	logger              logger.Logger
}

func NewHandler(expectedEventType, expectedServiceType string, reloader ConfigReloader, log logger.Logger) *Handler {
	return &Handler{
		expectedEventType:   expectedEventType,
		expectedServiceType: expectedServiceType,
		reloader:            reloader,
		logger:              log,
	}
}

func lookup(envelope models.MessageEnvelope, key string) (string, bool) {
	if value, ok := envelope.Metadata.Annotations[key].(string); ok {
		return value, true
	}
	value, ok := envelope.Payload[key].(string)
	return value, ok
}

func (h *Handler) HandleConfigUpdateEvent(ctx context.Context, envelope models.MessageEnvelope) error {
	eventType, ok := lookup(envelope, "event_type")
	if !ok {
		h.logger.WarnwCtx(ctx, "Config event missing event_type", "id", envelope.ID)
		return nil
	}
	if eventType != h.expectedEventType {
		return nil
	}

	serviceType, ok := lookup(envelope, "service_type")
	if !ok {
		h.logger.WarnwCtx(ctx, "Config event missing service_type", "id", envelope.ID)
		return nil
	}
	if serviceType != h.expectedServiceType {
		return nil
	}

	var event models.ConfigUpdateEvent
	eventJSON, err := json.Marshal(envelope.Payload)
	if err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to marshal event payload", "error", err, "id", envelope.ID)
		return err
	}
	if err := json.Unmarshal(eventJSON, &event); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to unmarshal config event", "error", err, "id", envelope.ID)
		return err
	}

	h.logger.InfowCtx(ctx, "Received config update event",
		"event_type", event.EventType,
		"action", event.Action,
		"entity_id", event.EntityID,
	)

	if h.reloader == nil {
		return nil
	}

	// Every instance gets the event at once; jitter spreads the reloads.
	if err := h.reloader.ReloadRules(ctx); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to reload rules after config update", "error", err)
		return err
	}
	h.logger.InfowCtx(ctx, "Rules reloaded after config update", "action", event.Action)
	return nil
}
