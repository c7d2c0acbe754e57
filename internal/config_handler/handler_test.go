package config_handler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"labflow/internal/logger"
	"labflow/pkg/models"
)

type countingReloader struct {
	calls int
	err   error
}

func (r *countingReloader) ReloadRules(ctx context.Context, skipJitter ...bool) error {
	r.calls++
	return r.err
}

func flaggingEvent() models.MessageEnvelope {
	envelope := models.MessageEnvelope{
		ID: "evt-1",
		Payload: map[string]interface{}{
			"event_type":   models.EventTypeFlaggingConfigUpdated,
			"service_type": models.ServiceTypeFlagging,
			"entity_id":    "v2",
			"action":       models.ActionActivate,
		},
	}
	envelope.Annotate("event_type", models.EventTypeFlaggingConfigUpdated)
	envelope.Annotate("service_type", models.ServiceTypeFlagging)
	return envelope
}

func TestHandleConfigUpdateEvent(t *testing.T) {
	tests := []struct {
		name      string
		envelope  func() models.MessageEnvelope
		wantCalls int
	}{
		{
			name:      "reloads on matching event",
			envelope:  flaggingEvent,
			wantCalls: 1,
		},
		{
			name: "falls back to payload fields",
			envelope: func() models.MessageEnvelope {
				e := flaggingEvent()
				e.Metadata.Annotations = nil
				return e
			},
			wantCalls: 1,
		},
		{
			name: "ignores other event types",
			envelope: func() models.MessageEnvelope {
				e := flaggingEvent()
				e.Annotate("event_type", "catalog_updated")
				return e
			},
		},
		{
			name: "ignores other services",
			envelope: func() models.MessageEnvelope {
				e := flaggingEvent()
				e.Annotate("service_type", "catalog")
				return e
			},
		},
		{
			name: "missing event type",
			envelope: func() models.MessageEnvelope {
				return models.MessageEnvelope{ID: "evt-2", Payload: map[string]interface{}{}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reloader := &countingReloader{}
			h := NewHandler(models.EventTypeFlaggingConfigUpdated, models.ServiceTypeFlagging, reloader, logger.NopLogger())

			err := h.HandleConfigUpdateEvent(context.Background(), tt.envelope())

			assert.NoError(t, err)
			assert.Equal(t, tt.wantCalls, reloader.calls)
		})
	}
}

func TestHandleConfigUpdateEvent_ReloadError(t *testing.T) {
	reloader := &countingReloader{err: errors.New("db down")}
	h := NewHandler(models.EventTypeFlaggingConfigUpdated, models.ServiceTypeFlagging, reloader, logger.NopLogger())

	err := h.HandleConfigUpdateEvent(context.Background(), flaggingEvent())

	assert.Error(t, err)
	assert.Equal(t, 1, reloader.calls)
}
