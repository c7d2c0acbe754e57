package management

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"labflow/internal/broker"
	"labflow/pkg/logging"
	"labflow/pkg/models"
)

type ConfigEventProducer struct {
	producer broker.Producer
	topic    string
}

func NewConfigEventProducer(producer broker.Producer, topic string) *ConfigEventProducer {
	return &ConfigEventProducer{
		producer: producer,
		topic:    topic,
	}
}

func (p *ConfigEventProducer) PublishFlaggingConfigEvent(ctx context.Context, action, versionID, changedBy string, metadata map[string]interface{}) error {
	event := models.ConfigUpdateEvent{
		EventType:   models.EventTypeFlaggingConfigUpdated,
		ServiceType: models.ServiceTypeFlagging,
		EntityID:    versionID,
		Action:      action,
		Timestamp:   time.Now().UTC(),
		ChangedBy:   changedBy,
		Metadata:    metadata,
	}
	return p.publishEvent(ctx, event)
}

func (p *ConfigEventProducer) publishEvent(ctx context.Context, event models.ConfigUpdateEvent) error {
	if p.producer == nil || p.topic == "" {
		return nil
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal config event: %w", err)
	}

	var eventData map[string]interface{}
	if err := json.Unmarshal(eventJSON, &eventData); err != nil {
		return fmt.Errorf("failed to unmarshal event data: %w", err)
	}

	envelope := models.NewMessageEnvelopeBuilder().
		WithID(uuid.New().String()).
		WithSource("management-service").
		WithTimestamp(event.Timestamp).
		WithPayload(eventData).
		WithTraceID(logging.GetTraceID(ctx)).
		WithAnnotation("event_type", event.EventType).
		WithAnnotation("service_type", event.ServiceType).
		Build()

	return p.producer.Publish(ctx, p.topic, *envelope)
}
