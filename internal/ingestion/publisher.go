package ingestion

import (
	"context"
	"fmt"

	"labflow/internal/broker"
	"labflow/pkg/logging"
	"labflow/pkg/models"
)

// BrokerPublisher sends result events to a topic as message envelopes. The
// envelope id is the HL7 message id, so redeliveries share a key.
type BrokerPublisher struct {
	producer broker.Producer
	topic    string
	source   string
}

func NewBrokerPublisher(producer broker.Producer, topic, source string) *BrokerPublisher {
	return &BrokerPublisher{producer: producer, topic: topic, source: source}
}

func (p *BrokerPublisher) Publish(ctx context.Context, event models.ResultEvent) error {
	envelope := models.NewMessageEnvelopeBuilder().
		WithID(event.MessageID).
		WithSource(p.source).
		WithTimestamp(event.OccurredAt).
		WithPayload(EventPayload(event)).
		WithTraceID(logging.GetTraceID(ctx)).
		WithIngestion(string(event.Outcome), event.OccurredAt).
		Build()

	if err := p.producer.Publish(ctx, p.topic, *envelope); err != nil {
		return fmt.Errorf("failed to publish result event to %s: %w", p.topic, err)
	}
	return nil
}

// EventPayload flattens an event into an envelope payload.
func EventPayload(event models.ResultEvent) map[string]interface{} {
	payload := map[string]interface{}{
		"message_id":    event.MessageID,
		"order_ids":     event.OrderIDs,
		"result_ids":    event.ResultIDs,
		"outcome":       string(event.Outcome),
		"flagged_count": event.FlaggedCount,
		"occurred_at":   event.OccurredAt,
	}
	if event.ConfigVersionID != "" {
		payload["config_version_id"] = event.ConfigVersionID
	}
	return payload
}
