package broker

import (
	"context"

	"labflow/pkg/models"
)

// TypeKafka selects the segmentio/kafka-go clients.
const TypeKafka = "kafka"

type Producer interface {
	Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error
	Close() error
}

// Named is implemented by clients that label metrics with the owning service.
type Named interface {
	SetServiceName(name string)
}

// Consumer delivers envelopes to a handler until its context ends. Handlers
// return retry.FatalError to skip retries and go straight to the DLQ.
type Consumer interface {
	Named
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
}

type HandlerFunc func(ctx context.Context, msg models.MessageEnvelope) error
