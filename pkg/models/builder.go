package models

import "time"

// MessageEnvelopeBuilder assembles an envelope for the broker. Build stamps
// the current UTC time when no timestamp was set.
type MessageEnvelopeBuilder struct {
	envelope *MessageEnvelope
}

func NewMessageEnvelopeBuilder() *MessageEnvelopeBuilder {
	return &MessageEnvelopeBuilder{
		envelope: &MessageEnvelope{
			Payload:  make(map[string]interface{}),
			Metadata: Metadata{},
		},
	}
}

func (b *MessageEnvelopeBuilder) WithID(id string) *MessageEnvelopeBuilder {
	b.envelope.ID = id
	return b
}

func (b *MessageEnvelopeBuilder) WithSource(source string) *MessageEnvelopeBuilder {
	b.envelope.Source = source
	return b
}

func (b *MessageEnvelopeBuilder) WithTimestamp(timestamp time.Time) *MessageEnvelopeBuilder {
	b.envelope.Timestamp = timestamp
	return b
}

func (b *MessageEnvelopeBuilder) WithPayload(payload map[string]interface{}) *MessageEnvelopeBuilder {
	b.envelope.Payload = payload
	return b
}

// WithHL7 sets the raw message under PayloadKeyHL7.
func (b *MessageEnvelopeBuilder) WithHL7(raw string) *MessageEnvelopeBuilder {
	b.envelope.Payload[PayloadKeyHL7] = raw
	return b
}

func (b *MessageEnvelopeBuilder) WithTraceID(traceID string) *MessageEnvelopeBuilder {
	b.envelope.Metadata.TraceID = traceID
	return b
}

func (b *MessageEnvelopeBuilder) WithIngestion(outcome string, processedAt time.Time) *MessageEnvelopeBuilder {
	b.envelope.Metadata.Ingestion = &IngestionInfo{Outcome: outcome, ProcessedAt: processedAt}
	return b
}

func (b *MessageEnvelopeBuilder) WithAnnotation(key string, value interface{}) *MessageEnvelopeBuilder {
	b.envelope.Annotate(key, value)
	return b
}

func (b *MessageEnvelopeBuilder) Build() *MessageEnvelope {
	if b.envelope.Timestamp.IsZero() {
		b.envelope.Timestamp = time.Now().UTC()
	}
	return b.envelope
}
