package models

import (
	"fmt"
	"time"
)

// PayloadKeyHL7 is the envelope payload field carrying a raw HL7 message.
const PayloadKeyHL7 = "hl7"

type MessageEnvelope struct {
	ID        string                 `json:"id"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
	Metadata  Metadata               `json:"metadata"`
}

type Metadata struct {
	TraceID     string                 `json:"trace_id,omitempty"`
	Ingestion   *IngestionInfo         `json:"ingestion,omitempty"`
	Annotations map[string]interface{} `json:"annotations,omitempty"`
}

type IngestionInfo struct {
	Outcome     string    `json:"outcome"`
	ProcessedAt time.Time `json:"processed_at"`
}

// HL7 returns the raw HL7 text carried by the envelope.
func (msg *MessageEnvelope) HL7() (string, bool) {
	raw, ok := msg.Payload[PayloadKeyHL7].(string)
	return raw, ok && raw != ""
}

func (msg *MessageEnvelope) Annotate(key string, value interface{}) {
	if msg.Metadata.Annotations == nil {
		msg.Metadata.Annotations = make(map[string]interface{})
	}
	msg.Metadata.Annotations[key] = value
}

type EnvelopeError struct {
	Field   string
	Message string
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("invalid envelope field '%s': %s", e.Field, e.Message)
}

// ValidateInboundEnvelope checks an envelope submitted for HL7 ingestion:
// it needs an id, a source and a non-empty hl7 payload field.
func ValidateInboundEnvelope(msg *MessageEnvelope) error {
	switch {
	case msg == nil:
		return &EnvelopeError{Field: "envelope", Message: "message envelope cannot be nil"}
	case msg.ID == "":
		return &EnvelopeError{Field: "id", Message: "message ID is required"}
	case msg.Source == "":
		return &EnvelopeError{Field: "source", Message: "message source is required"}
	}

	if _, ok := msg.HL7(); !ok {
		return &EnvelopeError{Field: "payload." + PayloadKeyHL7, Message: "raw HL7 text is required"}
	}
	return nil
}
