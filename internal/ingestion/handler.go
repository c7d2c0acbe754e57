package ingestion

import (
	"context"
	"fmt"

	"labflow/internal/logger"
	"labflow/pkg/models"
	"labflow/pkg/retry"
)

// Processor is the inbound half of the orchestrator.
type Processor interface {
	ProcessInbound(ctx context.Context, raw string) (Outcome, error)
}

// EnvelopeHandler feeds broker envelopes carrying raw HL7 into the
// orchestrator.
type EnvelopeHandler struct {
	processor Processor
	logger    logger.Logger
}

func NewEnvelopeHandler(processor Processor, log logger.Logger) *EnvelopeHandler {
	return &EnvelopeHandler{processor: processor, logger: log}
}

// Handle returns an error only when a retry can help. Envelopes without HL7
// text fail permanently and go to the DLQ.
func (h *EnvelopeHandler) Handle(ctx context.Context, msg models.MessageEnvelope) error {
	if err := models.ValidateInboundEnvelope(&msg); err != nil {
		h.logger.WarnwCtx(ctx, "Rejected inbound envelope", "error", err)
		return retry.NewFatalError(err)
	}
	raw, _ := msg.HL7()

	outcome, err := h.processor.ProcessInbound(ctx, raw)
	if err != nil {
		return fmt.Errorf("failed to process envelope %s: %w", msg.ID, err)
	}

	h.logger.DebugwCtx(ctx, "Envelope processed",
		"envelope_id", msg.ID,
		"hl7_message_id", outcome.MessageID,
		"status", outcome.Status,
	)
	return nil
}
