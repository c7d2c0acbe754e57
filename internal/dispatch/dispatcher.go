package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"labflow/internal/config"
	"labflow/internal/constants"
	"labflow/internal/ingestion"
	"labflow/internal/logger"
	apperrors "labflow/pkg/errors"
	"labflow/pkg/metrics"
	"labflow/pkg/tracing"
)

// ReplyProcessor is the reply half of the orchestrator.
type ReplyProcessor interface {
	ProcessReply(ctx context.Context, raw, expectedOrderID string) (ingestion.Outcome, error)
}

type Dispatcher struct {
	orders    ingestion.OrderStore
	transport Transport
	replies   ReplyProcessor
	cfg       config.DispatchConfig
	now       func() time.Time
	logger    logger.Logger
}

func NewDispatcher(orders ingestion.OrderStore, transport Transport, replies ReplyProcessor, cfg config.DispatchConfig, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		orders:    orders,
		transport: transport,
		replies:   replies,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    log,
	}
}

func (d *Dispatcher) timeout() time.Duration {
	if d.cfg.DefaultTimeout > 0 {
		return d.cfg.DefaultTimeout
	}
	return constants.DefaultDispatchTimeout
}

func (d *Dispatcher) sender(instrumentRef string) Sender {
	s := Sender{
		SendingApplication: d.cfg.SendingApplication,
		SendingFacility:    d.cfg.SendingFacility,
		Timestamp:          d.now(),
	}
	if s.SendingApplication == "" {
		s.SendingApplication = constants.DefaultSendingApplication
	}
	if instrument, ok := d.cfg.Instruments[strings.ToLower(instrumentRef)]; ok {
		s.ReceivingApplication = instrument.ReceivingApplication
		s.ReceivingFacility = instrument.ReceivingFacility
	}
	return s
}

// SendAndProcess sends an order to its instrument and ingests the reply.
// Transport failures give a FAILED outcome and leave nothing behind: the
// reply never reached the ledger.
func (d *Dispatcher) SendAndProcess(ctx context.Context, orderID string) (ingestion.Outcome, error) {
	ctx, span := tracing.GetTracer("dispatch").Start(ctx, "dispatch.send_and_process")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	order, err := d.orders.GetOrder(ctx, orderID)
	if err != nil {
		return ingestion.Outcome{}, fmt.Errorf("failed to look up order %s: %w", orderID, err)
	}
	if order == nil {
		return ingestion.Outcome{}, apperrors.ErrNotFound.WithDetail("message", fmt.Sprintf("order %s not found", orderID))
	}

	items, err := d.orders.GetItems(ctx, orderID)
	if err != nil {
		return ingestion.Outcome{}, fmt.Errorf("failed to load items of order %s: %w", orderID, err)
	}

	message, err := BuildOrderMessage(*order, items, d.sender(order.InstrumentRef))
	if err != nil {
		return ingestion.Outcome{}, apperrors.ErrValidation.WithCause(err)
	}

	span.SetAttributes(attribute.String("instrument.ref", order.InstrumentRef))
	start := time.Now()
	reply, err := d.transport.Send(ctx, order.InstrumentRef, message, d.timeout())
	metrics.ObserveDispatchDuration(order.InstrumentRef, time.Since(start))
	if err != nil {
		metrics.DispatchRequestsTotal.WithLabelValues(order.InstrumentRef, "transport_error").Inc()
		return d.transportFailure(ctx, order.InstrumentRef, transportError(order.InstrumentRef, "send", err)), nil
	}
	if strings.TrimSpace(reply) == "" {
		metrics.DispatchRequestsTotal.WithLabelValues(order.InstrumentRef, "transport_error").Inc()
		return d.transportFailure(ctx, order.InstrumentRef, transportError(order.InstrumentRef, "read", ErrEmptyReply)), nil
	}
	metrics.DispatchRequestsTotal.WithLabelValues(order.InstrumentRef, "replied").Inc()

	d.logger.InfowCtx(ctx, "Instrument replied",
		"order_id", orderID,
		"instrument", order.InstrumentRef,
		"reply_bytes", len(reply),
	)

	return d.replies.ProcessReply(ctx, reply, orderID)
}

func (d *Dispatcher) transportFailure(ctx context.Context, instrument string, err error) ingestion.Outcome {
	var te *TransportError
	failure := err
	if errors.As(err, &te) {
		failure = te.AsAppError()
	}

	d.logger.WarnwCtx(ctx, "Order dispatch failed",
		"instrument", instrument,
		"error", err,
	)

	return ingestion.Outcome{
		Status:    ingestion.OutcomeFailed,
		State:     ingestion.StateFailed,
		ResultIDs: []string{},
		Error:     failure.Error(),
		Err:       failure,
	}
}
