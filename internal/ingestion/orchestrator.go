package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"labflow/internal/flagging"
	"labflow/internal/hl7"
	"labflow/internal/logger"
	"labflow/internal/validation"
	apperrors "labflow/pkg/errors"
	"labflow/pkg/logging"
	"labflow/pkg/metrics"
	"labflow/pkg/models"
	"labflow/pkg/retry"
	"labflow/pkg/tracing"
)

const (
	ReasonMalformed       = "malformed message"
	ReasonValidation      = "validation failed"
	ReasonUnknownOrder    = "unknown order id"
	ReasonNoMatchingTests = "no matching test codes"

	WarningUnrecognizedLine = "UNRECOGNIZED_LINE"
)

// Dependencies are the collaborators every run needs.
type Dependencies struct {
	Ledger    Ledger
	Audits    AuditStore
	Orders    OrderStore
	Results   ResultStore
	Publisher Publisher
	Snapshots SnapshotSource
	Parser    ResultParser
	Flagger   Flagger
}

type Option func(*Orchestrator)

func WithArchiver(a Archiver) Option {
	return func(o *Orchestrator) { o.archiver = a }
}

func WithQuarantineSink(q QuarantineSink) Option {
	return func(o *Orchestrator) { o.quarantine = q }
}

func WithPublishRetry(policy retry.Policy) Option {
	return func(o *Orchestrator) { o.publishPolicy = policy }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator owns a message from receipt to its terminal state. Runs for
// different message ids may execute concurrently; the ledger claim keeps
// runs for the same id apart.
type Orchestrator struct {
	deps          Dependencies
	archiver      Archiver
	quarantine    QuarantineSink
	publishPolicy retry.Policy
	now           func() time.Time
	logger        logger.Logger
}

func NewOrchestrator(deps Dependencies, log logger.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deps: deps,
		publishPolicy: retry.Policy{
			MaxAttempts:     3,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Multiplier:      2.0,
		},
		now:    func() time.Time { return time.Now().UTC() },
		logger: log,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessInbound runs an unsolicited result message through the pipeline.
func (o *Orchestrator) ProcessInbound(ctx context.Context, raw string) (Outcome, error) {
	return o.process(ctx, raw, "")
}

// ProcessReply runs an instrument reply. Every order group must reference
// expectedOrderID or the reply is quarantined.
func (o *Orchestrator) ProcessReply(ctx context.Context, raw, expectedOrderID string) (Outcome, error) {
	return o.process(ctx, raw, expectedOrderID)
}

type run struct {
	messageID  string
	raw        string
	receivedAt time.Time
	msg        *hl7.Message
	metadata   hl7.Metadata
	state      State
	persisted  bool
}

func (o *Orchestrator) process(ctx context.Context, raw, expectedOrderID string) (outcome Outcome, err error) {
	start := time.Now()
	ctx, span := tracing.GetTracer("ingestion").Start(ctx, "ingestion.process")
	defer span.End()

	r := &run{raw: raw, receivedAt: o.now(), state: StateReceived}

	msg, tokenizeErr := hl7.Tokenize(raw)
	if tokenizeErr == nil {
		r.msg = msg
		r.metadata = hl7.ExtractMetadata(msg)
	}
	r.messageID = MessageID(r.msg, raw)
	ctx = logging.WithMessageID(ctx, r.messageID)
	span.SetAttributes(attribute.String("hl7.message_id", r.messageID))

	defer func() {
		status := string(outcome.Status)
		if err != nil {
			status = "error"
		}
		metrics.IngestMessagesTotal.WithLabelValues(status).Inc()
		metrics.ObserveIngestDuration(time.Since(start), status)
	}()

	claimed, err := o.deps.Ledger.Claim(ctx, models.RawMessage{
		MessageID:  r.messageID,
		RawText:    raw,
		ReceivedAt: r.receivedAt,
	})
	if err != nil {
		return Outcome{Status: OutcomeFailed, State: StateFailed, MessageID: r.messageID},
			fmt.Errorf("failed to claim message %s: %w", r.messageID, err)
	}
	if !claimed {
		return o.skip(ctx, r)
	}

	o.archive(ctx, r)

	outcome, err = o.runClaimed(ctx, r, tokenizeErr, expectedOrderID)
	if err != nil {
		o.recordHardFailure(ctx, r, err)
	}
	if (err != nil || outcome.Status == OutcomeFailed) && !r.persisted {
		o.release(ctx, r)
	}
	return outcome, err
}

// release reopens the ledger entry of a failed run that committed nothing,
// so a resubmission runs again instead of being skipped.
func (o *Orchestrator) release(ctx context.Context, r *run) {
	if err := o.deps.Ledger.Release(ctx, r.messageID); err != nil {
		o.logger.WarnwCtx(ctx, "Failed to release ledger claim, resubmissions will be skipped", "error", err)
		return
	}
	o.logger.InfowCtx(ctx, "Ledger claim released for retry", "reached_state", r.state)
}

func (o *Orchestrator) runClaimed(ctx context.Context, r *run, tokenizeErr error, expectedOrderID string) (Outcome, error) {
	if tokenizeErr != nil {
		var malformed *hl7.MalformedMessageError
		reason := ReasonMalformed
		if errors.As(tokenizeErr, &malformed) {
			reason = ReasonMalformed + ": " + malformed.Reason
		}
		return o.quarantineRun(ctx, r, "malformed", Outcome{QuarantineReason: reason})
	}
	r.state = StateTokenized

	verdict := validation.Validate(r.msg, expectedOrderID)
	if !verdict.Valid {
		return o.quarantineRun(ctx, r, "validation", Outcome{
			QuarantineReason: ReasonValidation + ": " + verdict.ErrorMessage,
			FieldPath:        verdict.FieldPath,
			FieldValue:       verdict.FieldValue,
		})
	}

	items, unknown, err := o.loadOrders(ctx, r.msg)
	if err != nil {
		return Outcome{}, err
	}
	if unknown != nil {
		return o.quarantineRun(ctx, r, "unknown_order", *unknown)
	}
	r.state = StateValidated

	parsed, err := o.deps.Parser.Parse(ctx, r.msg, r.receivedAt)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to parse results: %w", err)
	}
	r.state = StateParsed

	snapshot, err := o.deps.Snapshots.Current(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load flagging snapshot: %w", err)
	}

	batch, warnings := o.flag(ctx, r, parsed, items, snapshot)
	warnings = append(unrecognizedLineWarnings(r.msg), warnings...)
	r.state = StateFlagged

	if len(batch.Results) == 0 {
		return o.quarantineRun(ctx, r, "no_matching_tests", Outcome{
			QuarantineReason: ReasonNoMatchingTests,
			Warnings:         warnings,
		})
	}

	resultIDs, err := o.deps.Results.Persist(ctx, batch)
	if err != nil {
		failure := apperrors.Wrap(err, apperrors.ErrPersistence)
		o.logger.ErrorwCtx(ctx, "Failed to persist results", "error", err)
		return o.finish(ctx, r, Outcome{
			Status:   OutcomeFailed,
			State:    StateFailed,
			Warnings: warnings,
			Err:      failure,
		})
	}
	r.state = StatePersisted
	r.persisted = true
	metrics.IngestResultsTotal.WithLabelValues("persisted").Add(float64(len(resultIDs)))

	event := models.ResultEvent{
		MessageID:       r.messageID,
		OrderIDs:        orderIDs(batch.Results),
		ResultIDs:       resultIDs,
		Outcome:         models.AuditSucceeded,
		FlaggedCount:    flaggedCount(batch.Results),
		ConfigVersionID: snapshot.VersionID(),
		OccurredAt:      o.now(),
	}
	if err := o.publish(ctx, event); err != nil {
		failure := apperrors.Wrap(err, apperrors.ErrPublish)
		o.logger.ErrorwCtx(ctx, "Failed to publish result event, results stay committed",
			"result_count", len(resultIDs),
			"error", err,
		)
		return o.finish(ctx, r, Outcome{
			Status:    OutcomeFailed,
			State:     StateFailed,
			ResultIDs: resultIDs,
			Warnings:  warnings,
			Err:       failure,
		})
	}
	r.state = StatePublished

	return o.finish(ctx, r, Outcome{
		Status:    OutcomeSucceeded,
		State:     StatePublished,
		ResultIDs: resultIDs,
		Warnings:  warnings,
	})
}

func (o *Orchestrator) skip(ctx context.Context, r *run) (Outcome, error) {
	prior, err := o.deps.Audits.LatestAudit(ctx, r.messageID)
	if err != nil {
		return Outcome{Status: OutcomeFailed, State: StateFailed, MessageID: r.messageID},
			fmt.Errorf("failed to read prior audit for %s: %w", r.messageID, err)
	}

	outcome := Outcome{
		Status:    OutcomeSkipped,
		State:     StateSkipped,
		MessageID: r.messageID,
		ResultIDs: []string{},
	}
	if prior != nil {
		outcome.PriorOutcome = prior.Outcome
		outcome.ResultIDs = append(outcome.ResultIDs, prior.ResultIDs...)
		outcome.QuarantineReason = prior.QuarantineReason
	}

	o.logger.InfowCtx(ctx, "Duplicate message skipped",
		"prior_outcome", outcome.PriorOutcome,
	)
	return outcome, nil
}

// loadOrders resolves every referenced order. It returns the order items
// keyed by lower-cased test code, or a quarantine outcome for the first
// unknown order.
func (o *Orchestrator) loadOrders(ctx context.Context, msg *hl7.Message) (map[string]map[string]string, *Outcome, error) {
	items := make(map[string]map[string]string)

	for _, group := range msg.Groups() {
		orderID := group.OrderID()
		if _, seen := items[orderID]; seen {
			continue
		}

		order, err := o.deps.Orders.GetOrder(ctx, orderID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to look up order %s: %w", orderID, err)
		}
		if order == nil {
			return nil, &Outcome{
				QuarantineReason: ReasonUnknownOrder,
				FieldPath:        fmt.Sprintf("OBR[%d]-2", group.Position),
				FieldValue:       orderID,
			}, nil
		}

		orderItems, err := o.deps.Orders.GetItems(ctx, orderID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load items of order %s: %w", orderID, err)
		}

		byCode := make(map[string]string, len(orderItems))
		for _, item := range orderItems {
			code := strings.ToLower(item.TestCode)
			if _, exists := byCode[code]; !exists {
				byCode[code] = item.ID
			}
		}
		items[orderID] = byCode
	}

	return items, nil, nil
}

func (o *Orchestrator) flag(ctx context.Context, r *run, parsed []models.ParsedResult, items map[string]map[string]string, snapshot flagging.Snapshot) (ResultBatch, []models.Warning) {
	var (
		batch    ResultBatch
		warnings []models.Warning
	)

	for _, result := range parsed {
		if !result.Resolved() {
			metrics.IngestResultsTotal.WithLabelValues("unresolved").Inc()
			warnings = append(warnings, models.Warning{
				Code:            apperrors.ErrUnresolvedTest.Code,
				Message:         fmt.Sprintf("analyte %q at OBX[%d] does not match any catalog test", result.ObservationCode, result.Position),
				Position:        result.Position,
				ObservationCode: result.ObservationCode,
				AnalyteName:     result.AnalyteName,
			})
			continue
		}

		result.ID = uuid.New().String()
		result.SourceMessageID = r.messageID
		if itemID, ok := items[result.OrderID][strings.ToLower(*result.TestCode)]; ok {
			id := itemID
			result.ItemID = &id
		}

		decision := o.deps.Flagger.Apply(ctx, result, snapshot.Rules)
		result.AbnormalFlag = decision.Flag
		result.Severity = decision.Severity

		if decision.Record && decision.RuleID != nil {
			batch.Applied = append(batch.Applied, flagging.Applied{
				ID:              uuid.New().String(),
				ResultID:        result.ID,
				RuleID:          *decision.RuleID,
				ConfigVersionID: snapshot.VersionID(),
				AppliedAt:       o.now(),
			})
			metrics.FlaggingAppliedTotal.WithLabelValues(decision.Flag.Name()).Inc()
		}

		batch.Results = append(batch.Results, result)
	}

	return batch, warnings
}

// unrecognizedLineWarnings reports lines the tokenizer skipped.
func unrecognizedLineWarnings(msg *hl7.Message) []models.Warning {
	var warnings []models.Warning
	for i, line := range msg.Unrecognized {
		warnings = append(warnings, models.Warning{
			Code:     WarningUnrecognizedLine,
			Message:  fmt.Sprintf("skipped line without a segment code: %q", truncateText(line, 40)),
			Position: i + 1,
		})
	}
	return warnings
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (o *Orchestrator) publish(ctx context.Context, event models.ResultEvent) error {
	return retry.RetryWithCallback(ctx, o.publishPolicy, func() error {
		err := o.deps.Publisher.Publish(ctx, event)
		if err != nil {
			metrics.PublishAttemptsTotal.WithLabelValues("error").Inc()
			return err
		}
		metrics.PublishAttemptsTotal.WithLabelValues("success").Inc()
		return nil
	}, func(attempt int, err error, nextDelay time.Duration) {
		o.logger.WarnwCtx(ctx, "Result event publish failed, retrying",
			"attempt", attempt,
			"next_delay_ms", nextDelay.Milliseconds(),
			"error", err,
		)
	})
}

func (o *Orchestrator) quarantineRun(ctx context.Context, r *run, kind string, outcome Outcome) (Outcome, error) {
	outcome.Status = OutcomeQuarantined
	outcome.State = StateQuarantined
	metrics.QuarantinedMessagesTotal.WithLabelValues(kind).Inc()

	o.logger.WarnwCtx(ctx, "Message quarantined",
		"reason", outcome.QuarantineReason,
		"field_path", outcome.FieldPath,
		"reached_state", r.state,
	)

	if o.quarantine != nil {
		record := models.QuarantineRecord{
			MessageID:          r.messageID,
			RawText:            r.raw,
			Reason:             outcome.QuarantineReason,
			FieldPath:          outcome.FieldPath,
			FieldValue:         outcome.FieldValue,
			SendingApplication: r.metadata.SendingApplication,
			SendingFacility:    r.metadata.SendingFacility,
			QuarantinedAt:      o.now(),
		}
		if err := o.quarantine.Quarantine(ctx, record); err != nil {
			o.logger.WarnwCtx(ctx, "Failed to mirror quarantined message", "error", err)
		}
	}

	return o.finish(ctx, r, outcome)
}

// finish writes the audit row for a terminal outcome.
func (o *Orchestrator) finish(ctx context.Context, r *run, outcome Outcome) (Outcome, error) {
	outcome.MessageID = r.messageID
	if outcome.ResultIDs == nil {
		outcome.ResultIDs = []string{}
	}
	if outcome.Err != nil {
		outcome.Error = outcome.Err.Error()
	}

	audit := &models.IngestAudit{
		ID:               uuid.New().String(),
		MessageID:        r.messageID,
		Outcome:          auditOutcome(outcome.Status),
		ResultIDs:        outcome.ResultIDs,
		QuarantineReason: outcome.QuarantineReason,
		FieldPath:        outcome.FieldPath,
		FieldValue:       outcome.FieldValue,
		Warnings:         outcome.Warnings,
		Error:            outcome.Error,
		ProcessedAt:      o.now(),
	}
	if err := o.deps.Audits.RecordAudit(ctx, audit); err != nil {
		return outcome, fmt.Errorf("failed to record audit for %s: %w", r.messageID, err)
	}

	o.logger.InfowCtx(ctx, "Message processed",
		"status", outcome.Status,
		"result_count", len(outcome.ResultIDs),
		"warning_count", len(outcome.Warnings),
		"sending_application", r.metadata.SendingApplication,
		"sending_facility", r.metadata.SendingFacility,
	)
	return outcome, nil
}

// recordHardFailure leaves a FAILED audit behind for a claimed message whose
// run aborted on a collaborator error. The audit itself is best-effort.
func (o *Orchestrator) recordHardFailure(ctx context.Context, r *run, cause error) {
	o.logger.ErrorwCtx(ctx, "Ingestion aborted", "reached_state", r.state, "error", cause)

	audit := &models.IngestAudit{
		ID:          uuid.New().String(),
		MessageID:   r.messageID,
		Outcome:     models.AuditFailed,
		ResultIDs:   []string{},
		Error:       cause.Error(),
		ProcessedAt: o.now(),
	}
	if err := o.deps.Audits.RecordAudit(ctx, audit); err != nil {
		o.logger.WarnwCtx(ctx, "Failed to record failure audit", "error", err)
	}
}

func (o *Orchestrator) archive(ctx context.Context, r *run) {
	if o.archiver == nil {
		return
	}
	err := o.archiver.Archive(ctx, models.RawMessage{
		MessageID:  r.messageID,
		RawText:    r.raw,
		ReceivedAt: r.receivedAt,
	})
	if err != nil {
		metrics.ArchiveWritesTotal.WithLabelValues("error").Inc()
		o.logger.WarnwCtx(ctx, "Failed to archive raw message", "error", err)
		return
	}
	metrics.ArchiveWritesTotal.WithLabelValues("success").Inc()
}

func auditOutcome(status OutcomeStatus) models.AuditOutcome {
	switch status {
	case OutcomeSucceeded:
		return models.AuditSucceeded
	case OutcomeQuarantined:
		return models.AuditQuarantined
	case OutcomeFailed, OutcomeSkipped:
		return models.AuditFailed
	}
	return models.AuditFailed
}

func orderIDs(results []models.ParsedResult) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, r := range results {
		if _, ok := seen[r.OrderID]; ok {
			continue
		}
		seen[r.OrderID] = struct{}{}
		ids = append(ids, r.OrderID)
	}
	sort.Strings(ids)
	return ids
}

func flaggedCount(results []models.ParsedResult) int {
	n := 0
	for _, r := range results {
		if r.AbnormalFlag.IsAbnormal() {
			n++
		}
	}
	return n
}
