// Package ingestion runs raw HL7 result messages through tokenizing,
// validation, parsing, flagging, persistence and publication.
package ingestion

import "labflow/pkg/models"

// State is a step of one ingestion run.
type State string

const (
	StateReceived    State = "RECEIVED"
	StateTokenized   State = "TOKENIZED"
	StateValidated   State = "VALIDATED"
	StateParsed      State = "PARSED"
	StateFlagged     State = "FLAGGED"
	StatePersisted   State = "PERSISTED"
	StatePublished   State = "PUBLISHED"
	StateSkipped     State = "SKIPPED"
	StateQuarantined State = "QUARANTINED"
	StateFailed      State = "FAILED"
)

func (s State) Valid() bool {
	switch s {
	case StateReceived, StateTokenized, StateValidated, StateParsed, StateFlagged,
		StatePersisted, StatePublished, StateSkipped, StateQuarantined, StateFailed:
		return true
	}
	return false
}

func (s State) Terminal() bool {
	switch s {
	case StatePublished, StateSkipped, StateQuarantined, StateFailed:
		return true
	case StateReceived, StateTokenized, StateValidated, StateParsed, StateFlagged, StatePersisted:
		return false
	}
	return false
}

type OutcomeStatus string

const (
	OutcomeSucceeded   OutcomeStatus = "SUCCEEDED"
	OutcomeSkipped     OutcomeStatus = "SKIPPED"
	OutcomeQuarantined OutcomeStatus = "QUARANTINED"
	OutcomeFailed      OutcomeStatus = "FAILED"
)

func (s OutcomeStatus) Valid() bool {
	switch s {
	case OutcomeSucceeded, OutcomeSkipped, OutcomeQuarantined, OutcomeFailed:
		return true
	}
	return false
}

// Outcome is what a caller learns about one run. Expected failures are
// reported here rather than as errors.
type Outcome struct {
	Status           OutcomeStatus       `json:"status"`
	State            State               `json:"state"`
	MessageID        string              `json:"message_id,omitempty"`
	ResultIDs        []string            `json:"result_ids"`
	PriorOutcome     models.AuditOutcome `json:"prior_outcome,omitempty"`
	QuarantineReason string              `json:"quarantine_reason,omitempty"`
	FieldPath        string              `json:"field_path,omitempty"`
	FieldValue       string              `json:"field_value,omitempty"`
	Warnings         []models.Warning    `json:"warnings,omitempty"`
	Error            string              `json:"error,omitempty"`
	Err              error               `json:"-"`
}
