package models

import (
	"fmt"
	"strings"
	"time"
)

type AbnormalFlag string

const (
	FlagNormal       AbnormalFlag = "N"
	FlagHigh         AbnormalFlag = "H"
	FlagLow          AbnormalFlag = "L"
	FlagCriticalHigh AbnormalFlag = "HH"
	FlagCriticalLow  AbnormalFlag = "LL"
	FlagAbnormal     AbnormalFlag = "A"
	FlagCritical     AbnormalFlag = "AA"
	FlagUnflagged    AbnormalFlag = ""
)

func (f AbnormalFlag) Valid() bool {
	switch f {
	case FlagNormal, FlagHigh, FlagLow, FlagCriticalHigh, FlagCriticalLow, FlagAbnormal, FlagCritical, FlagUnflagged:
		return true
	}
	return false
}

// IsAbnormal reports whether the flag marks a value outside its normal range.
func (f AbnormalFlag) IsAbnormal() bool {
	switch f {
	case FlagHigh, FlagLow, FlagCriticalHigh, FlagCriticalLow, FlagAbnormal, FlagCritical:
		return true
	case FlagNormal, FlagUnflagged:
		return false
	}
	return false
}

func (f AbnormalFlag) IsCritical() bool {
	switch f {
	case FlagCriticalHigh, FlagCriticalLow, FlagCritical:
		return true
	case FlagNormal, FlagUnflagged, FlagHigh, FlagLow, FlagAbnormal:
		return false
	}
	return false
}

// ParseAbnormalFlag maps an OBX-8 code. Unknown non-empty codes are treated
// as a generic abnormal flag so they are never lost.
func ParseAbnormalFlag(code string) AbnormalFlag {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "":
		return FlagUnflagged
	case "N":
		return FlagNormal
	case "H", ">":
		return FlagHigh
	case "L", "<":
		return FlagLow
	case "HH", ">>":
		return FlagCriticalHigh
	case "LL", "<<":
		return FlagCriticalLow
	case "A":
		return FlagAbnormal
	case "AA":
		return FlagCritical
	}
	return FlagAbnormal
}

func ParseFlagName(name string) (AbnormalFlag, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "NORMAL", "N":
		return FlagNormal, nil
	case "HIGH", "H":
		return FlagHigh, nil
	case "LOW", "L":
		return FlagLow, nil
	case "CRITICAL_HIGH", "HH":
		return FlagCriticalHigh, nil
	case "CRITICAL_LOW", "LL":
		return FlagCriticalLow, nil
	case "ABNORMAL", "A":
		return FlagAbnormal, nil
	case "CRITICAL", "AA":
		return FlagCritical, nil
	}
	return FlagUnflagged, fmt.Errorf("unknown abnormal flag: %q", name)
}

func (f AbnormalFlag) Name() string {
	switch f {
	case FlagNormal:
		return "NORMAL"
	case FlagHigh:
		return "HIGH"
	case FlagLow:
		return "LOW"
	case FlagCriticalHigh:
		return "CRITICAL_HIGH"
	case FlagCriticalLow:
		return "CRITICAL_LOW"
	case FlagAbnormal:
		return "ABNORMAL"
	case FlagCritical:
		return "CRITICAL"
	case FlagUnflagged:
		return "UNFLAGGED"
	}
	return string(f)
}

type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityNone, SeverityMild, SeverityModerate, SeveritySevere, SeverityCritical:
		return true
	}
	return false
}

// ResultStatus is the OBX-11 observation result status.
type ResultStatus string

const (
	StatusFinal       ResultStatus = "F"
	StatusPreliminary ResultStatus = "P"
	StatusCorrected   ResultStatus = "C"
	StatusPartial     ResultStatus = "R"
	StatusCancelled   ResultStatus = "X"
	StatusPending     ResultStatus = "I"
	StatusWrong       ResultStatus = "W"
	StatusUnknown     ResultStatus = ""
)

func (s ResultStatus) Valid() bool {
	switch s {
	case StatusFinal, StatusPreliminary, StatusCorrected, StatusPartial,
		StatusCancelled, StatusPending, StatusWrong, StatusUnknown:
		return true
	}
	return false
}

func ParseResultStatus(code string) ResultStatus {
	status := ResultStatus(strings.ToUpper(strings.TrimSpace(code)))
	if !status.Valid() {
		return StatusUnknown
	}
	return status
}

type ParsedResult struct {
	ID              string       `json:"id,omitempty"`
	OrderID         string       `json:"order_id"`
	ItemID          *string      `json:"item_id,omitempty"`
	TestCode        *string      `json:"test_code,omitempty"`
	CatalogID       string       `json:"catalog_id,omitempty"`
	AnalyteName     string       `json:"analyte_name"`
	ObservationCode string       `json:"observation_code"`
	ValueText       string       `json:"value_text"`
	Unit            string       `json:"unit"`
	ReferenceRange  string       `json:"reference_range,omitempty"`
	AbnormalFlag    AbnormalFlag `json:"abnormal_flag"`
	Severity        Severity     `json:"severity,omitempty"`
	ResultStatus    ResultStatus `json:"result_status,omitempty"`
	MeasuredAt      time.Time    `json:"measured_at"`
	SourceMessageID string       `json:"source_message_id"`
	Notes           []string     `json:"notes,omitempty"`
	Position        int          `json:"position"`
}

func (r *ParsedResult) Resolved() bool {
	return r.TestCode != nil && *r.TestCode != ""
}

type Order struct {
	ID            string    `json:"id"`
	InstrumentRef string    `json:"instrument_ref"`
	PlacedAt      time.Time `json:"placed_at"`
}

type OrderItem struct {
	ID           string `json:"id"`
	OrderID      string `json:"order_id"`
	TestCode     string `json:"test_code"`
	TestName     string `json:"test_name"`
	CodingSystem string `json:"coding_system,omitempty"`
}

type RawMessage struct {
	MessageID  string    `json:"message_id"`
	RawText    string    `json:"raw_text"`
	ReceivedAt time.Time `json:"received_at"`
}

type AuditOutcome string

const (
	AuditSucceeded   AuditOutcome = "SUCCEEDED"
	AuditQuarantined AuditOutcome = "QUARANTINED"
	AuditFailed      AuditOutcome = "FAILED"
)

func (o AuditOutcome) Valid() bool {
	switch o {
	case AuditSucceeded, AuditQuarantined, AuditFailed:
		return true
	}
	return false
}

type Warning struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	Position        int    `json:"position"`
	ObservationCode string `json:"observation_code,omitempty"`
	AnalyteName     string `json:"analyte_name,omitempty"`
}

type IngestAudit struct {
	ID               string       `json:"id"`
	MessageID        string       `json:"message_id"`
	Outcome          AuditOutcome `json:"outcome"`
	ResultIDs        []string     `json:"result_ids"`
	QuarantineReason string       `json:"quarantine_reason,omitempty"`
	FieldPath        string       `json:"field_path,omitempty"`
	FieldValue       string       `json:"field_value,omitempty"`
	Warnings         []Warning    `json:"warnings,omitempty"`
	Error            string       `json:"error,omitempty"`
	ProcessedAt      time.Time    `json:"processed_at"`
}

type ResultEvent struct {
	MessageID       string       `json:"message_id"`
	OrderIDs        []string     `json:"order_ids"`
	ResultIDs       []string     `json:"result_ids"`
	Outcome         AuditOutcome `json:"outcome"`
	FlaggedCount    int          `json:"flagged_count"`
	ConfigVersionID string       `json:"config_version_id,omitempty"`
	OccurredAt      time.Time    `json:"occurred_at"`
}

type QuarantineRecord struct {
	MessageID          string    `json:"message_id" bson:"_id"`
	RawText            string    `json:"raw_text" bson:"raw_text"`
	Reason             string    `json:"reason" bson:"reason"`
	FieldPath          string    `json:"field_path,omitempty" bson:"field_path,omitempty"`
	FieldValue         string    `json:"field_value,omitempty" bson:"field_value,omitempty"`
	SendingApplication string    `json:"sending_application,omitempty" bson:"sending_application,omitempty"`
	SendingFacility    string    `json:"sending_facility,omitempty" bson:"sending_facility,omitempty"`
	QuarantinedAt      time.Time `json:"quarantined_at" bson:"quarantined_at"`
}
