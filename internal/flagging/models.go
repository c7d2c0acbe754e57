package flagging

import (
	"fmt"
	"strings"
	"time"

	"labflow/pkg/models"
)

type Comparator string

const (
	ComparatorGT      Comparator = "gt"
	ComparatorGTE     Comparator = "gte"
	ComparatorLT      Comparator = "lt"
	ComparatorLTE     Comparator = "lte"
	ComparatorEQ      Comparator = "eq"
	ComparatorNE      Comparator = "ne"
	ComparatorBetween Comparator = "between"
	ComparatorOutside Comparator = "outside"
	ComparatorOrdinal Comparator = "ordinal"
	ComparatorExpr    Comparator = "expr"
)

func (c Comparator) Valid() bool {
	switch c {
	case ComparatorGT, ComparatorGTE, ComparatorLT, ComparatorLTE, ComparatorEQ, ComparatorNE,
		ComparatorBetween, ComparatorOutside, ComparatorOrdinal, ComparatorExpr:
		return true
	}
	return false
}

// ConfigVersion is one named set of flagging rules. The current version is
// the one activated most recently.
type ConfigVersion struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	Rules       []Rule     `json:"rules,omitempty"`
}

type Rule struct {
	ID              string              `json:"id"`
	ConfigVersionID string              `json:"config_version_id"`
	AnalyteMatch    string              `json:"analyte_match"`
	Comparator      Comparator          `json:"comparator"`
	Threshold       *float64            `json:"threshold,omitempty"`
	ThresholdHigh   *float64            `json:"threshold_high,omitempty"`
	OrdinalValues   []string            `json:"ordinal_values,omitempty"`
	Expression      string              `json:"expression,omitempty"`
	ResultingFlag   models.AbnormalFlag `json:"resulting_flag"`
	Severity        models.Severity     `json:"severity"`
	Position        int                 `json:"position"`
	CreatedAt       time.Time           `json:"created_at"`
}

// Validate checks that the fields the comparator needs are present. CEL
// expressions are checked separately by the caller.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.AnalyteMatch) == "" {
		return fmt.Errorf("analyte_match is required")
	}
	if !r.Comparator.Valid() {
		return fmt.Errorf("invalid comparator: %q", r.Comparator)
	}
	if r.ResultingFlag == models.FlagUnflagged || !r.ResultingFlag.Valid() {
		return fmt.Errorf("invalid resulting_flag: %q", r.ResultingFlag)
	}
	if r.Severity != "" && !r.Severity.Valid() {
		return fmt.Errorf("invalid severity: %q", r.Severity)
	}

	switch r.Comparator {
	case ComparatorGT, ComparatorGTE, ComparatorLT, ComparatorLTE, ComparatorEQ, ComparatorNE:
		if r.Threshold == nil {
			return fmt.Errorf("threshold is required for comparator %s", r.Comparator)
		}
	case ComparatorBetween, ComparatorOutside:
		if r.Threshold == nil || r.ThresholdHigh == nil {
			return fmt.Errorf("threshold and threshold_high are required for comparator %s", r.Comparator)
		}
		if *r.Threshold > *r.ThresholdHigh {
			return fmt.Errorf("threshold must not exceed threshold_high")
		}
	case ComparatorOrdinal:
		if len(r.OrdinalValues) == 0 {
			return fmt.Errorf("ordinal_values are required for comparator ordinal")
		}
	case ComparatorExpr:
		if strings.TrimSpace(r.Expression) == "" {
			return fmt.Errorf("expression is required for comparator expr")
		}
	}

	return nil
}

// Applied is the append-only record of a rule outcome for one result.
type Applied struct {
	ID              string    `json:"id"`
	ResultID        string    `json:"result_id"`
	RuleID          string    `json:"rule_id"`
	ConfigVersionID string    `json:"config_version_id"`
	AppliedAt       time.Time `json:"applied_at"`
}

// Decision is the outcome of evaluating one result. Record is set when the
// decision must be written as an Applied row.
type Decision struct {
	Flag     models.AbnormalFlag
	Severity models.Severity
	RuleID   *string
	Record   bool
}

// Snapshot is an immutable view of the current version and its rules,
// already in evaluation order.
type Snapshot struct {
	Version *ConfigVersion
	Rules   []Rule
}

func NewSnapshot(version *ConfigVersion, rules []Rule) Snapshot {
	return Snapshot{Version: version, Rules: Order(rules)}
}

func (s Snapshot) VersionID() string {
	if s.Version == nil {
		return ""
	}
	return s.Version.ID
}

// DefaultSeverity is used when a flag is kept from the message or a rule
// leaves its severity blank.
func DefaultSeverity(flag models.AbnormalFlag) models.Severity {
	switch flag {
	case models.FlagCriticalHigh, models.FlagCriticalLow, models.FlagCritical:
		return models.SeverityCritical
	case models.FlagHigh, models.FlagLow, models.FlagAbnormal:
		return models.SeverityModerate
	case models.FlagNormal, models.FlagUnflagged:
		return models.SeverityNone
	}
	return models.SeverityNone
}
