package management

import (
	"labflow/internal/flagging"
	"labflow/pkg/models"
)

type RuleRequest struct {
	AnalyteMatch  string              `json:"analyte_match" binding:"required"`
	Comparator    flagging.Comparator `json:"comparator" binding:"required"`
	Threshold     *float64            `json:"threshold"`
	ThresholdHigh *float64            `json:"threshold_high"`
	OrdinalValues []string            `json:"ordinal_values"`
	Expression    string              `json:"expression"`
	ResultingFlag models.AbnormalFlag `json:"resulting_flag" binding:"required"`
	Severity      models.Severity     `json:"severity"`
	Position      int                 `json:"position"`
}

func (r RuleRequest) toRule(versionID string, position int) flagging.Rule {
	if r.Position > 0 {
		position = r.Position
	}
	return flagging.Rule{
		ConfigVersionID: versionID,
		AnalyteMatch:    r.AnalyteMatch,
		Comparator:      r.Comparator,
		Threshold:       r.Threshold,
		ThresholdHigh:   r.ThresholdHigh,
		OrdinalValues:   r.OrdinalValues,
		Expression:      r.Expression,
		ResultingFlag:   r.ResultingFlag,
		Severity:        r.Severity,
		Position:        position,
	}
}

type CreateVersionRequest struct {
	Name        string        `json:"name" binding:"required"`
	Description string        `json:"description"`
	Rules       []RuleRequest `json:"rules"`
	Activate    bool          `json:"activate"`
}

type ActivateRequest struct {
	Reason string `json:"reason"`
}
