package flagging

import (
	"context"
	"path"
	"sort"
	"strconv"
	"strings"

	"labflow/internal/logger"
	"labflow/pkg/cel"
	"labflow/pkg/metrics"
	"labflow/pkg/models"
)

// Engine evaluates flagging rules against parsed results.
type Engine struct {
	evaluator *cel.Evaluator
	logger    logger.Logger
}

func NewEngine(log logger.Logger) (*Engine, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, err
	}
	return &Engine{evaluator: evaluator, logger: log}, nil
}

// Apply returns the decision of the first matching rule. Exact analyte
// matches are tried before patterns whatever the input order. Without a
// match an abnormal inbound flag is kept; otherwise the result is normal.
// A rule never turns an abnormal inbound flag into a normal one.
func (e *Engine) Apply(ctx context.Context, result models.ParsedResult, rules []Rule) Decision {
	inbound := result.AbnormalFlag

	for _, rule := range Order(rules) {
		if !matchesAnalyte(rule.AnalyteMatch, result) {
			continue
		}
		if !e.satisfied(ctx, rule, result) {
			continue
		}

		flag := rule.ResultingFlag
		if !flag.IsAbnormal() && inbound.IsAbnormal() {
			return Decision{Flag: inbound, Severity: DefaultSeverity(inbound)}
		}

		severity := rule.Severity
		if severity == "" {
			severity = DefaultSeverity(flag)
		}
		ruleID := rule.ID
		return Decision{
			Flag:     flag,
			Severity: severity,
			RuleID:   &ruleID,
			Record:   flag.IsAbnormal(),
		}
	}

	if inbound.IsAbnormal() {
		return Decision{Flag: inbound, Severity: DefaultSeverity(inbound)}
	}
	return Decision{Flag: models.FlagNormal, Severity: models.SeverityNone}
}

// Order returns a copy of rules with exact analyte matches first, each group
// sorted by Position.
func Order(rules []Rule) []Rule {
	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := isPattern(ordered[i].AnalyteMatch), isPattern(ordered[j].AnalyteMatch)
		if pi != pj {
			return !pi
		}
		if ordered[i].Position != ordered[j].Position {
			return ordered[i].Position < ordered[j].Position
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}

func isPattern(match string) bool {
	return strings.ContainsAny(match, "*?[")
}

func analyteKeys(result models.ParsedResult) []string {
	keys := make([]string, 0, 3)
	if result.TestCode != nil && *result.TestCode != "" {
		keys = append(keys, *result.TestCode)
	}
	if result.ObservationCode != "" {
		keys = append(keys, result.ObservationCode)
	}
	if result.AnalyteName != "" {
		keys = append(keys, result.AnalyteName)
	}
	return keys
}

func matchesAnalyte(match string, result models.ParsedResult) bool {
	pattern := strings.ToLower(strings.TrimSpace(match))
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}

	for _, key := range analyteKeys(result) {
		candidate := strings.ToLower(key)
		if !isPattern(pattern) {
			if candidate == pattern {
				return true
			}
			continue
		}
		if ok, err := path.Match(pattern, candidate); err == nil && ok {
			return true
		}
	}
	return false
}

// ParseNumeric reads a result value as a number, ignoring a leading
// comparison sign such as "<5" or ">=200".
func ParseNumeric(value string) (float64, bool) {
	s := strings.TrimSpace(value)
	s = strings.TrimLeft(s, "<>=")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (e *Engine) satisfied(ctx context.Context, rule Rule, result models.ParsedResult) bool {
	value, numeric := ParseNumeric(result.ValueText)

	switch rule.Comparator {
	case ComparatorGT, ComparatorGTE, ComparatorLT, ComparatorLTE, ComparatorEQ, ComparatorNE:
		if !numeric || rule.Threshold == nil {
			return false
		}
		return compare(rule.Comparator, value, *rule.Threshold)
	case ComparatorBetween:
		if !numeric || rule.Threshold == nil || rule.ThresholdHigh == nil {
			return false
		}
		return value >= *rule.Threshold && value <= *rule.ThresholdHigh
	case ComparatorOutside:
		if !numeric || rule.Threshold == nil || rule.ThresholdHigh == nil {
			return false
		}
		return value < *rule.Threshold || value > *rule.ThresholdHigh
	case ComparatorOrdinal:
		text := strings.TrimSpace(result.ValueText)
		for _, v := range rule.OrdinalValues {
			if strings.EqualFold(strings.TrimSpace(v), text) {
				return true
			}
		}
		return false
	case ComparatorExpr:
		return e.evaluate(ctx, rule, result, value, numeric)
	}
	return false
}

func compare(c Comparator, value, threshold float64) bool {
	switch c {
	case ComparatorGT:
		return value > threshold
	case ComparatorGTE:
		return value >= threshold
	case ComparatorLT:
		return value < threshold
	case ComparatorLTE:
		return value <= threshold
	case ComparatorEQ:
		return value == threshold
	case ComparatorNE:
		return value != threshold
	}
	return false
}

func (e *Engine) evaluate(ctx context.Context, rule Rule, result models.ParsedResult, value float64, numeric bool) bool {
	analyte := result.AnalyteName
	if result.TestCode != nil {
		analyte = *result.TestCode
	}

	ok, err := e.evaluator.EvaluateRule(ctx, rule.Expression, cel.RuleInput{
		Value:          value,
		Numeric:        numeric,
		ValueText:      result.ValueText,
		Analyte:        analyte,
		Unit:           result.Unit,
		ReferenceRange: result.ReferenceRange,
		InboundFlag:    string(result.AbnormalFlag),
	})
	if err != nil {
		metrics.FallbackUsageTotal.WithLabelValues("flagging", "skip_rule", "evaluation_error").Inc()
		e.logger.WarnwCtx(ctx, "Flagging rule evaluation failed, skipping rule",
			"rule_id", rule.ID,
			"expression", rule.Expression,
			"error", err,
		)
		return false
	}
	return ok
}
