package management

import (
	"fmt"
	"strings"

	"labflow/internal/flagging"
	"labflow/pkg/cel"
)

func ValidateCreateVersion(req CreateVersionRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("name is required")
	}

	v := &ruleValidator{}
	for i, rule := range req.Rules {
		if err := v.validate(rule); err != nil {
			return fmt.Errorf("rules[%d]: %w", i, err)
		}
	}
	return nil
}

func ValidateRule(req RuleRequest) error {
	return (&ruleValidator{}).validate(req)
}

// ruleValidator builds its CEL evaluator on the first expr rule and reuses it.
type ruleValidator struct {
	evaluator *cel.Evaluator
}

func (v *ruleValidator) validate(req RuleRequest) error {
	if req.Position < 0 {
		return fmt.Errorf("position must be non-negative")
	}
	if err := req.toRule("", 0).Validate(); err != nil {
		return err
	}
	if req.Comparator != flagging.ComparatorExpr {
		return nil
	}

	if v.evaluator == nil {
		evaluator, err := cel.NewEvaluator()
		if err != nil {
			return fmt.Errorf("failed to create CEL evaluator: %w", err)
		}
		v.evaluator = evaluator
	}

	if err := v.evaluator.ValidateRuleExpression(req.Expression); err != nil {
		return fmt.Errorf("invalid CEL expression: %w", err)
	}
	return nil
}
