package cel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
)

// RuleInput is the activation a flagging expression is evaluated against.
// Value is the parsed numeric value and is only meaningful when Numeric is
// true.
type RuleInput struct {
	Value          float64
	Numeric        bool
	ValueText      string
	Analyte        string
	Unit           string
	ReferenceRange string
	InboundFlag    string
}

func (in RuleInput) vars() map[string]interface{} {
	return map[string]interface{}{
		"value":           in.Value,
		"numeric":         in.Numeric,
		"value_text":      in.ValueText,
		"analyte":         in.Analyte,
		"unit":            in.Unit,
		"reference_range": in.ReferenceRange,
		"inbound_flag":    in.InboundFlag,
	}
}

type Evaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.DoubleType),
		cel.Variable("numeric", cel.BoolType),
		cel.Variable("value_text", cel.StringType),
		cel.Variable("analyte", cel.StringType),
		cel.Variable("unit", cel.StringType),
		cel.Variable("reference_range", cel.StringType),
		cel.Variable("inbound_flag", cel.StringType),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}
	return nil
}

// ValidateRuleExpression checks that expression compiles and yields a bool.
func (e *Evaluator) ValidateRuleExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("rule expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

// EvaluateRule runs a boolean rule expression. Compiled programs are cached
// per expression text.
func (e *Evaluator) EvaluateRule(ctx context.Context, expression string, input RuleInput) (bool, error) {
	program, err := e.program(expression)
	if err != nil {
		return false, err
	}

	result, _, err := program.ContextEval(ctx, input.vars())
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

func (e *Evaluator) program(expression string) (cel.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	if err := e.ValidateRuleExpression(expression); err != nil {
		return nil, err
	}

	program, err := e.CompileExpression(expression)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.programs[expression] = program
	e.mu.Unlock()

	return program, nil
}

func (e *Evaluator) CompileExpression(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return program, nil
}
