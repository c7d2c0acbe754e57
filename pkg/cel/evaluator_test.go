package cel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.NotNil(t, eval)
}

func TestValidateExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{
			name:      "valid simple expression",
			expr:      `analyte == "GLU"`,
			wantError: false,
		},
		{
			name:      "valid numeric expression",
			expr:      `value * 18.0`,
			wantError: false,
		},
		{
			name:      "invalid expression",
			expr:      `invalid syntax here!!!`,
			wantError: true,
		},
		{
			name:      "undefined variable",
			expr:      `payload.status == "test"`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateExpression(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRuleExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{name: "bool comparison", expr: `numeric && value > 10.0`},
		{name: "string method", expr: `value_text.contains("pos")`},
		{name: "non-bool expression", expr: `value + 1.0`, wantError: true},
		{name: "type mismatch", expr: `value > "10"`, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateRuleExpression(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvaluateRule(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	ctx := context.Background()

	glucose := RuleInput{Value: 182, Numeric: true, ValueText: "182", Analyte: "GLU", Unit: "mg/dL", InboundFlag: "H"}
	culture := RuleInput{ValueText: "Positive", Analyte: "CULT"}

	tests := []struct {
		name  string
		expr  string
		input RuleInput
		want  bool
	}{
		{name: "numeric above threshold", expr: `numeric && value > 126.0`, input: glucose, want: true},
		{name: "numeric below threshold", expr: `numeric && value < 70.0`, input: glucose, want: false},
		{name: "non numeric guarded", expr: `numeric && value > 0.0`, input: culture, want: false},
		{name: "text match", expr: `value_text.lowerAscii() == "positive"`, input: culture, want: true},
		{name: "unit and analyte", expr: `analyte == "GLU" && unit == "mg/dL"`, input: glucose, want: true},
		{name: "inbound flag", expr: `inbound_flag == "H"`, input: glucose, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eval.EvaluateRule(ctx, tt.expr, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateRule_RejectsInvalidExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	_, err = eval.EvaluateRule(context.Background(), `value + 1.0`, RuleInput{})
	assert.Error(t, err)

	_, err = eval.EvaluateRule(context.Background(), `nope(`, RuleInput{})
	assert.Error(t, err)
}

func TestEvaluateRule_CachesPrograms(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	expr := `numeric && value >= 5.0`
	for i := 0; i < 3; i++ {
		ok, err := eval.EvaluateRule(context.Background(), expr, RuleInput{Value: 5, Numeric: true})
		require.NoError(t, err)
		assert.True(t, ok)
	}

	eval.mu.RLock()
	defer eval.mu.RUnlock()
	assert.Len(t, eval.programs, 1)
}

func TestRuleExpressionExamples(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	for name, expr := range RuleExpressionExamples {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, eval.ValidateRuleExpression(expr))
		})
	}
}
