package cel

// RuleExpressionExamples lists flagging expressions accepted by
// ValidateRuleExpression.
var RuleExpressionExamples = map[string]string{
	"numeric_high":       `numeric && value > 200.0`,
	"numeric_band":       `numeric && (value < 3.5 || value > 5.1)`,
	"text_positive":      `value_text.lowerAscii() in ["positive", "reactive", "detected"]`,
	"unit_specific":      `unit == "mmol/L" && numeric && value > 7.0`,
	"analyte_prefix":     `analyte.startsWith("GLU") && numeric && value >= 126.0`,
	"inbound_flag_check": `inbound_flag == "H" && numeric && value > 400.0`,
	"censored_value":     `value_text.startsWith(">")`,
	"range_present":      `reference_range != "" && numeric && value == 0.0`,
}
