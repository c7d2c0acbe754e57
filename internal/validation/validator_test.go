package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labflow/internal/hl7"
	"labflow/pkg/models"
)

const header = `MSH|^~\&|LIS|LAB|LABFLOW|HOSP|20240501093000||ORU^R01|MSG0001|P|2.5.1`

func tokenize(t *testing.T, lines ...string) *hl7.Message {
	t.Helper()
	msg, err := hl7.Tokenize(strings.Join(lines, "\r"))
	require.NoError(t, err)
	return msg
}

func TestValidate_Valid(t *testing.T) {
	msg := tokenize(t,
		header,
		`OBR|1|ORD-1||CHEM^Chemistry^L`,
		`OBX|1|NM|GLU^Glucose^L||95|mg/dL|70-99`,
		`OBX|2|NM|NA^Sodium^L||140|mmol/L`,
	)

	verdict := Validate(msg, "")
	assert.True(t, verdict.Valid)
	assert.Empty(t, verdict.ErrorMessage)
	assert.NoError(t, verdict.Err())

	assert.True(t, Validate(msg, "ORD-1").Valid)
}

func TestValidate_MissingHeader(t *testing.T) {
	msg := tokenize(t,
		`OBR|1|ORD-1||CHEM^Chemistry^L`,
		`OBX|1|NM|GLU^Glucose^L||95|mg/dL`,
	)

	verdict := Validate(msg, "")
	assert.False(t, verdict.Valid)
	assert.NotEmpty(t, verdict.ErrorMessage)
	assert.Equal(t, "MSH", verdict.FieldPath)

	var failed *FailedError
	require.ErrorAs(t, verdict.Err(), &failed)
	assert.Equal(t, "MSH", failed.FieldPath)
}

func TestValidate_HeaderNotFirst(t *testing.T) {
	obr, err := hl7.ParseSegment(`OBR|1|ORD-1`, hl7.DefaultDelimiters)
	require.NoError(t, err)
	msh, err := hl7.ParseSegment(header, hl7.DefaultDelimiters)
	require.NoError(t, err)

	verdict := Validate(hl7.NewMessage(obr, msh), "")
	assert.False(t, verdict.Valid)
	assert.Equal(t, "OBR", verdict.FieldValue)
}

func TestValidate_EmptyMessage(t *testing.T) {
	assert.False(t, Validate(nil, "").Valid)
	assert.False(t, Validate(hl7.NewMessage(), "").Valid)
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name      string
		lines     []string
		expected  string
		wantPath  string
		wantValue string
	}{
		{
			name:     "no order segment",
			lines:    []string{header, `NTE|1||nothing here`},
			wantPath: "OBR",
		},
		{
			name:     "no observation segment",
			lines:    []string{header, `OBR|1|ORD-1`},
			wantPath: "OBX",
		},
		{
			name:      "observation before order",
			lines:     []string{header, `OBX|1|NM|GLU^Glucose^L||95|mg/dL`, `OBR|1|ORD-1`},
			wantPath:  "OBX[1]",
			wantValue: `OBX|1|NM|GLU^Glucose^L||95|mg/dL`,
		},
		{
			name:     "missing analyte id",
			lines:    []string{header, `OBR|1|ORD-1`, `OBX|1|NM|||95|mg/dL`},
			wantPath: "OBX[1]-3",
		},
		{
			name:     "missing value",
			lines:    []string{header, `OBR|1|ORD-1`, `OBX|1|NM|GLU^Glucose^L||95|mg/dL`, `OBX|2|NM|NA^Sodium^L|||mmol/L`},
			wantPath: "OBX[2]-5",
		},
		{
			name:     "missing units",
			lines:    []string{header, `OBR|1|ORD-1`, `OBX|1|NM|GLU^Glucose^L||95|mg/dL`, `OBX|2|NM|NA^Sodium^L||140`},
			wantPath: "OBX[2]-6",
		},
		{
			name:      "order id mismatch",
			lines:     []string{header, `OBR|1|ORD-2`, `OBX|1|NM|GLU^Glucose^L||95|mg/dL`},
			expected:  "ORD-1",
			wantPath:  "OBR[1]-2",
			wantValue: "ORD-2",
		},
		{
			name:      "second order mismatch",
			lines:     []string{header, `OBR|1|ORD-1`, `OBX|1|NM|GLU^Glucose^L||95|mg/dL`, `OBR|2|ORD-3`, `OBX|2|NM|NA^Sodium^L||140|mmol/L`},
			expected:  "ORD-1",
			wantPath:  "OBR[2]-2",
			wantValue: "ORD-3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := Validate(tokenize(t, tt.lines...), tt.expected)
			assert.False(t, verdict.Valid)
			assert.NotEmpty(t, verdict.ErrorMessage)
			assert.Equal(t, tt.wantPath, verdict.FieldPath)
			if tt.wantValue != "" {
				assert.Equal(t, tt.wantValue, verdict.FieldValue)
			}
			assert.Error(t, verdict.Err())
		})
	}
}

func TestValidate_OrderIDFromCommonOrder(t *testing.T) {
	msg := tokenize(t,
		header,
		`ORC|RE|ORD-7`,
		`OBR|1||FIL-1|CHEM^Chemistry^L`,
		`OBX|1|NM|GLU^Glucose^L||95|mg/dL`,
	)

	assert.True(t, Validate(msg, "ORD-7").Valid)
	assert.False(t, Validate(msg, "ORD-8").Valid)
}

func TestValidate_StopsAtFirstFailure(t *testing.T) {
	msg := tokenize(t,
		header,
		`OBR|1|ORD-2`,
		`OBX|1|NM|GLU^Glucose^L||95|`,
	)

	verdict := Validate(msg, "ORD-1")
	assert.Equal(t, "OBX[1]-6", verdict.FieldPath)
}

func TestIsFinalResult(t *testing.T) {
	tests := []struct {
		status models.ResultStatus
		want   bool
	}{
		{status: models.StatusFinal, want: true},
		{status: models.StatusPreliminary, want: false},
		{status: models.StatusCorrected, want: false},
		{status: models.StatusCancelled, want: false},
		{status: models.StatusUnknown, want: false},
		{status: models.ResultStatus("Z"), want: false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, IsFinalResult(tt.status))
		})
	}
}
