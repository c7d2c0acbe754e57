package parser

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labflow/internal/catalog"
	"labflow/internal/hl7"
	"labflow/pkg/models"
)

func testCatalog() *catalog.StaticLookup {
	return catalog.NewStaticLookup(
		catalog.Entry{ID: "cat-glu", LocalCode: "GLU", StandardCode: "2345-7", CodingSystem: "LN", Name: "Glucose", Unit: "mg/dL"},
		catalog.Entry{ID: "cat-na", LocalCode: "NA", StandardCode: "2951-2", CodingSystem: "LN", Name: "Sodium", Unit: "mmol/L"},
		catalog.Entry{ID: "cat-k", LocalCode: "K", StandardCode: "2823-3", CodingSystem: "LN", Name: "Potassium", Unit: "mmol/L"},
	)
}

func tokenize(t *testing.T, lines ...string) *hl7.Message {
	t.Helper()
	msg, err := hl7.Tokenize(strings.Join(lines, "\r"))
	require.NoError(t, err)
	return msg
}

const header = `MSH|^~\&|LIS|LAB|LABFLOW|HOSP|20240501093000||ORU^R01|MSG0001|P|2.5.1`

func TestParse_ResolvesObservations(t *testing.T) {
	msg := tokenize(t,
		header,
		`OBR|1|ORD-1||CHEM^Chemistry^L|||20240501090000`,
		`OBX|1|NM|GLU^Glucose^L|1|182|mg/dL|70-99|H|||F|||20240501091500`,
		`NTE|1|L|Repeat draw advised`,
		`OBX|2|NM|NA^Sodium^L|1|140|mmol/L|135-145|N|||P`,
	)
	received := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	results, err := New(testCatalog()).Parse(context.Background(), msg, received)
	require.NoError(t, err)
	require.Len(t, results, 2)

	glu := results[0]
	require.NotNil(t, glu.TestCode)
	assert.Equal(t, "GLU", *glu.TestCode)
	assert.Equal(t, "cat-glu", glu.CatalogID)
	assert.Equal(t, "ORD-1", glu.OrderID)
	assert.Equal(t, "Glucose", glu.AnalyteName)
	assert.Equal(t, "GLU", glu.ObservationCode)
	assert.Equal(t, "182", glu.ValueText)
	assert.Equal(t, "mg/dL", glu.Unit)
	assert.Equal(t, "70-99", glu.ReferenceRange)
	assert.Equal(t, models.FlagHigh, glu.AbnormalFlag)
	assert.Equal(t, models.StatusFinal, glu.ResultStatus)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 15, 0, 0, time.UTC), glu.MeasuredAt)
	assert.Equal(t, "MSG0001", glu.SourceMessageID)
	assert.Equal(t, []string{"Repeat draw advised"}, glu.Notes)
	assert.Equal(t, 1, glu.Position)

	na := results[1]
	require.NotNil(t, na.TestCode)
	assert.Equal(t, "NA", *na.TestCode)
	assert.Equal(t, models.FlagNormal, na.AbnormalFlag)
	assert.Equal(t, models.StatusPreliminary, na.ResultStatus)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), na.MeasuredAt, "falls back to OBR-7")
	assert.Empty(t, na.Notes)
	assert.Equal(t, 2, na.Position)
}

func TestParse_ResolutionOrder(t *testing.T) {
	tests := []struct {
		name     string
		obx      string
		wantCode string
	}{
		{name: "local code", obx: `OBX|1|NM|glu^Whatever^L|1|5|mg/dL`, wantCode: "GLU"},
		{name: "standard code from alternate identifier", obx: `OBX|1|NM|X1^Unknown^L^2951-2|1|5|mmol/L`, wantCode: "NA"},
		{name: "standard code in identifier", obx: `OBX|1|NM|2823-3^^LN|1|5|mmol/L`, wantCode: "K"},
		{name: "name", obx: `OBX|1|NM|Q9^potassium^L|1|5|mmol/L`, wantCode: "K"},
		{name: "local code wins over name", obx: `OBX|1|NM|NA^Potassium^L|1|5|mmol/L`, wantCode: "NA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tokenize(t, header, `OBR|1|ORD-1`, tt.obx)
			results, err := New(testCatalog()).Parse(context.Background(), msg, time.Now())
			require.NoError(t, err)
			require.Len(t, results, 1)
			require.NotNil(t, results[0].TestCode)
			assert.Equal(t, tt.wantCode, *results[0].TestCode)
		})
	}
}

func TestParse_UnresolvedAnalyteIsKept(t *testing.T) {
	msg := tokenize(t,
		header,
		`OBR|1|ORD-1`,
		`OBX|1|NM|XYZ^Mystery^L|1|7|U/L`,
	)
	received := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	results, err := New(testCatalog()).Parse(context.Background(), msg, received)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].TestCode)
	assert.False(t, results[0].Resolved())
	assert.Equal(t, "Mystery", results[0].AnalyteName)
	assert.Equal(t, "XYZ", results[0].ObservationCode)
	assert.Equal(t, received, results[0].MeasuredAt)
	assert.Equal(t, models.FlagUnflagged, results[0].AbnormalFlag)
}

func TestParse_UnitFallsBackToCatalog(t *testing.T) {
	msg := tokenize(t, header, `OBR|1|ORD-1`, `OBX|1|NM|GLU^Glucose^L|1|90||70-99`)
	results, err := New(testCatalog()).Parse(context.Background(), msg, time.Now())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "mg/dL", results[0].Unit)
}

func TestParse_EscapedAndStructuredValues(t *testing.T) {
	msg := tokenize(t,
		header,
		`OBR|1|ORD-1`,
		`OBX|1|ST|GLU^Glucose^L|1|see \T\ repeat|mg/dL`,
		`OBX|2|SN|NA^Sodium^L|1|<^135|mmol/L`,
	)
	results, err := New(testCatalog()).Parse(context.Background(), msg, time.Now())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "see & repeat", results[0].ValueText)
	assert.Equal(t, "<135", results[1].ValueText)
}

func TestParse_OrderIDFallsBackToORC(t *testing.T) {
	msg := tokenize(t,
		header,
		`ORC|RE|ORD-7`,
		`OBR|1|||CHEM`,
		`OBX|1|NM|GLU^Glucose^L|1|90|mg/dL`,
	)
	results, err := New(testCatalog()).Parse(context.Background(), msg, time.Now())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ORD-7", results[0].OrderID)
}

type failingLookup struct{}

func (failingLookup) FindByLocalCode(context.Context, string) (*catalog.Entry, error) {
	return nil, errors.New("catalog unavailable")
}

func (failingLookup) FindByStandardCode(context.Context, string) (*catalog.Entry, error) {
	return nil, errors.New("catalog unavailable")
}

func (failingLookup) FindByName(context.Context, string) (*catalog.Entry, error) {
	return nil, errors.New("catalog unavailable")
}

func TestParse_CatalogErrorIsHard(t *testing.T) {
	msg := tokenize(t, header, `OBR|1|ORD-1`, `OBX|1|NM|GLU^Glucose^L|1|90|mg/dL`)
	results, err := New(failingLookup{}).Parse(context.Background(), msg, time.Now())
	require.Error(t, err)
	assert.Nil(t, results)
	assert.Contains(t, err.Error(), "catalog unavailable")
}

func TestParseOrderRequests(t *testing.T) {
	msg := tokenize(t,
		`MSH|^~\&|LABFLOW|LAB|ANALYZER|LAB|20240501090000||ORM^O01|CTRL-1|P|2.5.1`,
		`OBR|1|ORD-1|ITEM-1|GLU^Glucose^LN|||20240501090000`,
		`OBR|2|ORD-1|ITEM-2|NA^Sodium^LN|||20240501090000`,
	)

	requests := ParseOrderRequests(msg)
	assert.Equal(t, []OrderRequest{
		{OrderID: "ORD-1", ItemID: "ITEM-1", TestCode: "GLU", TestName: "Glucose", CodingSystem: "LN"},
		{OrderID: "ORD-1", ItemID: "ITEM-2", TestCode: "NA", TestName: "Sodium", CodingSystem: "LN"},
	}, requests)
}
