package hl7

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResultMessage() string {
	return strings.Join([]string{
		`MSH|^~\&|LIS|LAB|LABFLOW|HOSP|20240501093000||ORU^R01|MSG0001|P|2.5.1`,
		`OBR|1|ORD-1||CHEM^Chemistry^L|||20240501090000`,
		`OBX|1|NM|GLU^Glucose^L|1|95|mg/dL|70-99||||F|||20240501091500`,
		`OBX|2|NM|NA^Sodium^L|1|140|mmol/L|135-145|N|||F`,
		`NTE|1|L|Hemolyzed \T\ lipemic`,
	}, "\r")
}

func TestTokenize_SplitsSegmentsAndFields(t *testing.T) {
	msg, err := Tokenize(sampleResultMessage())
	require.NoError(t, err)
	require.Len(t, msg.Segments, 5)

	codes := make([]string, 0, len(msg.Segments))
	for _, seg := range msg.Segments {
		codes = append(codes, seg.Code)
	}
	assert.Equal(t, []string{"MSH", "OBR", "OBX", "OBX", "NTE"}, codes)

	msh := msg.Segments[0]
	assert.Equal(t, "|", msh.Text(1))
	assert.Equal(t, `^~\&`, msh.Text(2))
	assert.Equal(t, "LIS", msh.Text(3))
	assert.Equal(t, "ORU^R01", msh.Text(9))
	assert.Equal(t, "R01", msh.Component(9, 2))
	assert.Equal(t, "MSG0001", msg.ControlID())

	obx := msg.Segments[2]
	assert.Equal(t, "Glucose", obx.Component(3, 2))
	assert.Equal(t, 14, obx.FieldCount())
}

func TestTokenize_LineEndings(t *testing.T) {
	lines := strings.Split(sampleResultMessage(), "\r")

	tests := []struct {
		name string
		raw  string
	}{
		{name: "carriage return", raw: strings.Join(lines, "\r")},
		{name: "line feed", raw: strings.Join(lines, "\n")},
		{name: "crlf", raw: strings.Join(lines, "\r\n")},
		{name: "trailing blank lines", raw: strings.Join(lines, "\r") + "\r\r\n"},
		{name: "mllp framed", raw: string(Frame([]byte(strings.Join(lines, "\r"))))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Tokenize(tt.raw)
			require.NoError(t, err)
			assert.Len(t, msg.Segments, 5)
			assert.Equal(t, "MSG0001", msg.ControlID())
		})
	}
}

func TestTokenize_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "whitespace only", raw: " \r\n \r"},
		{name: "no recognizable segment", raw: "hello world"},
		{name: "lower case segment code", raw: "obx|1|NM|GLU||5|mg"},
		{name: "header too short for control id", raw: `MSH|^~\&|LIS|LAB`},
		{name: "blank control id", raw: `MSH|^~\&|LIS|LAB|RCV|FAC|20240501||ORU^R01||P|2.5.1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Tokenize(tt.raw)
			require.Error(t, err)
			assert.Nil(t, msg)

			var malformedErr *MalformedMessageError
			require.ErrorAs(t, err, &malformedErr)
			assert.NotEmpty(t, malformedErr.Reason)
		})
	}
}

func TestTokenize_SkipsUnrecognizedLines(t *testing.T) {
	raw := "MSH|^~\\&|LIS|LAB|RCV|FAC|20240501||ORU^R01|ID1|P|2.5.1\r" +
		"OBR|1|ORD-1\r" +
		"specimen slightly hemolyzed\r" +
		"OBX|1|NM|GLU||95|mg/dL"

	msg, err := Tokenize(raw)
	require.NoError(t, err)

	assert.Len(t, msg.Segments, 3)
	assert.Equal(t, "ID1", msg.ControlID())
	assert.Equal(t, []string{"specimen slightly hemolyzed"}, msg.Unrecognized)
	assert.Len(t, msg.Find(SegmentOBX), 1)
}

func TestTokenize_WithoutHeader(t *testing.T) {
	msg, err := Tokenize("OBR|1|ORD-1\rOBX|1|NM|GLU||95|mg/dL")
	require.NoError(t, err)

	_, ok := msg.Header()
	assert.False(t, ok)
	assert.Empty(t, msg.ControlID())
	assert.Len(t, msg.Find(SegmentOBX), 1)
}

func TestTokenize_CustomDelimiters(t *testing.T) {
	raw := "MSH#!~\\&#LIS#LAB#RCV#FAC#20240501##ORU!R01#ID9#P#2.5.1\rOBX#1#NM#GLU!Glucose#1#5#mg"

	msg, err := Tokenize(raw)
	require.NoError(t, err)

	assert.Equal(t, byte('#'), msg.Delimiters.Field)
	assert.Equal(t, byte('!'), msg.Delimiters.Component)
	assert.Equal(t, "ID9", msg.ControlID())

	obx, ok := msg.Segments[1].OBX()
	require.True(t, ok)
	assert.Equal(t, "Glucose", obx.Identifier.Text)
	assert.Equal(t, "5", obx.Value)
}

func TestSegment_AccessPastEnd(t *testing.T) {
	msg, err := Tokenize(sampleResultMessage())
	require.NoError(t, err)

	obr := msg.Segments[1]
	_, ok := obr.Field(40)
	assert.False(t, ok)
	assert.Empty(t, obr.Text(40))
	assert.Empty(t, obr.Component(40, 2))
	assert.Empty(t, obr.Component(4, 9))
	assert.Empty(t, obr.SubComponent(4, 1, 3))
	assert.Nil(t, obr.Repetitions(5))
}

func TestSegment_RepetitionsAndSubComponents(t *testing.T) {
	seg, err := ParseSegment(`OBX|1|ST|CMT^Comment||first~second|||||F||||LAB&Main Lab&L`, DefaultDelimiters)
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, seg.Repetitions(5))
	assert.Equal(t, "Main Lab", seg.SubComponent(14, 1, 2))
}

func TestSegment_EncodeRoundTrip(t *testing.T) {
	raw := sampleResultMessage()
	msg, err := Tokenize(raw)
	require.NoError(t, err)

	assert.Equal(t, raw, msg.Encode())
}

func TestDelimiters_EscapeValue(t *testing.T) {
	d := DefaultDelimiters

	assert.Equal(t, `a\F\b\S\c\T\d\R\e\E\f`, d.EscapeValue(`a|b^c&d~e\f`))
	assert.Equal(t, "plain", d.EscapeValue("plain"))
}

func TestDelimiters_Unescape(t *testing.T) {
	d := DefaultDelimiters

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "all delimiters", in: `a\F\b\S\c\T\d\R\e\E\f`, want: `a|b^c&d~e\f`},
		{name: "line break", in: `one\.br\two`, want: "one\ntwo"},
		{name: "unknown sequence kept", in: `x\X41\y`, want: `x\X41\y`},
		{name: "unterminated", in: `tail\F`, want: `tail\F`},
		{name: "no escapes", in: "value", want: "value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Unescape(tt.in))
		})
	}
}

func TestSegment_TextUnescapes(t *testing.T) {
	msg, err := Tokenize(sampleResultMessage())
	require.NoError(t, err)

	nte, ok := msg.Segments[4].NTE()
	require.True(t, ok)
	assert.Equal(t, "Hemolyzed & lipemic", nte.Comment)
}
