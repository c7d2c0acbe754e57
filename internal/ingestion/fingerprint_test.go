package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labflow/internal/hl7"
)

func TestFingerprint_NormalizesTransportDifferences(t *testing.T) {
	crlf := Fingerprint("MSH|^~\\&|A\r\nPID|1\r\n")
	lf := Fingerprint("MSH|^~\\&|A\nPID|1\n")
	framed := Fingerprint("\x0bMSH|^~\\&|A\rPID|1\r\x1c\r")

	assert.Equal(t, crlf, lf)
	assert.Equal(t, crlf, framed)
	assert.Len(t, crlf, len("sha256:")+64)
	assert.NotEqual(t, crlf, Fingerprint("MSH|^~\\&|B"))
}

func TestMessageID(t *testing.T) {
	msg, err := hl7.Tokenize(gluNaMessage())
	require.NoError(t, err)
	assert.Equal(t, "MSG-1", MessageID(msg, gluNaMessage()))

	headerless, err := hl7.Tokenize("OBR|1|ORD-1")
	require.NoError(t, err)
	assert.Equal(t, Fingerprint("OBR|1|ORD-1"), MessageID(headerless, "OBR|1|ORD-1"))

	assert.Equal(t, Fingerprint("junk"), MessageID(nil, "junk"))
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StatePublished, StateSkipped, StateQuarantined, StateFailed} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []State{StateReceived, StateTokenized, StateValidated, StateParsed, StateFlagged, StatePersisted} {
		assert.False(t, s.Terminal(), s)
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, State("DONE").Valid())
}
