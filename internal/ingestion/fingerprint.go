package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"labflow/internal/hl7"
)

const fingerprintPrefix = "sha256:"

// Fingerprint identifies a message that carries no usable control id. Line
// endings and MLLP framing are normalized first so the same payload sent
// over different transports maps to the same id.
func Fingerprint(raw string) string {
	normalized := strings.NewReplacer("\r\n", "\r", "\n", "\r").Replace(raw)
	normalized = strings.Trim(normalized, "\x0b\x1c\r \t")
	sum := sha256.Sum256([]byte(normalized))
	return fingerprintPrefix + hex.EncodeToString(sum[:])
}

// MessageID is MSH-10 when the message tokenized and has a header, and the
// fingerprint of the raw text otherwise.
func MessageID(msg *hl7.Message, raw string) string {
	if msg != nil {
		if id := msg.ControlID(); id != "" {
			return id
		}
	}
	return Fingerprint(raw)
}
