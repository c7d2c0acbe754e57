package hl7

import (
	"strings"
	"time"
)

// SegmentBuilder assembles a segment from unescaped values.
type SegmentBuilder struct {
	code   string
	fields []string
	delims Delimiters
}

func NewSegment(code string) *SegmentBuilder {
	return &SegmentBuilder{code: code, fields: []string{code}, delims: DefaultDelimiters}
}

func (b *SegmentBuilder) grow(n int) {
	for len(b.fields) <= n {
		b.fields = append(b.fields, "")
	}
}

// Set stores value as field n, escaping delimiter characters.
func (b *SegmentBuilder) Set(n int, value string) *SegmentBuilder {
	b.grow(n)
	b.fields[n] = b.delims.EscapeValue(value)
	return b
}

// SetComponents stores the escaped components joined by the component
// separator. Trailing empty components are dropped.
func (b *SegmentBuilder) SetComponents(n int, components ...string) *SegmentBuilder {
	last := len(components)
	for last > 0 && components[last-1] == "" {
		last--
	}
	escaped := make([]string, last)
	for i := 0; i < last; i++ {
		escaped[i] = b.delims.EscapeValue(components[i])
	}
	b.grow(n)
	b.fields[n] = strings.Join(escaped, string(b.delims.Component))
	return b
}

func (b *SegmentBuilder) Build() Segment {
	fields := make([]string, len(b.fields))
	copy(fields, b.fields)
	return Segment{Code: b.code, fields: fields, delims: b.delims}
}

// Header describes an MSH segment to be built.
type Header struct {
	SendingApplication   string
	SendingFacility      string
	ReceivingApplication string
	ReceivingFacility    string
	Timestamp            time.Time
	MessageType          string
	TriggerEvent         string
	ControlID            string
	ProcessingID         string
	Version              string
}

const DefaultVersion = "2.5.1"

func BuildHeader(h Header) Segment {
	b := NewSegment(SegmentMSH)
	b.grow(2)
	b.fields[1] = string(b.delims.Field)
	b.fields[2] = b.delims.EncodingCharacters()

	processing := h.ProcessingID
	if processing == "" {
		processing = "P"
	}
	version := h.Version
	if version == "" {
		version = DefaultVersion
	}

	b.Set(3, h.SendingApplication).
		Set(4, h.SendingFacility).
		Set(5, h.ReceivingApplication).
		Set(6, h.ReceivingFacility).
		Set(7, FormatTimestamp(h.Timestamp)).
		SetComponents(9, h.MessageType, h.TriggerEvent).
		Set(10, h.ControlID).
		Set(11, processing).
		Set(12, version)
	return b.Build()
}
