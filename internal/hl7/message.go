package hl7

import (
	"fmt"
	"strings"
)

const (
	SegmentMSH = "MSH"
	SegmentORC = "ORC"
	SegmentOBR = "OBR"
	SegmentOBX = "OBX"
	SegmentNTE = "NTE"
	SegmentMSA = "MSA"
)

// mshControlIDField is the last MSH field needed to identify a message.
const mshControlIDField = 10

type MalformedMessageError struct {
	Reason string
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed message: %s", e.Reason)
}

func malformed(format string, args ...interface{}) error {
	return &MalformedMessageError{Reason: fmt.Sprintf(format, args...)}
}

// Message is a tokenized HL7 message. Fields are split eagerly, everything
// below field level is resolved on access.
type Message struct {
	Delimiters Delimiters
	Segments   []Segment
	// Unrecognized holds lines skipped because they carry no segment code,
	// e.g. free text an instrument wrapped onto its own line.
	Unrecognized []string
}

// Segment holds the raw, still escaped fields of one segment. fields[0] is
// the segment code, so fields[n] is field n in HL7 numbering for every
// segment including MSH.
type Segment struct {
	Code   string
	fields []string
	delims Delimiters
}

func NewMessage(segments ...Segment) *Message {
	d := DefaultDelimiters
	if len(segments) > 0 && segments[0].Code == SegmentMSH {
		d = segments[0].delims
	}
	return &Message{Delimiters: d, Segments: segments}
}

// Tokenize splits raw into segments and fields. Line endings may be CR, LF
// or CRLF and MLLP framing bytes are ignored. Lines without a segment code
// are collected in Unrecognized; the message is malformed only when no line
// has one.
func Tokenize(raw string) (*Message, error) {
	text := strings.Map(func(r rune) rune {
		if r == StartBlock || r == EndBlock {
			return -1
		}
		return r
	}, raw)
	text = strings.ReplaceAll(text, "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	var lines []string
	for _, line := range strings.Split(text, "\r") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, malformed("message is empty")
	}

	d := DefaultDelimiters
	for _, line := range lines {
		if strings.HasPrefix(line, SegmentMSH) {
			d = delimitersFromHeader(line)
			break
		}
	}

	msg := &Message{Delimiters: d, Segments: make([]Segment, 0, len(lines))}
	for _, line := range lines {
		seg, err := ParseSegment(line, d)
		if err != nil {
			msg.Unrecognized = append(msg.Unrecognized, line)
			continue
		}
		msg.Segments = append(msg.Segments, seg)
	}
	if len(msg.Segments) == 0 {
		return nil, malformed("none of %d lines carries a recognizable segment code, first is %q", len(lines), truncate(lines[0], 8))
	}

	if msh, ok := msg.First(SegmentMSH); ok {
		if msh.FieldCount() < mshControlIDField {
			return nil, malformed("MSH has %d fields, message control id (MSH-%d) is missing", msh.FieldCount(), mshControlIDField)
		}
		if strings.TrimSpace(msh.Text(mshControlIDField)) == "" {
			return nil, malformed("MSH-%d message control id is blank", mshControlIDField)
		}
	}

	return msg, nil
}

// ParseSegment parses one segment line using the given delimiters.
func ParseSegment(line string, d Delimiters) (Segment, error) {
	code := line
	if i := strings.IndexByte(line, d.Field); i >= 0 {
		code = line[:i]
	}
	if !validSegmentCode(code) {
		return Segment{}, fmt.Errorf("unrecognizable segment code %q", truncate(code, 8))
	}

	if code == SegmentMSH {
		if len(line) < 4 {
			return Segment{Code: code, fields: []string{code}, delims: d}, nil
		}
		rest := strings.Split(line[4:], string(d.Field))
		fields := make([]string, 0, len(rest)+2)
		fields = append(fields, code, string(d.Field))
		fields = append(fields, rest...)
		return Segment{Code: code, fields: fields, delims: d}, nil
	}

	return Segment{Code: code, fields: strings.Split(line, string(d.Field)), delims: d}, nil
}

func validSegmentCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	if code[0] < 'A' || code[0] > 'Z' {
		return false
	}
	for i := 1; i < 3; i++ {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// First returns the first segment with the given code.
func (m *Message) First(code string) (Segment, bool) {
	for _, seg := range m.Segments {
		if seg.Code == code {
			return seg, true
		}
	}
	return Segment{}, false
}

func (m *Message) Find(code string) []Segment {
	var out []Segment
	for _, seg := range m.Segments {
		if seg.Code == code {
			out = append(out, seg)
		}
	}
	return out
}

// Header returns the MSH segment when it is present.
func (m *Message) Header() (MSH, bool) {
	seg, ok := m.First(SegmentMSH)
	if !ok {
		return MSH{}, false
	}
	return seg.MSH()
}

// ControlID returns MSH-10, or "" when the message has no header.
func (m *Message) ControlID() string {
	msh, ok := m.Header()
	if !ok {
		return ""
	}
	return msh.ControlID
}

func (m *Message) Encode() string {
	parts := make([]string, len(m.Segments))
	for i, seg := range m.Segments {
		parts[i] = seg.Encode()
	}
	return strings.Join(parts, "\r")
}

// FieldCount returns the number of the last field present.
func (s Segment) FieldCount() int {
	if len(s.fields) == 0 {
		return 0
	}
	return len(s.fields) - 1
}

// Field returns field n still escaped. ok is false when the segment ends
// before n.
func (s Segment) Field(n int) (string, bool) {
	if n < 1 || n >= len(s.fields) {
		return "", false
	}
	return s.fields[n], true
}

// Text returns field n with escape sequences resolved.
func (s Segment) Text(n int) string {
	raw, ok := s.Field(n)
	if !ok {
		return ""
	}
	if s.isEncodingField(n) {
		return raw
	}
	return s.delims.Unescape(raw)
}

func (s Segment) Repetitions(n int) []string {
	raw, ok := s.Field(n)
	if !ok || raw == "" {
		return nil
	}
	if s.isEncodingField(n) {
		return []string{raw}
	}
	return strings.Split(raw, string(s.delims.Repetition))
}

// Components splits the first repetition of field n into unescaped
// components.
func (s Segment) Components(n int) []string {
	reps := s.Repetitions(n)
	if len(reps) == 0 {
		return nil
	}
	if s.isEncodingField(n) {
		return reps
	}
	parts := strings.Split(reps[0], string(s.delims.Component))
	for i, p := range parts {
		parts[i] = s.delims.Unescape(p)
	}
	return parts
}

// Component returns component c (1-based) of field n, or "".
func (s Segment) Component(n, c int) string {
	comps := s.Components(n)
	if c < 1 || c > len(comps) {
		return ""
	}
	return comps[c-1]
}

func (s Segment) SubComponent(n, c, sub int) string {
	reps := s.Repetitions(n)
	if len(reps) == 0 || s.isEncodingField(n) {
		return ""
	}
	comps := strings.Split(reps[0], string(s.delims.Component))
	if c < 1 || c > len(comps) {
		return ""
	}
	subs := strings.Split(comps[c-1], string(s.delims.SubComponent))
	if sub < 1 || sub > len(subs) {
		return ""
	}
	return s.delims.Unescape(subs[sub-1])
}

func (s Segment) isEncodingField(n int) bool {
	return s.Code == SegmentMSH && (n == 1 || n == 2)
}

func (s Segment) Encode() string {
	sep := string(s.delims.Field)
	if s.Code == SegmentMSH && len(s.fields) > 2 {
		return s.Code + sep + strings.Join(s.fields[2:], sep)
	}
	return strings.Join(s.fields, sep)
}
