package hl7

import "strings"

// Delimiters is the separator set declared by MSH-1 and MSH-2.
type Delimiters struct {
	Field        byte
	Component    byte
	Repetition   byte
	Escape       byte
	SubComponent byte
}

var DefaultDelimiters = Delimiters{
	Field:        '|',
	Component:    '^',
	Repetition:   '~',
	Escape:       '\\',
	SubComponent: '&',
}

// EncodingCharacters returns the MSH-2 value for d.
func (d Delimiters) EncodingCharacters() string {
	return string([]byte{d.Component, d.Repetition, d.Escape, d.SubComponent})
}

func delimitersFromHeader(line string) Delimiters {
	d := DefaultDelimiters
	if len(line) < 4 {
		return d
	}
	d.Field = line[3]

	enc := line[4:]
	if i := strings.IndexByte(enc, d.Field); i >= 0 {
		enc = enc[:i]
	}
	if len(enc) > 0 {
		d.Component = enc[0]
	}
	if len(enc) > 1 {
		d.Repetition = enc[1]
	}
	if len(enc) > 2 {
		d.Escape = enc[2]
	}
	if len(enc) > 3 {
		d.SubComponent = enc[3]
	}
	return d
}

// EscapeValue replaces delimiter characters in value with HL7 escape sequences.
func (d Delimiters) EscapeValue(value string) string {
	if !strings.ContainsAny(value, string([]byte{d.Field, d.Component, d.Repetition, d.Escape, d.SubComponent})) {
		return value
	}

	var b strings.Builder
	b.Grow(len(value) + 8)
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch c {
		case d.Escape:
			b.WriteString(d.sequence('E'))
		case d.Field:
			b.WriteString(d.sequence('F'))
		case d.Component:
			b.WriteString(d.sequence('S'))
		case d.SubComponent:
			b.WriteString(d.sequence('T'))
		case d.Repetition:
			b.WriteString(d.sequence('R'))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Unescape resolves \F\ \S\ \T\ \R\ \E\ and \.br\ sequences. Unknown
// sequences are kept verbatim.
func (d Delimiters) Unescape(value string) string {
	if strings.IndexByte(value, d.Escape) < 0 {
		return value
	}

	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c != d.Escape {
			b.WriteByte(c)
			continue
		}

		end := strings.IndexByte(value[i+1:], d.Escape)
		if end < 0 {
			b.WriteString(value[i:])
			break
		}
		code := value[i+1 : i+1+end]
		switch code {
		case "F":
			b.WriteByte(d.Field)
		case "S":
			b.WriteByte(d.Component)
		case "T":
			b.WriteByte(d.SubComponent)
		case "R":
			b.WriteByte(d.Repetition)
		case "E":
			b.WriteByte(d.Escape)
		case ".br":
			b.WriteByte('\n')
		default:
			b.WriteByte(d.Escape)
			b.WriteString(code)
			b.WriteByte(d.Escape)
		}
		i += end + 1
	}
	return b.String()
}

func (d Delimiters) sequence(code byte) string {
	return string([]byte{d.Escape, code, d.Escape})
}
