package hl7

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const TimestampLayout = "20060102150405"

var timestampLayouts = map[int]string{
	4:  "2006",
	6:  "200601",
	8:  "20060102",
	10: "2006010215",
	12: "200601021504",
	14: "20060102150405",
}

// ParseTimestamp parses an HL7 DTM value: YYYY[MM[DD[HH[MM[SS[.S+]]]]]][+/-ZZZZ].
// Values without an offset are taken as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	loc := time.UTC
	if i := strings.IndexAny(s, "+-"); i > 0 {
		zone := s[i:]
		s = s[:i]
		offset, err := parseZoneOffset(zone)
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp %q: %w", value, err)
		}
		loc = time.FixedZone(zone, offset)
	}

	var nanos int
	if i := strings.IndexByte(s, '.'); i >= 0 {
		frac := s[i+1:]
		s = s[:i]
		if frac == "" || len(frac) > 9 {
			return time.Time{}, fmt.Errorf("timestamp %q: invalid fractional seconds", value)
		}
		n, err := strconv.Atoi(frac)
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp %q: invalid fractional seconds", value)
		}
		for j := len(frac); j < 9; j++ {
			n *= 10
		}
		nanos = n
	}

	layout, ok := timestampLayouts[len(s)]
	if !ok {
		return time.Time{}, fmt.Errorf("timestamp %q: unsupported precision", value)
	}
	t, err := time.ParseInLocation(layout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", value, err)
	}
	return t.Add(time.Duration(nanos)), nil
}

func parseZoneOffset(zone string) (int, error) {
	if len(zone) != 5 {
		return 0, fmt.Errorf("invalid zone offset %q", zone)
	}
	hh, err := strconv.Atoi(zone[1:3])
	if err != nil {
		return 0, fmt.Errorf("invalid zone offset %q", zone)
	}
	mm, err := strconv.Atoi(zone[3:5])
	if err != nil || hh > 14 || mm > 59 {
		return 0, fmt.Errorf("invalid zone offset %q", zone)
	}
	offset := hh*3600 + mm*60
	if zone[0] == '-' {
		offset = -offset
	}
	return offset, nil
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
