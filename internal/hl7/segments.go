package hl7

import "strings"

// CodedElement is a CE/CWE value: identifier^text^coding system^alternate id.
type CodedElement struct {
	Identifier          string
	Text                string
	CodingSystem        string
	AlternateIdentifier string
}

func (s Segment) coded(n int) CodedElement {
	return CodedElement{
		Identifier:          strings.TrimSpace(s.Component(n, 1)),
		Text:                strings.TrimSpace(s.Component(n, 2)),
		CodingSystem:        strings.TrimSpace(s.Component(n, 3)),
		AlternateIdentifier: strings.TrimSpace(s.Component(n, 4)),
	}
}

func (c CodedElement) Empty() bool {
	return c.Identifier == "" && c.Text == "" && c.AlternateIdentifier == ""
}

type MSH struct {
	Segment
	SendingApplication   string
	SendingFacility      string
	ReceivingApplication string
	ReceivingFacility    string
	Timestamp            string
	MessageType          string
	TriggerEvent         string
	ControlID            string
	ProcessingID         string
	Version              string
}

func (s Segment) MSH() (MSH, bool) {
	if s.Code != SegmentMSH {
		return MSH{}, false
	}
	return MSH{
		Segment:              s,
		SendingApplication:   s.Component(3, 1),
		SendingFacility:      s.Component(4, 1),
		ReceivingApplication: s.Component(5, 1),
		ReceivingFacility:    s.Component(6, 1),
		Timestamp:            s.Component(7, 1),
		MessageType:          s.Component(9, 1),
		TriggerEvent:         s.Component(9, 2),
		ControlID:            strings.TrimSpace(s.Text(10)),
		ProcessingID:         s.Component(11, 1),
		Version:              s.Component(12, 1),
	}, true
}

type ORC struct {
	Segment
	OrderControl      string
	PlacerOrderNumber string
	FillerOrderNumber string
}

func (s Segment) ORC() (ORC, bool) {
	if s.Code != SegmentORC {
		return ORC{}, false
	}
	return ORC{
		Segment:           s,
		OrderControl:      s.Component(1, 1),
		PlacerOrderNumber: strings.TrimSpace(s.Component(2, 1)),
		FillerOrderNumber: strings.TrimSpace(s.Component(3, 1)),
	}, true
}

type OBR struct {
	Segment
	SetID             string
	PlacerOrderNumber string
	FillerOrderNumber string
	Service           CodedElement
	ObservedAt        string
}

func (s Segment) OBR() (OBR, bool) {
	if s.Code != SegmentOBR {
		return OBR{}, false
	}
	return OBR{
		Segment:           s,
		SetID:             s.Text(1),
		PlacerOrderNumber: strings.TrimSpace(s.Component(2, 1)),
		FillerOrderNumber: strings.TrimSpace(s.Component(3, 1)),
		Service:           s.coded(4),
		ObservedAt:        s.Component(7, 1),
	}, true
}

type OBX struct {
	Segment
	SetID          string
	ValueType      string
	Identifier     CodedElement
	Value          string
	Units          string
	ReferenceRange string
	AbnormalFlags  string
	ResultStatus   string
	ObservedAt     string
}

func (s Segment) OBX() (OBX, bool) {
	if s.Code != SegmentOBX {
		return OBX{}, false
	}
	valueType := strings.ToUpper(strings.TrimSpace(s.Text(2)))
	return OBX{
		Segment:        s,
		SetID:          s.Text(1),
		ValueType:      valueType,
		Identifier:     s.coded(3),
		Value:          strings.TrimSpace(observationValue(s, valueType)),
		Units:          strings.TrimSpace(s.Component(6, 1)),
		ReferenceRange: strings.TrimSpace(s.Text(7)),
		AbnormalFlags:  strings.TrimSpace(s.Component(8, 1)),
		ResultStatus:   strings.TrimSpace(s.Text(11)),
		ObservedAt:     s.Component(14, 1),
	}, true
}

// observationValue flattens OBX-5 according to its value type. Structured
// numerics (<^10, ^10^-^20) are joined, coded values yield their identifier.
func observationValue(s Segment, valueType string) string {
	switch valueType {
	case "SN":
		return strings.Join(s.Components(5), "")
	case "CE", "CWE", "CNE":
		if id := s.Component(5, 1); id != "" {
			return id
		}
		return s.Component(5, 2)
	}
	return s.Text(5)
}

type NTE struct {
	Segment
	SetID   string
	Source  string
	Comment string
}

func (s Segment) NTE() (NTE, bool) {
	if s.Code != SegmentNTE {
		return NTE{}, false
	}
	comments := s.Repetitions(3)
	for i, c := range comments {
		comments[i] = s.delims.Unescape(c)
	}
	return NTE{
		Segment: s,
		SetID:   s.Text(1),
		Source:  s.Text(2),
		Comment: strings.Join(comments, "\n"),
	}, true
}

// Observation is one OBX with the notes that follow it.
type Observation struct {
	OBX
	Position int
	Notes    []string
}

// OrderGroup is an OBR, the ORC preceding it and the observations it owns.
type OrderGroup struct {
	Common       *ORC
	Request      OBR
	Position     int
	Notes        []string
	Observations []Observation
}

// OrderID is OBR-2, falling back to the ORC placer number.
func (g OrderGroup) OrderID() string {
	if g.Request.PlacerOrderNumber != "" {
		return g.Request.PlacerOrderNumber
	}
	if g.Common != nil {
		return g.Common.PlacerOrderNumber
	}
	return ""
}

// Groups arranges the message into order groups. OBX segments appearing
// before any OBR are not part of a group. Positions count segments of the
// same code from 1.
func (m *Message) Groups() []OrderGroup {
	var (
		groups   []OrderGroup
		pending  *ORC
		obrCount int
		obxCount int
		lastObs  *Observation
	)

	for _, seg := range m.Segments {
		switch seg.Code {
		case SegmentORC:
			orc, _ := seg.ORC()
			pending = &orc
			lastObs = nil
		case SegmentOBR:
			obrCount++
			obr, _ := seg.OBR()
			groups = append(groups, OrderGroup{Common: pending, Request: obr, Position: obrCount})
			lastObs = nil
		case SegmentOBX:
			obxCount++
			if len(groups) == 0 {
				lastObs = nil
				continue
			}
			obx, _ := seg.OBX()
			g := &groups[len(groups)-1]
			g.Observations = append(g.Observations, Observation{OBX: obx, Position: obxCount})
			lastObs = &g.Observations[len(g.Observations)-1]
		case SegmentNTE:
			nte, _ := seg.NTE()
			if nte.Comment == "" {
				continue
			}
			if lastObs != nil {
				lastObs.Notes = append(lastObs.Notes, nte.Comment)
			} else if len(groups) > 0 {
				g := &groups[len(groups)-1]
				g.Notes = append(g.Notes, nte.Comment)
			}
		}
	}

	return groups
}
