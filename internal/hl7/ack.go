package hl7

import "time"

type AckCode string

const (
	AckAccept AckCode = "AA"
	AckError  AckCode = "AE"
	AckReject AckCode = "AR"
)

func (c AckCode) Valid() bool {
	switch c {
	case AckAccept, AckError, AckReject:
		return true
	}
	return false
}

// BuildAck answers incoming with an ACK whose MSA-2 references
// acknowledgedID. incoming may be nil when the message could not be
// tokenized; sender and receiver are swapped otherwise.
func BuildAck(incoming *Message, code AckCode, acknowledgedID, controlID, text string, now time.Time) *Message {
	h := Header{
		Timestamp:    now,
		MessageType:  "ACK",
		ControlID:    controlID,
		ProcessingID: "P",
	}
	if incoming != nil {
		if msh, ok := incoming.Header(); ok {
			h.SendingApplication = msh.ReceivingApplication
			h.SendingFacility = msh.ReceivingFacility
			h.ReceivingApplication = msh.SendingApplication
			h.ReceivingFacility = msh.SendingFacility
			h.TriggerEvent = msh.TriggerEvent
			h.ProcessingID = msh.ProcessingID
			h.Version = msh.Version
		}
	}

	msa := NewSegment(SegmentMSA).
		Set(1, string(code)).
		Set(2, acknowledgedID)
	if text != "" {
		msa.Set(3, text)
	}

	return NewMessage(BuildHeader(h), msa.Build())
}
