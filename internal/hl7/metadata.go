package hl7

import "time"

// Metadata is the correlation data carried by the message header.
type Metadata struct {
	MessageID            string    `json:"message_id"`
	SendingApplication   string    `json:"sending_application"`
	SendingFacility      string    `json:"sending_facility"`
	ReceivingApplication string    `json:"receiving_application"`
	ReceivingFacility    string    `json:"receiving_facility"`
	MessageType          string    `json:"message_type"`
	TriggerEvent         string    `json:"trigger_event"`
	Version              string    `json:"version"`
	SentAt               time.Time `json:"sent_at,omitempty"`
}

// ExtractMetadata reads fixed MSH offsets. Missing fields are left empty.
func ExtractMetadata(msg *Message) Metadata {
	if msg == nil {
		return Metadata{}
	}
	msh, ok := msg.Header()
	if !ok {
		return Metadata{}
	}

	md := Metadata{
		MessageID:            msh.ControlID,
		SendingApplication:   msh.SendingApplication,
		SendingFacility:      msh.SendingFacility,
		ReceivingApplication: msh.ReceivingApplication,
		ReceivingFacility:    msh.ReceivingFacility,
		MessageType:          msh.MessageType,
		TriggerEvent:         msh.TriggerEvent,
		Version:              msh.Version,
	}
	if ts, err := ParseTimestamp(msh.Timestamp); err == nil {
		md.SentAt = ts
	}
	return md
}
