// Package dispatch builds outbound order messages, sends them to
// instruments and feeds the replies back into ingestion.
package dispatch

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"labflow/internal/hl7"
	"labflow/pkg/models"
)

const (
	orderMessageType  = "ORM"
	orderTriggerEvent = "O01"
)

// Sender identifies both ends of an outbound message. ControlID and
// Timestamp are generated when empty.
type Sender struct {
	SendingApplication   string
	SendingFacility      string
	ReceivingApplication string
	ReceivingFacility    string
	ControlID            string
	Timestamp            time.Time
}

// BuildOrderMessage encodes an order as MSH followed by one OBR per item.
// Every value is escaped, so the message tokenizes back to the same ids and
// codes.
func BuildOrderMessage(order models.Order, items []models.OrderItem, sender Sender) (string, error) {
	if strings.TrimSpace(order.ID) == "" {
		return "", fmt.Errorf("order id is required")
	}
	if len(items) == 0 {
		return "", fmt.Errorf("order %s has no items", order.ID)
	}

	controlID := sender.ControlID
	if controlID == "" {
		controlID = uuid.New().String()
	}
	ts := sender.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	segments := []hl7.Segment{hl7.BuildHeader(hl7.Header{
		SendingApplication:   sender.SendingApplication,
		SendingFacility:      sender.SendingFacility,
		ReceivingApplication: sender.ReceivingApplication,
		ReceivingFacility:    sender.ReceivingFacility,
		Timestamp:            ts,
		MessageType:          orderMessageType,
		TriggerEvent:         orderTriggerEvent,
		ControlID:            controlID,
		ProcessingID:         "P",
		Version:              hl7.DefaultVersion,
	})}

	stamp := hl7.FormatTimestamp(ts)
	for i, item := range items {
		if strings.TrimSpace(item.TestCode) == "" {
			return "", fmt.Errorf("order %s item %d has no test code", order.ID, i+1)
		}
		obr := hl7.NewSegment(hl7.SegmentOBR).
			Set(1, strconv.Itoa(i+1)).
			Set(2, order.ID).
			Set(3, item.ID).
			SetComponents(4, item.TestCode, item.TestName, item.CodingSystem).
			Set(7, stamp)
		segments = append(segments, obr.Build())
	}

	return hl7.NewMessage(segments...).Encode(), nil
}
