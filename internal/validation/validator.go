package validation

import (
	"fmt"
	"strings"

	"labflow/internal/hl7"
	"labflow/pkg/models"
)

// Verdict is the outcome of structural validation. An invalid verdict is
// terminal for the message.
type Verdict struct {
	Valid        bool   `json:"valid"`
	ErrorMessage string `json:"error_message,omitempty"`
	FieldPath    string `json:"field_path,omitempty"`
	FieldValue   string `json:"field_value,omitempty"`
}

type FailedError struct {
	Message    string
	FieldPath  string
	FieldValue string
}

func (e *FailedError) Error() string {
	if e.FieldPath == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed at %s: %s", e.FieldPath, e.Message)
}

// Err returns nil for a valid verdict.
func (v Verdict) Err() error {
	if v.Valid {
		return nil
	}
	return &FailedError{Message: v.ErrorMessage, FieldPath: v.FieldPath, FieldValue: v.FieldValue}
}

func ok() Verdict {
	return Verdict{Valid: true}
}

func fail(path, value, format string, args ...interface{}) Verdict {
	return Verdict{
		Valid:        false,
		ErrorMessage: fmt.Sprintf(format, args...),
		FieldPath:    path,
		FieldValue:   value,
	}
}

func path(code string, position, field int) string {
	if field == 0 {
		return fmt.Sprintf("%s[%d]", code, position)
	}
	return fmt.Sprintf("%s[%d]-%d", code, position, field)
}

// Validate runs the structural checks in order and stops at the first
// failure. expectedOrderID is compared against every order segment when set.
func Validate(msg *hl7.Message, expectedOrderID string) Verdict {
	if msg == nil || len(msg.Segments) == 0 {
		return fail("MSH", "", "message has no segments")
	}

	if v := checkHeader(msg); !v.Valid {
		return v
	}
	if v := checkObservationGroups(msg); !v.Valid {
		return v
	}
	if v := checkObservationFields(msg); !v.Valid {
		return v
	}
	if expectedOrderID != "" {
		if v := checkOrderReference(msg, expectedOrderID); !v.Valid {
			return v
		}
	}
	return ok()
}

func checkHeader(msg *hl7.Message) Verdict {
	first := msg.Segments[0]
	if first.Code != hl7.SegmentMSH {
		if _, present := msg.First(hl7.SegmentMSH); present {
			return fail("MSH", first.Code, "header segment must be the first segment, found %s", first.Code)
		}
		return fail("MSH", "", "header segment MSH is missing")
	}
	return ok()
}

func checkObservationGroups(msg *hl7.Message) Verdict {
	var (
		obrCount int
		obxCount int
	)
	for _, seg := range msg.Segments {
		switch seg.Code {
		case hl7.SegmentOBR:
			obrCount++
		case hl7.SegmentOBX:
			obxCount++
			if obrCount == 0 {
				return fail(path(hl7.SegmentOBX, obxCount, 0), seg.Encode(), "observation segment is not preceded by an order segment")
			}
		}
	}
	if obrCount == 0 {
		return fail(hl7.SegmentOBR, "", "message has no order segment")
	}
	if obxCount == 0 {
		return fail(hl7.SegmentOBX, "", "message has no observation segment")
	}
	return ok()
}

func checkObservationFields(msg *hl7.Message) Verdict {
	for i, seg := range msg.Find(hl7.SegmentOBX) {
		position := i + 1
		obx, _ := seg.OBX()

		if obx.Identifier.Empty() {
			raw, _ := seg.Field(3)
			return fail(path(hl7.SegmentOBX, position, 3), raw, "observation identifier is required")
		}
		if raw, _ := seg.Field(5); strings.TrimSpace(raw) == "" {
			return fail(path(hl7.SegmentOBX, position, 5), raw, "observation value is required")
		}
		if obx.Units == "" {
			raw, _ := seg.Field(6)
			return fail(path(hl7.SegmentOBX, position, 6), raw, "observation units are required")
		}
	}
	return ok()
}

func checkOrderReference(msg *hl7.Message, expectedOrderID string) Verdict {
	for _, group := range msg.Groups() {
		if got := group.OrderID(); got != expectedOrderID {
			return fail(path(hl7.SegmentOBR, group.Position, 2), got, "order id %q does not match expected order %q", got, expectedOrderID)
		}
	}
	return ok()
}

// IsFinalResult reports whether an OBX-11 status closes out a result.
func IsFinalResult(status models.ResultStatus) bool {
	switch status {
	case models.StatusFinal:
		return true
	case models.StatusPreliminary, models.StatusCorrected, models.StatusPartial,
		models.StatusCancelled, models.StatusPending, models.StatusWrong, models.StatusUnknown:
		return false
	}
	return false
}
