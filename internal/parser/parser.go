// Package parser turns the observation groups of a tokenized result message
// into ParsedResult values resolved against the test catalog.
package parser

import (
	"context"
	"fmt"
	"time"

	"labflow/internal/catalog"
	"labflow/internal/hl7"
	"labflow/pkg/models"
)

type Parser struct {
	lookup catalog.Lookup
}

func New(lookup catalog.Lookup) *Parser {
	return &Parser{lookup: lookup}
}

// Parse returns one result per owned OBX in message order. Analytes the
// catalog does not know are returned with a nil TestCode; lookup failures
// abort the whole parse.
func (p *Parser) Parse(ctx context.Context, msg *hl7.Message, receivedAt time.Time) ([]models.ParsedResult, error) {
	messageID := msg.ControlID()
	var results []models.ParsedResult

	for _, group := range msg.Groups() {
		orderID := group.OrderID()
		requestedAt := parseTime(group.Request.ObservedAt)

		for _, obs := range group.Observations {
			entry, err := catalog.Resolve(ctx, p.lookup, catalogKey(obs.Identifier))
			if err != nil {
				return nil, fmt.Errorf("failed to resolve analyte OBX[%d]: %w", obs.Position, err)
			}

			result := models.ParsedResult{
				OrderID:         orderID,
				ObservationCode: observationCode(obs.Identifier),
				AnalyteName:     analyteName(obs.Identifier),
				ValueText:       obs.Value,
				Unit:            obs.Units,
				ReferenceRange:  obs.ReferenceRange,
				AbnormalFlag:    models.ParseAbnormalFlag(obs.AbnormalFlags),
				Severity:        models.SeverityNone,
				ResultStatus:    models.ParseResultStatus(obs.ResultStatus),
				MeasuredAt:      measuredAt(obs, requestedAt, receivedAt),
				SourceMessageID: messageID,
				Notes:           obs.Notes,
				Position:        obs.Position,
			}

			if entry != nil {
				code := entry.LocalCode
				result.TestCode = &code
				result.CatalogID = entry.ID
				if entry.Name != "" {
					result.AnalyteName = entry.Name
				}
				if result.Unit == "" {
					result.Unit = entry.Unit
				}
			}

			results = append(results, result)
		}
	}

	return results, nil
}

func catalogKey(id hl7.CodedElement) catalog.Key {
	standard := id.AlternateIdentifier
	if standard == "" {
		standard = id.Identifier
	}
	return catalog.Key{
		LocalCode:    id.Identifier,
		StandardCode: standard,
		Name:         id.Text,
	}
}

func observationCode(id hl7.CodedElement) string {
	if id.Identifier != "" {
		return id.Identifier
	}
	return id.AlternateIdentifier
}

func analyteName(id hl7.CodedElement) string {
	if id.Text != "" {
		return id.Text
	}
	return observationCode(id)
}

func measuredAt(obs hl7.Observation, requestedAt *time.Time, receivedAt time.Time) time.Time {
	if t := parseTime(obs.ObservedAt); t != nil {
		return *t
	}
	if requestedAt != nil {
		return *requestedAt
	}
	return receivedAt.UTC()
}

func parseTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := hl7.ParseTimestamp(value)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
