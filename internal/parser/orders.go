package parser

import "labflow/internal/hl7"

// OrderRequest is one requested test recovered from an outbound order
// message.
type OrderRequest struct {
	OrderID      string
	ItemID       string
	TestCode     string
	TestName     string
	CodingSystem string
}

func ParseOrderRequests(msg *hl7.Message) []OrderRequest {
	groups := msg.Groups()
	requests := make([]OrderRequest, 0, len(groups))
	for _, g := range groups {
		requests = append(requests, OrderRequest{
			OrderID:      g.OrderID(),
			ItemID:       g.Request.FillerOrderNumber,
			TestCode:     g.Request.Service.Identifier,
			TestName:     g.Request.Service.Text,
			CodingSystem: g.Request.Service.CodingSystem,
		})
	}
	return requests
}
