package ingestion

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"labflow/internal/flagging"
	"labflow/pkg/models"
)

// MemoryStore is the in-process counterpart of PostgresStore, used when no
// database is configured and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	raw      map[string]models.RawMessage
	released map[string]bool
	audits  map[string][]models.IngestAudit
	orders  map[string]models.Order
	items   map[string][]models.OrderItem
	results map[string]models.ParsedResult
	applied []flagging.Applied
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		raw:      make(map[string]models.RawMessage),
		released: make(map[string]bool),
		audits:  make(map[string][]models.IngestAudit),
		orders:  make(map[string]models.Order),
		items:   make(map[string][]models.OrderItem),
		results: make(map[string]models.ParsedResult),
	}
}

func (s *MemoryStore) Claim(_ context.Context, raw models.RawMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.raw[raw.MessageID]; exists && !s.released[raw.MessageID] {
		return false, nil
	}
	s.raw[raw.MessageID] = raw
	delete(s.released, raw.MessageID)
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.raw[messageID]; !exists {
		return fmt.Errorf("failed to release claim: unknown message %s", messageID)
	}
	s.released[messageID] = true
	return nil
}

func (s *MemoryStore) RawMessage(messageID string) (models.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.raw[messageID]
	return raw, ok
}

func (s *MemoryStore) RecordAudit(_ context.Context, audit *models.IngestAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.raw[audit.MessageID]; !exists {
		return fmt.Errorf("failed to insert audit: unknown message %s", audit.MessageID)
	}
	s.audits[audit.MessageID] = append(s.audits[audit.MessageID], *audit)
	return nil
}

func (s *MemoryStore) LatestAudit(_ context.Context, messageID string) (*models.IngestAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	audits := s.audits[messageID]
	if len(audits) == 0 {
		return nil, nil
	}
	latest := audits[len(audits)-1]
	return &latest, nil
}

func (s *MemoryStore) ListAudits(_ context.Context, messageID string) ([]models.IngestAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	audits := s.audits[messageID]
	out := make([]models.IngestAudit, 0, len(audits))
	for i := len(audits) - 1; i >= 0; i-- {
		out = append(out, audits[i])
	}
	return out, nil
}

func (s *MemoryStore) CreateOrder(_ context.Context, order models.Order, items []models.OrderItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	s.orders[order.ID] = order

	stored := make([]models.OrderItem, len(items))
	for i, item := range items {
		item.OrderID = order.ID
		stored[i] = item
	}
	s.items[order.ID] = stored
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, orderID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, nil
	}
	return &order, nil
}

func (s *MemoryStore) GetItems(_ context.Context, orderID string) ([]models.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]models.OrderItem, len(s.items[orderID]))
	copy(items, s.items[orderID])
	return items, nil
}

func (s *MemoryStore) Persist(_ context.Context, batch ResultBatch) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range batch.Results {
		if _, exists := s.results[r.ID]; exists {
			return nil, fmt.Errorf("failed to insert result: duplicate id %s", r.ID)
		}
		if _, exists := s.raw[r.SourceMessageID]; !exists {
			return nil, fmt.Errorf("failed to insert result: unknown message %s", r.SourceMessageID)
		}
	}

	ids := make([]string, 0, len(batch.Results))
	for _, r := range batch.Results {
		s.results[r.ID] = r
		ids = append(ids, r.ID)
	}
	s.applied = append(s.applied, batch.Applied...)
	return ids, nil
}

func (s *MemoryStore) ResultsByMessage(_ context.Context, messageID string) ([]models.ParsedResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []models.ParsedResult
	for _, r := range s.results {
		if r.SourceMessageID == messageID {
			results = append(results, r)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Position < results[j].Position })
	return results, nil
}

func (s *MemoryStore) Applied() []flagging.Applied {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]flagging.Applied, len(s.applied))
	copy(out, s.applied)
	return out
}

func (s *MemoryStore) ResultCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}
