package ingestion

import (
	"context"
	"time"

	"labflow/internal/flagging"
	"labflow/internal/hl7"
	"labflow/pkg/models"
)

// Ledger is the idempotency gate. Claim inserts the raw message unless its
// id is already present and reports whether this call inserted it. A
// released id can be claimed once more; Release is only called for runs
// that committed no results.
type Ledger interface {
	Claim(ctx context.Context, raw models.RawMessage) (bool, error)
	Release(ctx context.Context, messageID string) error
}

type AuditStore interface {
	RecordAudit(ctx context.Context, audit *models.IngestAudit) error
	// LatestAudit returns nil when the message has no audit yet.
	LatestAudit(ctx context.Context, messageID string) (*models.IngestAudit, error)
	ListAudits(ctx context.Context, messageID string) ([]models.IngestAudit, error)
}

// OrderStore reads orders owned by the order-management system. GetOrder
// returns nil for an unknown id.
type OrderStore interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	GetItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
}

// ResultBatch is everything one run writes in a single transaction.
type ResultBatch struct {
	Results []models.ParsedResult
	Applied []flagging.Applied
}

// ResultStore writes a batch atomically and returns the stored result ids.
type ResultStore interface {
	Persist(ctx context.Context, batch ResultBatch) ([]string, error)
}

type Publisher interface {
	Publish(ctx context.Context, event models.ResultEvent) error
}

type SnapshotSource interface {
	Current(ctx context.Context) (flagging.Snapshot, error)
}

type ResultParser interface {
	Parse(ctx context.Context, msg *hl7.Message, receivedAt time.Time) ([]models.ParsedResult, error)
}

type Flagger interface {
	Apply(ctx context.Context, result models.ParsedResult, rules []flagging.Rule) flagging.Decision
}

// QuarantineSink mirrors quarantined messages for operators. Failures are
// logged and never change the outcome.
type QuarantineSink interface {
	Quarantine(ctx context.Context, record models.QuarantineRecord) error
}

// Archiver keeps a copy of every claimed raw message. Best-effort.
type Archiver interface {
	Archive(ctx context.Context, raw models.RawMessage) error
}
