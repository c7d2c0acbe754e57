package ingestion

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"labflow/pkg/metrics"
	"labflow/pkg/models"
)

// PostgresStore backs the ledger, audits, orders and results with one
// database. The ledger claim relies on the raw_messages primary key; a
// released row is taken over by the conflict branch of the same insert.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Claim(ctx context.Context, raw models.RawMessage) (bool, error) {
	start := time.Now()
	query := `
		INSERT INTO raw_messages (message_id, raw_text, received_at, released)
		VALUES ($1, $2, $3, FALSE)
		ON CONFLICT (message_id) DO UPDATE
		SET raw_text = EXCLUDED.raw_text,
		    received_at = EXCLUDED.received_at,
		    released = FALSE
		WHERE raw_messages.released
	`
	res, err := s.db.ExecContext(ctx, query, raw.MessageID, raw.RawText, raw.ReceivedAt)
	metrics.ObserveDatabaseQuery("ingestion", "postgres", "claim", time.Since(start), err)
	if err != nil {
		return false, fmt.Errorf("failed to insert raw message: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}
	return affected == 1, nil
}

func (s *PostgresStore) Release(ctx context.Context, messageID string) error {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, `UPDATE raw_messages SET released = TRUE WHERE message_id = $1`, messageID)
	metrics.ObserveDatabaseQuery("ingestion", "postgres", "release", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to release claim on %s: %w", messageID, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("failed to release claim: unknown message %s", messageID)
	}
	return nil
}

func (s *PostgresStore) RecordAudit(ctx context.Context, audit *models.IngestAudit) error {
	resultIDs, err := json.Marshal(nonNilStrings(audit.ResultIDs))
	if err != nil {
		return fmt.Errorf("failed to marshal result ids: %w", err)
	}
	warnings := audit.Warnings
	if warnings == nil {
		warnings = []models.Warning{}
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}

	start := time.Now()
	query := `
		INSERT INTO result_ingest_audits
			(id, message_id, outcome, result_ids, quarantine_reason, field_path, field_value, warnings, error, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(ctx, query,
		audit.ID,
		audit.MessageID,
		string(audit.Outcome),
		resultIDs,
		audit.QuarantineReason,
		audit.FieldPath,
		audit.FieldValue,
		warningsJSON,
		audit.Error,
		audit.ProcessedAt,
	)
	metrics.ObserveDatabaseQuery("ingestion", "postgres", "record_audit", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to insert audit: %w", err)
	}
	return nil
}

const selectAudit = `
	SELECT id, message_id, outcome, result_ids, quarantine_reason, field_path, field_value, warnings, error, processed_at
	FROM result_ingest_audits
	WHERE message_id = $1
	ORDER BY processed_at DESC
`

func scanAudit(row interface{ Scan(...interface{}) error }) (*models.IngestAudit, error) {
	var (
		a            models.IngestAudit
		outcome      string
		resultIDs    []byte
		warningsJSON []byte
	)
	err := row.Scan(
		&a.ID,
		&a.MessageID,
		&outcome,
		&resultIDs,
		&a.QuarantineReason,
		&a.FieldPath,
		&a.FieldValue,
		&warningsJSON,
		&a.Error,
		&a.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Outcome = models.AuditOutcome(outcome)

	if err := json.Unmarshal(resultIDs, &a.ResultIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result ids: %w", err)
	}
	if len(warningsJSON) > 0 {
		if err := json.Unmarshal(warningsJSON, &a.Warnings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
		}
	}
	return &a, nil
}

func (s *PostgresStore) LatestAudit(ctx context.Context, messageID string) (*models.IngestAudit, error) {
	a, err := scanAudit(s.db.QueryRowContext(ctx, selectAudit+`LIMIT 1`, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest audit: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListAudits(ctx context.Context, messageID string) ([]models.IngestAudit, error) {
	rows, err := s.db.QueryContext(ctx, selectAudit, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audits: %w", err)
	}
	defer rows.Close()

	audits := make([]models.IngestAudit, 0)
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit: %w", err)
		}
		audits = append(audits, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return audits, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var o models.Order
	query := `SELECT id, instrument_ref, placed_at FROM lab_orders WHERE id = $1`
	err := s.db.QueryRowContext(ctx, query, orderID).Scan(&o.ID, &o.InstrumentRef, &o.PlacedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &o, nil
}

func (s *PostgresStore) GetItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	query := `
		SELECT id, order_id, test_code, test_name, coding_system
		FROM lab_order_items
		WHERE order_id = $1
		ORDER BY position, id
	`
	rows, err := s.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.TestCode, &item.TestName, &item.CodingSystem); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return items, nil
}

// CreateOrder stores an order with its items. Orders belong to the
// order-management system; this exists for seeding and tests.
func (s *PostgresStore) CreateOrder(ctx context.Context, order models.Order, items []models.OrderItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if order.PlacedAt.IsZero() {
		order.PlacedAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO lab_orders (id, instrument_ref, placed_at) VALUES ($1, $2, $3)`,
		order.ID, order.InstrumentRef, order.PlacedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i, item := range items {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO lab_order_items (id, order_id, test_code, test_name, coding_system, position)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			item.ID, order.ID, item.TestCode, item.TestName, item.CodingSystem, i+1,
		)
		if err != nil {
			return fmt.Errorf("failed to insert order item %s: %w", item.ID, err)
		}
	}

	return tx.Commit()
}

// Persist writes results and their applied flagging records in one
// transaction. Nothing is written when any insert fails.
func (s *PostgresStore) Persist(ctx context.Context, batch ResultBatch) ([]string, error) {
	start := time.Now()
	ids, err := s.persist(ctx, batch)
	metrics.ObserveDatabaseQuery("ingestion", "postgres", "persist_results", time.Since(start), err)
	return ids, err
}

func (s *PostgresStore) persist(ctx context.Context, batch ResultBatch) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	resultQuery := `
		INSERT INTO test_results
			(id, order_id, item_id, test_code, catalog_id, analyte_name, observation_code, value_text,
			 unit, reference_range, abnormal_flag, severity, result_status, measured_at, source_message_id, notes, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	ids := make([]string, 0, len(batch.Results))
	for _, r := range batch.Results {
		notes, err := json.Marshal(nonNilStrings(r.Notes))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal notes: %w", err)
		}

		var itemID sql.NullString
		if r.ItemID != nil {
			itemID = sql.NullString{String: *r.ItemID, Valid: true}
		}

		_, err = tx.ExecContext(ctx, resultQuery,
			r.ID,
			r.OrderID,
			itemID,
			*r.TestCode,
			r.CatalogID,
			r.AnalyteName,
			r.ObservationCode,
			r.ValueText,
			r.Unit,
			r.ReferenceRange,
			string(r.AbnormalFlag),
			string(r.Severity),
			string(r.ResultStatus),
			r.MeasuredAt,
			r.SourceMessageID,
			notes,
			r.Position,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert result OBX[%d]: %w", r.Position, err)
		}
		ids = append(ids, r.ID)
	}

	appliedQuery := `
		INSERT INTO flagging_applied (id, result_id, rule_id, config_version_id, applied_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, a := range batch.Applied {
		_, err := tx.ExecContext(ctx, appliedQuery, a.ID, a.ResultID, a.RuleID, a.ConfigVersionID, a.AppliedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert flagging applied record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit results: %w", err)
	}
	return ids, nil
}

// ResultsByMessage returns the stored results of one message in OBX order.
func (s *PostgresStore) ResultsByMessage(ctx context.Context, messageID string) ([]models.ParsedResult, error) {
	query := `
		SELECT id, order_id, item_id, test_code, catalog_id, analyte_name, observation_code, value_text,
		       unit, reference_range, abnormal_flag, severity, result_status, measured_at, source_message_id, notes, position
		FROM test_results
		WHERE source_message_id = $1
		ORDER BY position
	`
	rows, err := s.db.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []models.ParsedResult
	for rows.Next() {
		var (
			r        models.ParsedResult
			itemID   sql.NullString
			testCode string
			flag     string
			severity string
			status   string
			notes    []byte
		)
		err := rows.Scan(&r.ID, &r.OrderID, &itemID, &testCode, &r.CatalogID, &r.AnalyteName,
			&r.ObservationCode, &r.ValueText, &r.Unit, &r.ReferenceRange, &flag, &severity, &status,
			&r.MeasuredAt, &r.SourceMessageID, &notes, &r.Position)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if itemID.Valid {
			id := itemID.String
			r.ItemID = &id
		}
		r.TestCode = &testCode
		r.AbnormalFlag = models.AbnormalFlag(flag)
		r.Severity = models.Severity(severity)
		r.ResultStatus = models.ResultStatus(status)
		if err := json.Unmarshal(notes, &r.Notes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notes: %w", err)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return results, nil
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
