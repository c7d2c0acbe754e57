package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"labflow/pkg/metrics"
)

// PostgresRepository reads the test_catalog table.
type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectEntry = `
	SELECT id, local_code, COALESCE(standard_code, ''), COALESCE(coding_system, ''), name, COALESCE(unit, '')
	FROM test_catalog
`

func (r *PostgresRepository) FindByLocalCode(ctx context.Context, code string) (*Entry, error) {
	return r.findOne(ctx, "local_code", selectEntry+`WHERE lower(local_code) = lower($1) ORDER BY created_at LIMIT 1`, code)
}

func (r *PostgresRepository) FindByStandardCode(ctx context.Context, code string) (*Entry, error) {
	return r.findOne(ctx, "standard_code", selectEntry+`WHERE lower(standard_code) = lower($1) ORDER BY created_at LIMIT 1`, code)
}

func (r *PostgresRepository) FindByName(ctx context.Context, name string) (*Entry, error) {
	return r.findOne(ctx, "name", selectEntry+`WHERE lower(name) = lower($1) ORDER BY created_at LIMIT 1`, name)
}

func (r *PostgresRepository) findOne(ctx context.Context, operation, query, arg string) (*Entry, error) {
	start := time.Now()
	var e Entry
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&e.ID, &e.LocalCode, &e.StandardCode, &e.CodingSystem, &e.Name, &e.Unit,
	)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.ObserveDatabaseQuery("catalog", "postgres", operation, time.Since(start), nil)
		return nil, nil
	}
	metrics.ObserveDatabaseQuery("catalog", "postgres", operation, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to query test catalog by %s: %w", operation, err)
	}
	return &e, nil
}

// Upsert inserts or replaces an entry keyed by local code.
func (r *PostgresRepository) Upsert(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	query := `
		INSERT INTO test_catalog (id, local_code, standard_code, coding_system, name, unit, created_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, NULLIF($6, ''), NOW())
		ON CONFLICT (local_code) DO UPDATE SET
			standard_code = EXCLUDED.standard_code,
			coding_system = EXCLUDED.coding_system,
			name = EXCLUDED.name,
			unit = EXCLUDED.unit
		RETURNING id
	`
	if err := r.db.QueryRowContext(ctx, query, e.ID, e.LocalCode, e.StandardCode, e.CodingSystem, e.Name, e.Unit).Scan(&e.ID); err != nil {
		return fmt.Errorf("failed to upsert catalog entry %s: %w", e.LocalCode, err)
	}
	return nil
}
