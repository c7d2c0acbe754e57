package flagging

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"labflow/pkg/metrics"
	"labflow/pkg/models"
)

// Repository is what the ingestion side needs to build a snapshot.
type Repository interface {
	CurrentVersion(ctx context.Context) (*ConfigVersion, error)
	GetRules(ctx context.Context, versionID string) ([]Rule, error)
}

// Store adds the write side used by the management API.
type Store interface {
	Repository
	CreateVersion(ctx context.Context, version *ConfigVersion) error
	GetVersion(ctx context.Context, id string) (*ConfigVersion, error)
	ListVersions(ctx context.Context, limit int) ([]ConfigVersion, error)
	AddRule(ctx context.Context, rule *Rule) error
	Activate(ctx context.Context, id string, at time.Time) (*ConfigVersion, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectVersion = `
	SELECT id, name, description, created_at, activated_at
	FROM flagging_config_versions
`

func scanVersion(row interface{ Scan(...interface{}) error }) (*ConfigVersion, error) {
	var (
		v           ConfigVersion
		activatedAt sql.NullTime
	)
	if err := row.Scan(&v.ID, &v.Name, &v.Description, &v.CreatedAt, &activatedAt); err != nil {
		return nil, err
	}
	if activatedAt.Valid {
		t := activatedAt.Time
		v.ActivatedAt = &t
	}
	return &v, nil
}

func (r *PostgresRepository) CurrentVersion(ctx context.Context) (*ConfigVersion, error) {
	start := time.Now()
	query := selectVersion + `
		WHERE activated_at IS NOT NULL
		ORDER BY activated_at DESC
		LIMIT 1
	`
	v, err := scanVersion(r.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		metrics.ObserveDatabaseQuery("flagging", "postgres", "current_version", time.Since(start), nil)
		return nil, nil
	}
	metrics.ObserveDatabaseQuery("flagging", "postgres", "current_version", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to get current flagging version: %w", err)
	}
	return v, nil
}

func (r *PostgresRepository) GetVersion(ctx context.Context, id string) (*ConfigVersion, error) {
	v, err := scanVersion(r.db.QueryRowContext(ctx, selectVersion+`WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flagging version: %w", err)
	}
	return v, nil
}

func (r *PostgresRepository) ListVersions(ctx context.Context, limit int) ([]ConfigVersion, error) {
	rows, err := r.db.QueryContext(ctx, selectVersion+`ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query flagging versions: %w", err)
	}
	defer rows.Close()

	var versions []ConfigVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flagging version: %w", err)
		}
		versions = append(versions, *v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return versions, nil
}

func (r *PostgresRepository) CreateVersion(ctx context.Context, version *ConfigVersion) error {
	if version.ID == "" {
		version.ID = uuid.New().String()
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO flagging_config_versions (id, name, description, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.db.ExecContext(ctx, query, version.ID, version.Name, version.Description, version.CreatedAt); err != nil {
		return fmt.Errorf("failed to create flagging version: %w", err)
	}
	return nil
}

// Activate stamps the version with at, making it current. It returns nil
// when the version does not exist.
func (r *PostgresRepository) Activate(ctx context.Context, id string, at time.Time) (*ConfigVersion, error) {
	query := `
		UPDATE flagging_config_versions
		SET activated_at = $2
		WHERE id = $1
		RETURNING id, name, description, created_at, activated_at
	`
	v, err := scanVersion(r.db.QueryRowContext(ctx, query, id, at))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to activate flagging version: %w", err)
	}
	return v, nil
}

func (r *PostgresRepository) AddRule(ctx context.Context, rule *Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	ordinals, err := json.Marshal(nonNil(rule.OrdinalValues))
	if err != nil {
		return fmt.Errorf("failed to marshal ordinal values: %w", err)
	}

	query := `
		INSERT INTO flagging_rules (
			id, config_version_id, analyte_match, comparator, threshold, threshold_high,
			ordinal_values, expression, resulting_flag, severity, position, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.db.ExecContext(ctx, query,
		rule.ID, rule.ConfigVersionID, rule.AnalyteMatch, string(rule.Comparator),
		nullFloat(rule.Threshold), nullFloat(rule.ThresholdHigh),
		ordinals, rule.Expression, string(rule.ResultingFlag), string(rule.Severity),
		rule.Position, rule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add flagging rule: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetRules(ctx context.Context, versionID string) ([]Rule, error) {
	start := time.Now()
	query := `
		SELECT id, config_version_id, analyte_match, comparator, threshold, threshold_high,
			ordinal_values, expression, resulting_flag, severity, position, created_at
		FROM flagging_rules
		WHERE config_version_id = $1
		ORDER BY position ASC, created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, versionID)
	metrics.ObserveDatabaseQuery("flagging", "postgres", "get_rules", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to query flagging rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var (
			rule          Rule
			comparator    string
			flag          string
			severity      string
			threshold     sql.NullFloat64
			thresholdHigh sql.NullFloat64
			ordinals      []byte
		)
		if err := rows.Scan(
			&rule.ID, &rule.ConfigVersionID, &rule.AnalyteMatch, &comparator,
			&threshold, &thresholdHigh, &ordinals, &rule.Expression,
			&flag, &severity, &rule.Position, &rule.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan flagging rule: %w", err)
		}
		rule.Comparator = Comparator(comparator)
		rule.ResultingFlag = models.AbnormalFlag(flag)
		rule.Severity = models.Severity(severity)
		if threshold.Valid {
			v := threshold.Float64
			rule.Threshold = &v
		}
		if thresholdHigh.Valid {
			v := thresholdHigh.Float64
			rule.ThresholdHigh = &v
		}
		if len(ordinals) > 0 {
			if err := json.Unmarshal(ordinals, &rule.OrdinalValues); err != nil {
				return nil, fmt.Errorf("failed to decode ordinal values of rule %s: %w", rule.ID, err)
			}
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return rules, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
