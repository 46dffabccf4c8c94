package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trading-control-plane/internal/tuning"
)

// AuditRepository is the durable tuning.AuditStore backed by the
// audit_entries table. Rows are inserted once and never updated.
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a repository over db.
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts a new audit entry.
func (r *AuditRepository) Append(ctx context.Context, entry tuning.AuditEntry) error {
	oldValue, err := json.Marshal(entry.OldValue)
	if err != nil {
		return fmt.Errorf("failed to marshal old value: %w", err)
	}
	newValue, err := json.Marshal(entry.NewValue)
	if err != nil {
		return fmt.Errorf("failed to marshal new value: %w", err)
	}

	_, err = r.db.Pool.Exec(ctx,
		`INSERT INTO audit_entries (
			id, created_at, parameter_key, tier, old_value, new_value,
			reasoning, source, approved_by, snapshot_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.Timestamp, entry.ParameterKey, string(entry.Tier),
		oldValue, newValue, entry.Reasoning, string(entry.Source),
		nilIfEmpty(entry.ApprovedBy), entry.SnapshotID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Query returns entries most-recent-first, honoring the filter.
func (r *AuditRepository) Query(ctx context.Context, filter tuning.AuditFilter) ([]tuning.AuditEntry, error) {
	query := `
		SELECT id, created_at, parameter_key, tier, old_value, new_value,
			reasoning, source, approved_by, snapshot_id
		FROM audit_entries
		WHERE ($1 = '' OR tier = $1)
		  AND ($2 = '' OR parameter_key = $2)
		ORDER BY created_at DESC
		LIMIT $3`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Pool.Query(ctx, query, string(filter.Tier), filter.ParameterKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []tuning.AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// LastForParameter returns the most recent entry for key, or nil.
func (r *AuditRepository) LastForParameter(ctx context.Context, key string) (*tuning.AuditEntry, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT id, created_at, parameter_key, tier, old_value, new_value,
			reasoning, source, approved_by, snapshot_id
		FROM audit_entries
		WHERE parameter_key = $1
		ORDER BY created_at DESC
		LIMIT 1`, key)

	entry, err := scanAuditEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func scanAuditEntry(row pgx.Row) (tuning.AuditEntry, error) {
	var entry tuning.AuditEntry
	var tier, source string
	var oldValue, newValue []byte
	var approvedBy *string

	err := row.Scan(&entry.ID, &entry.Timestamp, &entry.ParameterKey, &tier,
		&oldValue, &newValue, &entry.Reasoning, &source, &approvedBy, &entry.SnapshotID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entry, err
		}
		return entry, fmt.Errorf("failed to scan audit entry: %w", err)
	}

	entry.Tier = tuning.Tier(tier)
	entry.Source = tuning.Source(source)
	if approvedBy != nil {
		entry.ApprovedBy = *approvedBy
	}
	if err := json.Unmarshal(oldValue, &entry.OldValue); err != nil {
		return entry, fmt.Errorf("failed to unmarshal old value: %w", err)
	}
	if err := json.Unmarshal(newValue, &entry.NewValue); err != nil {
		return entry, fmt.Errorf("failed to unmarshal new value: %w", err)
	}
	return entry, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
