package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trading-control-plane/internal/tuning"
)

// SnapshotRepository is the durable tuning.SnapshotStore backed by the
// snapshots table.
type SnapshotRepository struct {
	db *DB
}

// NewSnapshotRepository creates a repository over db.
func NewSnapshotRepository(db *DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Save persists a snapshot. Snapshots are immutable; there is no update
// path.
func (r *SnapshotRepository) Save(ctx context.Context, snap tuning.Snapshot) error {
	parameters, err := json.Marshal(snap.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot parameters: %w", err)
	}
	performance, err := json.Marshal(snap.Performance)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot performance: %w", err)
	}

	_, err = r.db.Pool.Exec(ctx,
		`INSERT INTO snapshots (id, created_at, parameters, performance)
		 VALUES ($1, $2, $3, $4)`,
		snap.ID, snap.Timestamp, parameters, performance,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// List returns snapshots newest-first, at most limit.
func (r *SnapshotRepository) List(ctx context.Context, limit int) ([]tuning.Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, created_at, parameters, performance
		 FROM snapshots ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []tuning.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// GetByID returns one snapshot, or nil when it does not exist.
func (r *SnapshotRepository) GetByID(ctx context.Context, id string) (*tuning.Snapshot, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT id, created_at, parameters, performance
		 FROM snapshots WHERE id = $1`, id)
	return snapshotOrNil(row)
}

// Latest returns the most recent snapshot, or nil when none exist.
func (r *SnapshotRepository) Latest(ctx context.Context) (*tuning.Snapshot, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT id, created_at, parameters, performance
		 FROM snapshots ORDER BY created_at DESC LIMIT 1`)
	return snapshotOrNil(row)
}

func snapshotOrNil(row pgx.Row) (*tuning.Snapshot, error) {
	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &snap, nil
}

func scanSnapshot(row pgx.Row) (tuning.Snapshot, error) {
	var snap tuning.Snapshot
	var parameters, performance []byte

	err := row.Scan(&snap.ID, &snap.Timestamp, &parameters, &performance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return snap, err
		}
		return snap, fmt.Errorf("failed to scan snapshot: %w", err)
	}
	if err := json.Unmarshal(parameters, &snap.Parameters); err != nil {
		return snap, fmt.Errorf("failed to unmarshal snapshot parameters: %w", err)
	}
	if err := json.Unmarshal(performance, &snap.Performance); err != nil {
		return snap, fmt.Errorf("failed to unmarshal snapshot performance: %w", err)
	}
	return snap, nil
}
